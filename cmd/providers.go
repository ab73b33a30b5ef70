package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/samber/do"

	"feedback-relay/handler"
	"feedback-relay/internal/config"
	"feedback-relay/internal/integrations/line"
	"feedback-relay/internal/integrations/openai"
	"feedback-relay/internal/integrations/paramstore"
	"feedback-relay/internal/integrations/sheets"
	"feedback-relay/internal/repository"
	"feedback-relay/internal/usecase"
)

func provide(di *do.Injector) {
	do.Provide(di, newAWSConfig)
	do.Provide(di, newParamGetter)
	do.Provide(di, newStateStore)
	do.Provide(di, newGenerator)
	do.Provide(di, newSheetsClient)
	do.Provide(di, newLineClient)
	do.Provide(di, newTurnService)
	do.Provide(di, newHandler)
}

func newAWSConfig(di *do.Injector) (aws.Config, error) {
	ctx := do.MustInvoke[context.Context](di)
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	return cfg, nil
}

func newParamGetter(di *do.Injector) (paramstore.Getter, error) {
	cfg := do.MustInvoke[*config.Config](di)

	if cfg.Params.Source == config.ParamsEnv {
		secrets := cfg.Params.Secrets
		return paramstore.Static{
			cfg.Params.TokenParam(config.LineTokenName):   secrets.LineChannelToken,
			cfg.Params.TokenParam(config.OpenAITokenName): secrets.OpenAIKey,
			cfg.Params.TokenParam(config.SheetsTokenName): secrets.SheetsToken,
		}, nil
	}

	awsCfg, err := do.Invoke[aws.Config](di)
	if err != nil {
		return nil, err
	}
	return paramstore.New(awsssm.NewFromConfig(awsCfg))
}

func newStateStore(di *do.Injector) (usecase.StateStore, error) {
	cfg := do.MustInvoke[*config.Config](di)

	switch cfg.State.Backend {
	case config.BackendDynamoDB:
		awsCfg, err := do.Invoke[aws.Config](di)
		if err != nil {
			return nil, err
		}
		return repository.NewDynamoStore(awsdynamodb.NewFromConfig(awsCfg), cfg.State.Table)
	case config.BackendSQLite:
		return repository.NewSQLiteStore(cfg.State.SQLitePath)
	default:
		return repository.NewMemoryStore(), nil
	}
}

func newGenerator(di *do.Injector) (usecase.FeedbackGenerator, error) {
	cfg := do.MustInvoke[*config.Config](di)
	params := do.MustInvoke[paramstore.Getter](di)

	opts := []openai.Option{
		openai.WithBaseURL(cfg.OpenAI.BaseURL),
		openai.WithMaxTokens(cfg.OpenAI.MaxTokens),
	}
	if cfg.OpenAI.Temperature != nil {
		opts = append(opts, openai.WithTemperature(*cfg.OpenAI.Temperature))
	}

	client, err := openai.NewClient(params, cfg.Params.TokenParam(config.OpenAITokenName), opts...)
	if err != nil {
		return nil, err
	}
	return openai.NewGenerator(client, cfg.OpenAI.Model, cfg.OpenAI.SystemPrompt)
}

func newSheetsClient(di *do.Injector) (usecase.FeedbackStore, error) {
	cfg := do.MustInvoke[*config.Config](di)

	var opts []sheets.Option
	if cfg.Sheets.UseToken {
		params := do.MustInvoke[paramstore.Getter](di)
		opts = append(opts, sheets.WithToken(params, cfg.Params.TokenParam(config.SheetsTokenName)))
	}
	return sheets.NewClient(cfg.Sheets.Endpoint, opts...)
}

func newLineClient(di *do.Injector) (usecase.ReplyDeliverer, error) {
	cfg := do.MustInvoke[*config.Config](di)
	params := do.MustInvoke[paramstore.Getter](di)

	return line.NewClient(params, cfg.Params.TokenParam(config.LineTokenName), line.WithBaseURL(cfg.Line.BaseURL))
}

func newTurnService(di *do.Injector) (*usecase.TurnService, error) {
	cfg := do.MustInvoke[*config.Config](di)
	conv := cfg.Conversation

	return usecase.NewTurnService(
		do.MustInvoke[usecase.FeedbackGenerator](di),
		do.MustInvoke[usecase.FeedbackStore](di),
		do.MustInvoke[usecase.ReplyDeliverer](di),
		do.MustInvoke[usecase.StateStore](di),
		usecase.Options{
			Question:    conv.Question,
			ChoiceCount: conv.ChoiceCount,
			Timeout:     conv.Timeout,
			Texts: usecase.Texts{
				Label:              conv.Texts.Label,
				SelectPlaceholder:  conv.Texts.SelectPlaceholder,
				GenerationFallback: conv.Texts.GenerationFallback,
				StoreFallback:      conv.Texts.StoreFallback,
				ReasonPrompt:       conv.Texts.ReasonPrompt,
				ElicitationMarker:  conv.Texts.ElicitationMarker,
			},
		},
	)
}

func newHandler(di *do.Injector) (*handler.Handler, error) {
	turns, err := do.Invoke[*usecase.TurnService](di)
	if err != nil {
		return nil, err
	}
	return handler.NewHandler(turns)
}
