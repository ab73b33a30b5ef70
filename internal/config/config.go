// Package config loads the relay configuration from an optional YAML file
// and environment variables. Environment variables win over the file.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

const (
	ModeServer = "server"
	ModeLambda = "lambda"

	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
	BackendSQLite   = "sqlite"

	ParamsSSM = "ssm"
	ParamsEnv = "env"
)

type Config struct {
	// Run as a long-lived HTTP server or as an AWS Lambda handler
	Mode         string       `yaml:"mode" example:"server" validate:"required,oneof=server lambda"`
	Server       Server       `yaml:"server"`
	State        State        `yaml:"state"`
	Params       Params       `yaml:"params"`
	Line         Line         `yaml:"line"`
	OpenAI       OpenAI       `yaml:"openai"`
	Sheets       Sheets       `yaml:"sheets"`
	Conversation Conversation `yaml:"conversation"`
	Log          Log          `yaml:"log"`
}

type Server struct {
	// Listen address of the webhook server
	Addr            string        `yaml:"addr" example:":8080" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" example:"10s"`
}

type State struct {
	// Conversation state backend
	Backend string `yaml:"backend" example:"memory" validate:"required,oneof=memory dynamodb sqlite"`
	// DynamoDB table, required for the dynamodb backend
	Table string `yaml:"table" example:"feedback-relay-state" validate:"required_if=Backend dynamodb"`
	// SQLite database file, required for the sqlite backend
	SQLitePath string `yaml:"sqlite_path" example:"state.db" validate:"required_if=Backend sqlite"`
}

type Params struct {
	// Where secrets come from: SSM Parameter Store or environment variables
	Source string `yaml:"source" example:"ssm" validate:"required,oneof=ssm env"`
	// Prefix of every SSM parameter name
	Prefix string `yaml:"prefix" example:"/feedback-relay" validate:"required,startswith=/"`
	// Secret values used when Source is env. Never read from the YAML file.
	Secrets Secrets `yaml:"-"`
}

type Secrets struct {
	LineChannelToken string
	OpenAIKey        string
	SheetsToken      string
}

type Line struct {
	// Messaging API base url
	BaseURL string `yaml:"base_url" example:"https://api.line.me" validate:"required,url"`
}

type OpenAI struct {
	// OpenAI compatible base url
	BaseURL string `yaml:"base_url" example:"https://api.openai.com/v1" validate:"required,url"`
	Model   string `yaml:"model" example:"gpt-3.5-turbo" validate:"required"`
	// System message sent with every generation request
	SystemPrompt string   `yaml:"system_prompt"`
	Temperature  *float64 `yaml:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens    int      `yaml:"max_tokens" validate:"gte=0"`
}

type Sheets struct {
	// Log endpoint receiving every answer
	Endpoint string `yaml:"endpoint" example:"https://script.google.com/macros/s/abc/exec" validate:"required,url"`
	// Send a bearer token read from the parameter store
	UseToken bool `yaml:"use_token"`
}

type Conversation struct {
	// Question attached to every non-reason answer
	Question    string `yaml:"question" example:"Which plan do you prefer? 1, 2 or 3" validate:"required"`
	ChoiceCount int    `yaml:"choice_count" example:"3" validate:"gte=1"`
	// Timeout of every call to the generator, the log endpoint and the reply API
	Timeout time.Duration `yaml:"timeout" example:"10s" validate:"gt=0"`
	Texts   Texts         `yaml:"texts"`
}

// Texts overrides the fixed reply strings. Empty fields keep the built-in
// defaults.
type Texts struct {
	Label              string `yaml:"label"`
	SelectPlaceholder  string `yaml:"select_placeholder"`
	GenerationFallback string `yaml:"generation_fallback"`
	StoreFallback      string `yaml:"store_fallback"`
	ReasonPrompt       string `yaml:"reason_prompt"`
	ElicitationMarker  string `yaml:"elicitation_marker"`
}

type Log struct {
	Level string `yaml:"level" example:"info" validate:"oneof=debug info warn error"`
	// Emit JSON lines instead of colored console output
	JSON     bool        `yaml:"json"`
	Telegram TelegramLog `yaml:"telegram"`
}

type TelegramLog struct {
	// Chat bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789"`
	// Chat ID to send messages to
	ChatID string `yaml:"chat_id" example:"1001234567890" validate:"required_with=Token"`
}

// TokenParam returns the full parameter name of a secret, e.g.
// TokenParam("open-ai-token") == "/feedback-relay/open-ai-token".
func (p Params) TokenParam(name string) string {
	return strings.TrimRight(p.Prefix, "/") + "/" + name
}

const (
	LineTokenName   = "line-channel-token"
	OpenAITokenName = "open-ai-token"
	SheetsTokenName = "sheets-token"
)

// Load reads CONFIG_FILE (default config.yaml) when it exists, applies
// environment overrides and defaults and validates the result.
func Load() (*Config, error) {
	var result Config

	path := os.Getenv("CONFIG_FILE")
	explicit := path != ""
	if !explicit {
		path = "config.yaml"
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err = yaml.Unmarshal(data, &result); err != nil {
			return nil, oops.In("config").With("path", path).Wrapf(err, "failed to parse YAML config")
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, oops.In("config").With("path", path).Wrapf(err, "failed to read config file")
	}

	if err = applyEnv(&result); err != nil {
		return nil, err
	}
	applyDefaults(&result)

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(result); err != nil {
		return nil, oops.In("config").Wrapf(err, "failed to validate config")
	}

	if result.Params.Source == ParamsEnv {
		if err := result.Params.Secrets.check(result.Sheets.UseToken); err != nil {
			return nil, err
		}
	}

	return &result, nil
}

func (s Secrets) check(sheetsToken bool) error {
	var missing []string
	if s.LineChannelToken == "" {
		missing = append(missing, "LINE_CHANNEL_ACCESS_TOKEN")
	}
	if s.OpenAIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if sheetsToken && s.SheetsToken == "" {
		missing = append(missing, "SHEETS_TOKEN")
	}
	if len(missing) > 0 {
		return oops.In("config").With("missing", missing).Errorf("secrets not set: %s", strings.Join(missing, ", "))
	}
	return nil
}

func applyDefaults(c *Config) {
	if c.Mode == "" {
		c.Mode = ModeServer
		if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
			c.Mode = ModeLambda
		}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.State.Backend == "" {
		c.State.Backend = BackendMemory
	}
	if c.Params.Source == "" {
		c.Params.Source = ParamsSSM
		if c.Mode == ModeServer {
			c.Params.Source = ParamsEnv
		}
	}
	if c.Params.Prefix == "" {
		c.Params.Prefix = "/feedback-relay"
	}
	if c.Line.BaseURL == "" {
		c.Line.BaseURL = "https://api.line.me"
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-3.5-turbo"
	}
	if c.Conversation.ChoiceCount == 0 {
		c.Conversation.ChoiceCount = 3
	}
	if c.Conversation.Timeout == 0 {
		c.Conversation.Timeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Mode == ModeLambda {
		c.Log.JSON = true
	}
}

func applyEnv(c *Config) error {
	envString(&c.Mode, "MODE")
	envString(&c.Server.Addr, "LISTEN_ADDR")
	envString(&c.State.Backend, "STATE_BACKEND")
	envString(&c.State.Table, "STATE_TABLE")
	envString(&c.State.SQLitePath, "SQLITE_PATH")
	envString(&c.Params.Source, "PARAM_SOURCE")
	envString(&c.Params.Prefix, "PARAM_PREFIX")
	envString(&c.Params.Secrets.LineChannelToken, "LINE_CHANNEL_TOKEN")
	envString(&c.Params.Secrets.LineChannelToken, "LINE_CHANNEL_ACCESS_TOKEN")
	envString(&c.Params.Secrets.OpenAIKey, "OPENAI_API_KEY")
	envString(&c.Params.Secrets.SheetsToken, "SHEETS_TOKEN")
	envString(&c.Line.BaseURL, "LINE_API_BASE_URL")
	envString(&c.OpenAI.BaseURL, "OPENAI_BASE_URL")
	envString(&c.OpenAI.Model, "OPENAI_MODEL")
	envString(&c.OpenAI.SystemPrompt, "OPENAI_SYSTEM_PROMPT")
	envString(&c.Sheets.Endpoint, "SHEETS_ENDPOINT")
	envString(&c.Conversation.Question, "CURRENT_QUESTION")
	envString(&c.Conversation.Texts.Label, "FEEDBACK_LABEL")
	envString(&c.Conversation.Texts.SelectPlaceholder, "SELECT_PLACEHOLDER")
	envString(&c.Conversation.Texts.GenerationFallback, "GENERATION_FALLBACK")
	envString(&c.Conversation.Texts.StoreFallback, "STORE_FALLBACK")
	envString(&c.Conversation.Texts.ReasonPrompt, "REASON_PROMPT")
	envString(&c.Conversation.Texts.ElicitationMarker, "ELICITATION_MARKER")
	envString(&c.Log.Level, "LOG_LEVEL")
	envString(&c.Log.Telegram.Token, "TELEGRAM_TOKEN")
	envString(&c.Log.Telegram.ChatID, "TELEGRAM_CHAT_ID")

	return errors.Join(
		envInt(&c.Conversation.ChoiceCount, "CHOICE_COUNT"),
		envInt(&c.OpenAI.MaxTokens, "OPENAI_MAX_TOKENS"),
		envDuration(&c.Conversation.Timeout, "COLLABORATOR_TIMEOUT"),
		envDuration(&c.Server.ShutdownTimeout, "SHUTDOWN_TIMEOUT"),
		envBool(&c.Sheets.UseToken, "SHEETS_USE_TOKEN"),
		envBool(&c.Log.JSON, "LOG_JSON"),
		envFloat(&c.OpenAI.Temperature, "OPENAI_TEMPERATURE"),
	)
}

func envString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return oops.In("config").With("key", key).Wrapf(err, "invalid integer in %s", key)
	}
	*dst = n
	return nil
}

func envDuration(dst *time.Duration, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return oops.In("config").With("key", key).Wrapf(err, "invalid duration in %s", key)
	}
	*dst = d
	return nil
}

func envBool(dst *bool, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return oops.In("config").With("key", key).Wrapf(err, "invalid boolean in %s", key)
	}
	*dst = b
	return nil
}

func envFloat(dst **float64, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return oops.In("config").With("key", key).Wrapf(err, "invalid number in %s", key)
	}
	*dst = &f
	return nil
}
