// Package logging configures the process-wide slog logger.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/phsym/console-slog"
	slogmulti "github.com/samber/slog-multi"
	slogtelegram "github.com/samber/slog-telegram/v2"

	"feedback-relay/internal/config"
)

// TelegramAttr marks a record for the Telegram sink regardless of level.
const TelegramAttr = "telegram"

var output io.Writer = os.Stderr

// Preinit installs a console logger so configuration errors are readable.
func Preinit() {
	slog.SetDefault(slog.New(console.NewHandler(output, &console.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
	})))
}

// Init replaces the default logger according to cfg.
func Init(cfg config.Log) error {
	slog.SetDefault(slog.New(NewHandler(cfg)))
	return nil
}

// NewHandler builds the root handler: console or JSON output, plus a
// Telegram sink for errors and records tagged with TelegramAttr.
func NewHandler(cfg config.Log) slog.Handler {
	level := ParseLevel(cfg.Level)

	var base slog.Handler
	if cfg.JSON {
		base = slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})
	} else {
		base = console.NewHandler(output, &console.HandlerOptions{
			AddSource: true,
			Level:     level,
		})
	}

	if cfg.Telegram.Token == "" {
		return base
	}

	return slogmulti.Router().
		Add(base).
		Add(
			slogtelegram.Option{
				Level:     slog.LevelDebug,
				Token:     cfg.Telegram.Token,
				Username:  cfg.Telegram.ChatID,
				AddSource: true,
			}.NewTelegramHandler(),
			forTelegram,
		).
		Handler()
}

func forTelegram(_ context.Context, r slog.Record) bool {
	if r.Level >= slog.LevelError {
		return true
	}
	tagged := false
	r.Attrs(func(attr slog.Attr) bool {
		if attr.Key == TelegramAttr {
			tagged = true
			return false
		}
		return true
	})
	return tagged
}

// ParseLevel maps a config level name to a slog level. Unknown names fall
// back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
