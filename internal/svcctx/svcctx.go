// Package svcctx carries the process-wide services through a context so
// commands can pick up what they need without global state.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/tabextract/internal/config"
	"github.com/jackzampolin/tabextract/internal/home"
	"github.com/jackzampolin/tabextract/internal/logging"
	"github.com/jackzampolin/tabextract/internal/output"
	"github.com/jackzampolin/tabextract/internal/providers"
)

// Services holds the services built once per process.
type Services struct {
	Config   *config.Manager
	Registry *providers.Registry
	Logger   *logging.Logger
	Home     *home.Dir
	Printer  output.Printer
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// LoggerFrom extracts the logger from context, falling back to slog.Default.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil && s.Logger != nil {
		return s.Logger.Logger
	}
	return slog.Default()
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}

// PrinterFrom extracts the result printer from context.
func PrinterFrom(ctx context.Context) output.Printer {
	if s := ServicesFrom(ctx); s != nil {
		return s.Printer
	}
	return output.Printer{Format: output.Default}
}
