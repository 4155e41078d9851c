package svcctx

import (
	"context"
	"log/slog"
	"testing"

	"github.com/jackzampolin/tabextract/internal/home"
	"github.com/jackzampolin/tabextract/internal/output"
	"github.com/jackzampolin/tabextract/internal/providers"
)

func TestServicesFromEmptyContext(t *testing.T) {
	ctx := context.Background()
	if ServicesFrom(ctx) != nil {
		t.Error("expected nil services")
	}
	if RegistryFrom(ctx) != nil || HomeFrom(ctx) != nil || ConfigFrom(ctx) != nil {
		t.Error("expected nil extractors on empty context")
	}
	if LoggerFrom(ctx) != slog.Default() {
		t.Error("expected default logger fallback")
	}
	if PrinterFrom(ctx).Format != output.Default {
		t.Error("expected default printer format")
	}
}

func TestWithServices(t *testing.T) {
	h, _ := home.New(t.TempDir())
	reg := providers.NewRegistry()
	ctx := WithServices(context.Background(), &Services{
		Registry: reg,
		Home:     h,
		Printer:  output.Printer{Format: output.FormatJSON},
	})

	if RegistryFrom(ctx) != reg {
		t.Error("registry not carried")
	}
	if HomeFrom(ctx) != h {
		t.Error("home not carried")
	}
	if PrinterFrom(ctx).Format != output.FormatJSON {
		t.Error("printer not carried")
	}
}
