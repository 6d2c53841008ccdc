package inject

import (
	"context"
	"fmt"

	"github.com/atotto/clipboard"
	"github.com/petems/voicetool/internal/config"
	"github.com/rs/zerolog"
)

// Injector defines the interface for handing finished text to the user
type Injector interface {
	Deliver(ctx context.Context, text string) error
}

type clipboardInjector struct {
	cfg   config.InjectConfig
	write func(string) error
	log   zerolog.Logger
}

// New creates a new clipboard-backed injector
func New(cfg config.InjectConfig, log zerolog.Logger) Injector {
	return &clipboardInjector{
		cfg:   cfg,
		write: clipboard.WriteAll,
		log:   log,
	}
}

// Deliver copies text to the system clipboard when enabled.
func (c *clipboardInjector) Deliver(ctx context.Context, text string) error {
	if !c.cfg.CopyToClipboard || text == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if clipboard.Unsupported {
		return fmt.Errorf("clipboard not available on this system")
	}

	if err := c.write(text); err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}
	c.log.Debug().Int("chars", len(text)).Msg("Copied transcript to clipboard")
	return nil
}
