package provider

import (
	"context"
	"log/slog"
)

// DefaultInvoker implements Invoker by selecting a transport per
// SelectTransport and delegating to the HTTP or CLI implementation.
type DefaultInvoker struct {
	http *HTTPTransport
	cli  *CLITransport
}

// NewDefaultInvoker wires the standard HTTP and CLI transports together.
func NewDefaultInvoker() *DefaultInvoker {
	return &DefaultInvoker{http: NewHTTPTransport(), cli: NewCLITransport()}
}

// Invoke selects a transport for cfg, applies fast-mode gating, and
// dispatches req to the chosen transport. An unusable credential (bad
// ciphertext, malformed OAuth token) fails the attempt immediately rather
// than falling back to a different transport.
func (d *DefaultInvoker) Invoke(ctx context.Context, cfg Config, req Request, log *slog.Logger) (string, error) {
	transport, fastModeAllowed, reason, err := SelectTransport(cfg)
	if err != nil {
		if log != nil {
			log.Error("provider credential unusable", "provider_id", cfg.ID, "error", err)
		}
		return "", err
	}

	if req.FastMode && !fastModeAllowed {
		if log != nil {
			log.Info("forcing fast_mode off", "provider_id", cfg.ID, "reason", reason)
		}
		req.FastMode = false
	}

	switch transport {
	case "http":
		return d.http.Invoke(ctx, cfg, req, log)
	default:
		return d.cli.Invoke(ctx, cfg, req, log)
	}
}
