package webhook

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/hookledger/internal/config"
	"github.com/mattjoyce/hookledger/internal/dispatch"
	"github.com/mattjoyce/hookledger/internal/ledger"
	"github.com/mattjoyce/hookledger/internal/signature"
)

// FromGlobalConfig converts the loaded configuration into a server Config.
// Resolves secret references, parses max body sizes and builds each
// endpoint's handler.
func FromGlobalConfig(cfg *config.Config, logger *slog.Logger) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	wc := cfg.Webhooks

	out := Config{
		Listen:       wc.Listen,
		Endpoints:    make([]EndpointConfig, len(wc.Endpoints)),
		WriteTimeout: wc.HandlerTimeout + wc.FinalizeTimeout + 5*time.Second,
	}

	for i, ep := range wc.Endpoints {
		provider, err := ledger.ParseProvider(ep.Provider)
		if err != nil {
			return Config{}, fmt.Errorf("webhook endpoint %q: %w", ep.Path, err)
		}

		secret, ok := ep.ResolveSecret(cfg.LookupEnv)
		if !ok {
			return Config{}, fmt.Errorf("webhook endpoint %q: no secret or secret_ref configured", ep.Path)
		}

		// Parse max body size (e.g., "1MB", "2048576")
		maxBodySize, err := parseMaxBodySize(ep.MaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("webhook endpoint %q: invalid max_body_size %q: %w", ep.Path, ep.MaxBodySize, err)
		}

		header := ep.SignatureHeader
		if header == "" {
			header = DefaultSignatureHeader(provider)
		}

		handler := Handler(dispatch.Noop)
		if ep.Handler != nil {
			timeout := ep.Handler.Timeout
			if timeout == 0 {
				timeout = wc.HandlerTimeout
			}
			ch := dispatch.NewCommandHandler(ep.Handler.Command, ep.Handler.Args, timeout,
				logger.With("endpoint", ep.Path))
			ch.Env = ep.Handler.Env
			handler = ch.Handle
		}

		out.Endpoints[i] = EndpointConfig{
			Path:            ep.Path,
			Provider:        provider,
			Secret:          secret,
			SignatureHeader: header,
			MaxBodySize:     maxBodySize,
			Verifier: signature.Verifier{
				Tolerance:  ep.Tolerance,
				SigningURL: ep.SigningURL,
			},
			Extractor: NewExtractor(provider, ep.EventIDPath, ep.EventTypePath, ep.EventIDHeader),
			Handler:   handler,
		}
	}

	return out, nil
}

// parseMaxBodySize parses size strings like "1MB", "512KB", "1048576" to bytes.
// Returns DefaultMaxBodySize if empty.
func parseMaxBodySize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	// Handle unit suffixes (KB, MB, GB)
	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}

	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	if value > (1<<62)/multiplier {
		return 0, fmt.Errorf("size too large")
	}
	return value * multiplier, nil
}
