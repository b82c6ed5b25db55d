package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WarmupInitializer initializes a component by calling its warmup endpoint.
// Components without a warmup URL are considered ready as soon as they are asked for.
type WarmupInitializer struct {
	registry *RegistryService
	client   *http.Client
	logger   *zap.Logger
}

// NewWarmupInitializer creates an initializer backed by the registry's warmup URLs
func NewWarmupInitializer(registry *RegistryService, timeout time.Duration, logger *zap.Logger) *WarmupInitializer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WarmupInitializer{
		registry: registry,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Initialize POSTs to the component's warmup URL. 409 Conflict means the
// backend was already warm.
func (w *WarmupInitializer) Initialize(ctx context.Context, name string) error {
	reg, ok := w.registry.Get(name)
	if !ok {
		return fmt.Errorf("component %q is not registered", name)
	}
	if reg.WarmupURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reg.WarmupURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build warmup request: %w", err)
	}
	req.Header.Set("X-Startup-Optimizer-Component", name)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call warmup endpoint: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusConflict:
		return ErrAlreadyInitialized
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		w.logger.Debug("Component warmed up",
			zap.String("component", name),
			zap.Int("status", resp.StatusCode))
		return nil
	default:
		return fmt.Errorf("warmup endpoint returned status %d", resp.StatusCode)
	}
}
