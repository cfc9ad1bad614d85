package settings

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/xraph/queuectl"
)

// Service reads and writes settings with defaults applied.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a settings service. A nil logger uses slog.Default().
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Get returns the stored value for key, falling back to the built-in
// default for recognized keys. ok is false for an unknown key that was
// never set.
func (s *Service) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	value, ok, err = s.store.GetSetting(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("settings: get %q: %w", key, err)
	}
	if ok {
		return value, true, nil
	}
	value, ok = Defaults()[key]
	return value, ok, nil
}

// Set validates and stores value for key.
func (s *Service) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("settings: %w: empty key", queuectl.ErrInvalidSetting)
	}
	if err := Validate(key, value); err != nil {
		return fmt.Errorf("settings: %w: %w", queuectl.ErrInvalidSetting, err)
	}
	if err := s.store.SetSetting(ctx, key, value); err != nil {
		return fmt.Errorf("settings: set %q: %w", key, err)
	}
	return nil
}

// All returns the defaults overlaid with every stored value.
func (s *Service) All(ctx context.Context) (map[string]string, error) {
	stored, err := s.store.ListSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("settings: list: %w", err)
	}
	all := Defaults()
	maps.Copy(all, stored)
	return all, nil
}

// MaxRetries returns the configured default retry limit. A stored value
// that no longer parses is logged and replaced by the default.
func (s *Service) MaxRetries(ctx context.Context) (int, error) {
	raw, _, err := s.Get(ctx, KeyMaxRetries)
	if err != nil {
		return 0, err
	}
	n, err := parseMaxRetries(raw)
	if err != nil {
		s.logger.Warn("ignoring invalid setting", slog.String("key", KeyMaxRetries), slog.String("error", err.Error()))
		return DefaultMaxRetries, nil
	}
	return n, nil
}

// BackoffBase returns the configured backoff base. A stored value that no
// longer parses is logged and replaced by the default.
func (s *Service) BackoffBase(ctx context.Context) (float64, error) {
	raw, _, err := s.Get(ctx, KeyBackoffBase)
	if err != nil {
		return 0, err
	}
	f, err := parseBackoffBase(raw)
	if err != nil {
		s.logger.Warn("ignoring invalid setting", slog.String("key", KeyBackoffBase), slog.String("error", err.Error()))
		return DefaultBackoffBase, nil
	}
	return f, nil
}
