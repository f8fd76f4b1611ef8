package usecase

import (
	"context"
	"log/slog"

	"github.com/roushou/adpilot/internal/domain/fault"
	"github.com/roushou/adpilot/internal/domain/settings"
)

// ConfigService fronts the configuration provider with fault mapping.
type ConfigService struct {
	provider settings.Provider
	logger   *slog.Logger
}

func NewConfigService(provider settings.Provider, logger *slog.Logger) *ConfigService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigService{provider: provider, logger: logger}
}

func (s *ConfigService) Load(ctx context.Context) (settings.Configuration, error) {
	cfg, err := s.provider.Load(ctx)
	if err != nil {
		return settings.Configuration{}, mapSettingsError(err, "config.load")
	}
	return cfg, nil
}

// Save stores values, merged over the current configuration when merge is
// set.
func (s *ConfigService) Save(ctx context.Context, values map[string]any, merge bool) (settings.Configuration, error) {
	var (
		cfg settings.Configuration
		err error
	)
	if merge {
		current, loadErr := s.Load(ctx)
		if loadErr != nil {
			return settings.Configuration{}, loadErr
		}
		cfg, err = current.Merge(values)
	} else {
		cfg, err = settings.New(values)
	}
	if err != nil {
		return settings.Configuration{}, mapSettingsError(err, "config.save")
	}
	if err := s.provider.Save(ctx, cfg); err != nil {
		return settings.Configuration{}, mapSettingsError(err, "config.save")
	}
	s.logger.Info("configuration saved", "keys", len(cfg.Keys()), "merge", merge)
	return cfg, nil
}

func (s *ConfigService) Clear(ctx context.Context) error {
	if err := s.provider.Clear(ctx); err != nil {
		return mapSettingsError(err, "config.clear")
	}
	s.logger.Info("configuration cleared")
	return nil
}

// Snapshot is the per-run configuration: loaded once, override applied.
func (s *ConfigService) Snapshot(ctx context.Context, override map[string]any) (settings.Configuration, error) {
	base, err := s.Load(ctx)
	if err != nil {
		return settings.Configuration{}, err
	}
	merged, err := base.Merge(override)
	if err != nil {
		return settings.Configuration{}, mapSettingsError(err, "config.override")
	}
	return merged, nil
}

func mapSettingsError(err error, op string) error {
	if validationErr, ok := settings.AsValidationError(err); ok {
		return fault.Validation(validationErr.Error()).WithDetails(map[string]any{
			"validation_path": validationErr.Path,
			"validation_rule": validationErr.Rule,
		})
	}
	if f, ok := fault.As(err); ok {
		return f
	}
	return fault.New(fault.CodeInternal, fault.CategoryPlatform, "configuration provider failed").
		WithDetails(map[string]any{"storage_op": op, "storage_cause": err.Error()})
}
