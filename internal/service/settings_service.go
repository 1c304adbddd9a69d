package service

import (
	"context"
	"fmt"

	"deposit-ledger/internal/core/domain"
	"deposit-ledger/internal/core/ports"
	"deposit-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// SettingsServiceImpl implements ports.SettingsService over a key/value repository.
type SettingsServiceImpl struct {
	repo ports.SettingsRepository
	log  zerolog.Logger
}

// NewSettingsService creates a new SettingsServiceImpl.
func NewSettingsService(repo ports.SettingsRepository, log zerolog.Logger) *SettingsServiceImpl {
	return &SettingsServiceImpl{repo: repo, log: log}
}

// Get returns the stored value, or the default when unset.
func (s *SettingsServiceImpl) Get(ctx context.Context, key string) (string, error) {
	def, known := domain.DefaultSettings[key]
	if !known {
		return "", apperror.ErrNotFound("setting")
	}
	value, ok, err := s.repo.Get(ctx, key)
	if err != nil {
		return "", apperror.ErrDatabaseError(fmt.Errorf("get setting %s: %w", key, err))
	}
	if !ok {
		return def, nil
	}
	return value, nil
}

// Set validates and stores a setting. Percentages must lie in [0, 100].
func (s *SettingsServiceImpl) Set(ctx context.Context, key string, value string) error {
	if _, known := domain.DefaultSettings[key]; !known {
		return apperror.ErrNotFound("setting")
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return apperror.Validation(fmt.Sprintf("%s must be a number", key))
	}
	if d.IsNegative() {
		return apperror.Validation(fmt.Sprintf("%s must not be negative", key))
	}
	if key != domain.SettingMinDepositSOL && d.GreaterThan(hundred) {
		return apperror.Validation(fmt.Sprintf("%s must not exceed 100", key))
	}

	if err := s.repo.Set(ctx, key, d.String()); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("set setting %s: %w", key, err))
	}
	s.log.Info().Str("key", key).Str("value", d.String()).Msg("setting updated")
	return nil
}

// All returns every known setting merged over the defaults.
func (s *SettingsServiceImpl) All(ctx context.Context) (map[string]string, error) {
	stored, err := s.repo.All(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("list settings: %w", err))
	}
	out := make(map[string]string, len(domain.DefaultSettings))
	for k, v := range domain.DefaultSettings {
		out[k] = v
	}
	for k, v := range stored {
		if _, known := domain.DefaultSettings[k]; known {
			out[k] = v
		}
	}
	return out, nil
}

// Percent returns a percentage setting. Storage errors and unparsable values
// fall back to the default so a broken row never blocks a credit.
func (s *SettingsServiceImpl) Percent(ctx context.Context, key string) decimal.Decimal {
	def := decimal.Zero
	if v, known := domain.DefaultSettings[key]; known {
		def = decimal.RequireFromString(v)
	}

	value, ok, err := s.repo.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("settings lookup failed, using default")
		return def
	}
	if !ok {
		return def
	}
	d, err := decimal.NewFromString(value)
	if err != nil || d.IsNegative() || d.GreaterThan(hundred) {
		s.log.Warn().Str("key", key).Str("value", value).Msg("invalid percentage setting, using default")
		return def
	}
	return d
}
