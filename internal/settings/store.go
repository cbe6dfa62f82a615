// Copyright (c) 2026 TempBox Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package settings provides read access to the provider configuration the
// admin back-office maintains: which inbound-mail provider is active and the
// credentials needed to authenticate its webhooks. The pipeline never writes
// to these tables.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tempbox/ingestion/internal/models"
)

// Configuration errors. Both mean the operator must fix settings — neither is
// a problem with the inbound request itself.
var (
	// ErrProviderDisabled means the active provider record is missing or not
	// enabled.
	ErrProviderDisabled = errors.New("settings: inbound provider disabled or not configured")

	// ErrMissingCredentials means the provider is enabled but the credential
	// fields its auth scheme needs are empty.
	ErrMissingCredentials = errors.New("settings: inbound provider credentials missing")
)

const activeProviderKey = "inbound_active_provider"

// Store reads provider settings from Postgres.
type Store struct {
	pool *pgxpool.Pool

	// defaultProvider is used when no active-provider setting exists.
	defaultProvider string
}

// NewStore creates a settings store backed by the given Postgres pool.
// It ensures the settings tables exist on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool, defaultProvider string) (*Store, error) {
	s := &Store{pool: pool, defaultProvider: defaultProvider}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure settings schema: %w", err)
	}
	slog.Info("settings store initialised", "default_provider", defaultProvider)
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS app_settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS provider_settings (
			provider         TEXT PRIMARY KEY,
			enabled          BOOLEAN NOT NULL DEFAULT FALSE,
			secret           TEXT NOT NULL DEFAULT '',
			auth_header_name TEXT NOT NULL DEFAULT '',
			signing_key      TEXT NOT NULL DEFAULT '',
			updated_at       TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// ActiveProviderName returns the configured active provider, falling back to
// the default when the setting is absent or empty.
func (s *Store) ActiveProviderName(ctx context.Context) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx, `
		SELECT value FROM app_settings WHERE key = $1
	`, activeProviderKey).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.defaultProvider, nil
	}
	if err != nil {
		return "", fmt.Errorf("read active provider setting: %w", err)
	}
	if name == "" {
		return s.defaultProvider, nil
	}
	return name, nil
}

// GetProvider loads one provider's settings record. Returns (nil, nil) when
// no record exists.
func (s *Store) GetProvider(ctx context.Context, name string) (*models.ProviderConfig, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT provider, enabled, secret, auth_header_name, signing_key
		FROM provider_settings
		WHERE provider = $1
	`, name)

	var cfg models.ProviderConfig
	err := row.Scan(&cfg.Provider, &cfg.Enabled, &cfg.Secret, &cfg.AuthHeaderName, &cfg.SigningKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read provider settings %s: %w", name, err)
	}

	cfg.Scheme, cfg.Shape = ProviderProfile(cfg.Provider)
	return &cfg, nil
}

// ResolveActive determines the active provider and validates that its record
// is usable. Pure read, no side effects.
func (s *Store) ResolveActive(ctx context.Context) (*models.ProviderConfig, error) {
	name, err := s.ActiveProviderName(ctx)
	if err != nil {
		return nil, err
	}

	cfg, err := s.GetProvider(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := validateConfig(name, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateConfig classifies a loaded provider record: a missing or disabled
// record is ErrProviderDisabled, an enabled record whose auth scheme lacks its
// credential is ErrMissingCredentials. Fills in the default auth header name
// for shared-secret providers.
func validateConfig(name string, cfg *models.ProviderConfig) error {
	if cfg == nil || !cfg.Enabled {
		return fmt.Errorf("%w: %s", ErrProviderDisabled, name)
	}

	switch cfg.Scheme {
	case models.SchemeSignature:
		if cfg.SigningKey == "" {
			return fmt.Errorf("%w: %s needs a signing key", ErrMissingCredentials, name)
		}
	default:
		if cfg.Secret == "" {
			return fmt.Errorf("%w: %s needs a shared secret", ErrMissingCredentials, name)
		}
		if cfg.AuthHeaderName == "" {
			cfg.AuthHeaderName = models.DefaultAuthHeader
		}
	}

	return nil
}

// ProviderProfile maps a provider name to its auth scheme and payload shape.
// Unknown providers are treated as shared-secret senders of raw MIME, which
// is the common case for generic forwarding services.
func ProviderProfile(name string) (models.AuthScheme, models.PayloadShape) {
	switch name {
	case "mailgun":
		return models.SchemeSignature, models.ShapeFormFields
	case "cloudmailin":
		return models.SchemeSharedSecret, models.ShapeRawMime
	default:
		return models.SchemeSharedSecret, models.ShapeRawMime
	}
}
