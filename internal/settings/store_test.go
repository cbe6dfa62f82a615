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

package settings

import (
	"errors"
	"testing"

	"github.com/tempbox/ingestion/internal/models"
)

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *models.ProviderConfig
		wantErr error
	}{
		{
			name:    "no record",
			cfg:     nil,
			wantErr: ErrProviderDisabled,
		},
		{
			name: "record disabled",
			cfg: &models.ProviderConfig{
				Provider: "cloudmailin",
				Enabled:  false,
				Secret:   "s3cret",
				Scheme:   models.SchemeSharedSecret,
			},
			wantErr: ErrProviderDisabled,
		},
		{
			name: "shared secret missing",
			cfg: &models.ProviderConfig{
				Provider: "cloudmailin",
				Enabled:  true,
				Scheme:   models.SchemeSharedSecret,
			},
			wantErr: ErrMissingCredentials,
		},
		{
			name: "signing key missing",
			cfg: &models.ProviderConfig{
				Provider: "mailgun",
				Enabled:  true,
				Scheme:   models.SchemeSignature,
			},
			wantErr: ErrMissingCredentials,
		},
		{
			name: "signature scheme ignores secret field",
			cfg: &models.ProviderConfig{
				Provider:   "mailgun",
				Enabled:    true,
				SigningKey: "sign-key",
				Scheme:     models.SchemeSignature,
			},
		},
		{
			name: "shared secret valid",
			cfg: &models.ProviderConfig{
				Provider: "cloudmailin",
				Enabled:  true,
				Secret:   "s3cret",
				Scheme:   models.SchemeSharedSecret,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfig("test-provider", tt.cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("validateConfig() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("validateConfig() unexpected error: %v", err)
			}
		})
	}
}

func TestValidateConfig_DefaultsAuthHeader(t *testing.T) {
	cfg := &models.ProviderConfig{
		Provider: "cloudmailin",
		Enabled:  true,
		Secret:   "s3cret",
		Scheme:   models.SchemeSharedSecret,
	}
	if err := validateConfig("cloudmailin", cfg); err != nil {
		t.Fatalf("validateConfig() unexpected error: %v", err)
	}
	if cfg.AuthHeaderName != models.DefaultAuthHeader {
		t.Errorf("AuthHeaderName = %q, want %q", cfg.AuthHeaderName, models.DefaultAuthHeader)
	}

	custom := &models.ProviderConfig{
		Provider:       "cloudmailin",
		Enabled:        true,
		Secret:         "s3cret",
		AuthHeaderName: "X-Custom-Secret",
		Scheme:         models.SchemeSharedSecret,
	}
	if err := validateConfig("cloudmailin", custom); err != nil {
		t.Fatalf("validateConfig() unexpected error: %v", err)
	}
	if custom.AuthHeaderName != "X-Custom-Secret" {
		t.Errorf("AuthHeaderName = %q, want it kept", custom.AuthHeaderName)
	}
}

func TestProviderProfile(t *testing.T) {
	tests := []struct {
		provider   string
		wantScheme models.AuthScheme
		wantShape  models.PayloadShape
	}{
		{"mailgun", models.SchemeSignature, models.ShapeFormFields},
		{"cloudmailin", models.SchemeSharedSecret, models.ShapeRawMime},
		{"some-future-provider", models.SchemeSharedSecret, models.ShapeRawMime},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			scheme, shape := ProviderProfile(tt.provider)
			if scheme != tt.wantScheme {
				t.Errorf("scheme = %v, want %v", scheme, tt.wantScheme)
			}
			if shape != tt.wantShape {
				t.Errorf("shape = %v, want %v", shape, tt.wantShape)
			}
		})
	}
}
