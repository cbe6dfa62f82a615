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

// Package auth verifies that a webhook request genuinely originates from the
// configured inbound-mail provider. Two schemes are supported: a shared
// secret carried in a request header, and an HMAC-SHA256 signature over a
// timestamp+token pair. All secret comparisons are constant-time.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"

	"github.com/tempbox/ingestion/internal/models"
)

var (
	// ErrUnauthorized means the secret or signature did not match. Possible
	// attack or a provider pointed at the wrong environment.
	ErrUnauthorized = errors.New("auth: request not authorized")

	// ErrMalformedRequest means the signature components were missing, so
	// verification could not even be attempted. Distinguished from
	// ErrUnauthorized so operators can tell tampering from misconfiguration.
	ErrMalformedRequest = errors.New("auth: missing signature components")
)

// VerifySharedSecret checks the configured header against the stored secret.
// A missing header fails the same way a wrong value does.
func VerifySharedSecret(cfg *models.ProviderConfig, headers http.Header) error {
	headerName := cfg.AuthHeaderName
	if headerName == "" {
		headerName = models.DefaultAuthHeader
	}

	got := headers.Get(headerName)
	if subtle.ConstantTimeCompare([]byte(got), []byte(cfg.Secret)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// VerifySignature recomputes HMAC-SHA256(signingKey, timestamp || token) and
// compares it to the supplied hex signature.
//
// Any empty component is a malformed request, not an auth failure — the
// provider either has a bug or someone is probing the endpoint with junk,
// and the two should be distinguishable in logs.
func VerifySignature(cfg *models.ProviderConfig, timestamp, token, signature string) error {
	if timestamp == "" || token == "" || signature == "" {
		return ErrMalformedRequest
	}

	mac := hmac.New(sha256.New, []byte(cfg.SigningKey))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(token))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrUnauthorized
	}
	return nil
}

// Sign computes the hex signature a provider would send for the given
// timestamp and token. Exposed for tests and the replay tool.
func Sign(signingKey, timestamp, token string) string {
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
