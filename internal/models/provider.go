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

package models

// AuthScheme selects how webhook requests from a provider are authenticated.
type AuthScheme string

const (
	// SchemeSharedSecret compares a request header against a stored secret.
	SchemeSharedSecret AuthScheme = "shared-secret"

	// SchemeSignature verifies an HMAC-SHA256 signature over a
	// timestamp+token pair, Mailgun style.
	SchemeSignature AuthScheme = "signature"
)

// PayloadShape describes how a provider delivers the message itself.
type PayloadShape string

const (
	// ShapeRawMime means the request body is a raw RFC-5322 document.
	ShapeRawMime PayloadShape = "raw-mime"

	// ShapeFormFields means the provider pre-splits the message into named
	// multipart form fields (subject, body-html, recipient, ...).
	ShapeFormFields PayloadShape = "form-fields"
)

// ProviderConfig is one provider's settings record. Created and edited by the
// admin settings UI; read-only to the pipeline.
type ProviderConfig struct {
	Provider       string
	Enabled        bool
	Secret         string
	AuthHeaderName string
	SigningKey     string
	Scheme         AuthScheme
	Shape          PayloadShape
}

// DefaultAuthHeader is used when a shared-secret provider record does not
// name its header.
const DefaultAuthHeader = "X-Inbound-Secret"
