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

// Package models defines the data structures shared across the ingestion service.
package models

import "time"

// Attachment describes a file attached to an inbound email. Only metadata is
// retained; attachment bodies are not stored.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// Envelope is the normalized, in-memory representation of one inbound email
// after parsing. It is the single shape all provider payloads converge to
// before inbox resolution.
type Envelope struct {
	// MessageID is the wire-provided identifier with angle brackets stripped,
	// or a synthesized one when the wire omitted it. Never empty.
	MessageID string

	// FromDisplay is the sender as a display string, e.g. `Jane <jane@a.test>`.
	FromDisplay string

	// Subject defaults to "No Subject" when absent on the wire.
	Subject string

	// ToAddress is the resolved recipient as a bare mailbox address (no
	// display name). The pipeline fails before resolution if it is empty.
	ToAddress string

	// ReceivedAt is the message Date header when parseable, otherwise the
	// time the webhook was received.
	ReceivedAt time.Time

	// HTMLBody has already been passed through the HTML sanitizer.
	HTMLBody string

	// TextBody is stored as-is.
	TextBody string

	// RawBody is the original payload, retained for audit and replay.
	RawBody string

	Attachments []Attachment
}

// Inbox is a temporary inbox record owned by the dashboard subsystem. The
// pipeline only looks one up by address and increments its counter.
type Inbox struct {
	ID           string
	UserID       string
	EmailAddress string
	EmailCount   int64
}

// AnonymousUserID marks inboxes generated without an account.
const AnonymousUserID = "anonymous"

// Email is a stored inbound email. ID is the sanitized dedup key derived from
// the envelope MessageID, making redelivery of the same message a no-op.
type Email struct {
	ID          string
	InboxID     string
	UserID      string
	MessageID   string
	FromDisplay string
	Subject     string
	ToAddress   string
	ReceivedAt  time.Time
	HTMLBody    string
	TextBody    string
	RawBody     string
	Attachments []Attachment
	Read        bool
	CreatedAt   time.Time
}
