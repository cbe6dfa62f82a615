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

// Package pipeline runs one inbound webhook delivery through the full
// ingestion sequence: resolve provider config, authenticate, parse and
// normalize, resolve the target inbox, and persist idempotently. Each stage
// can short-circuit with a terminal outcome; nothing is retried internally —
// the response code tells the provider whether retrying would help.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tempbox/ingestion/internal/auth"
	"github.com/tempbox/ingestion/internal/mailparse"
	"github.com/tempbox/ingestion/internal/models"
)

// Outcome is the terminal state of one delivery.
type Outcome string

const (
	// OutcomeStored — new email persisted, counter incremented.
	OutcomeStored Outcome = "stored"

	// OutcomeDuplicate — message already processed; idempotent no-op.
	OutcomeDuplicate Outcome = "duplicate"

	// OutcomeNoInbox — no inbox matches the recipient. Expected when mail
	// arrives for an expired or never-created address; intentionally dropped.
	OutcomeNoInbox Outcome = "no_inbox"

	// OutcomeRejected — the delivery failed a stage; Err says which.
	OutcomeRejected Outcome = "rejected"
)

// SettingsResolver yields the active provider's validated configuration.
type SettingsResolver interface {
	ResolveActive(ctx context.Context) (*models.ProviderConfig, error)
}

// InboxStore is the subset of the inbox/email store the pipeline uses.
type InboxStore interface {
	FindInboxByAddress(ctx context.Context, address string) (*models.Inbox, error)
	EmailExists(ctx context.Context, inboxID, docKey string) (bool, error)
	CreateEmail(ctx context.Context, email *models.Email) (inserted bool, err error)
}

// DedupFilter is the advisory fast-path duplicate check.
type DedupFilter interface {
	Seen(ctx context.Context, docKey string) (bool, error)
	MarkSeen(ctx context.Context, docKey string) error
}

// EventPublisher announces newly stored emails.
type EventPublisher interface {
	PublishEmailStored(ctx context.Context, email *models.Email) error
}

// Request carries the raw inbound delivery. Body is the exact bytes received;
// signature verification and parsing both work from this one buffer.
type Request struct {
	Headers     http.Header
	Body        []byte
	ContentType string
	ReceivedAt  time.Time
}

// Result is the terminal state of processing one Request.
type Result struct {
	Outcome  Outcome
	Provider string
	Email    *models.Email
	Err      error
}

// Pipeline wires the stages together. Dependencies are injected so tests run
// against fakes.
type Pipeline struct {
	settings  SettingsResolver
	store     InboxStore
	dedup     DedupFilter
	publisher EventPublisher
}

// New creates a pipeline. dedup and publisher may be nil; both are optional
// accelerations around the authoritative store.
func New(settings SettingsResolver, store InboxStore, dedup DedupFilter, publisher EventPublisher) *Pipeline {
	return &Pipeline{
		settings:  settings,
		store:     store,
		dedup:     dedup,
		publisher: publisher,
	}
}

// Signature transport headers for raw-MIME providers that sign requests.
// Form-field providers carry the triple in the body instead.
const (
	headerTimestamp = "X-Inbound-Timestamp"
	headerToken     = "X-Inbound-Token"
	headerSignature = "X-Inbound-Signature"
)

// Process runs one delivery to a terminal outcome.
func (p *Pipeline) Process(ctx context.Context, req Request) Result {
	// Stage 1: provider configuration
	cfg, err := p.settings.ResolveActive(ctx)
	if err != nil {
		return Result{Outcome: OutcomeRejected, Err: err}
	}

	reject := func(err error) Result {
		return Result{Outcome: OutcomeRejected, Provider: cfg.Provider, Err: err}
	}

	// Decode the body once, from the exact bytes received. Signature fields
	// for form providers live inside this decoded form.
	payload, err := mailparse.DecodePayload(cfg.Shape, req.Body, req.ContentType)
	if err != nil {
		return reject(err)
	}

	// Stage 2: authenticate
	if err := p.authenticate(cfg, req.Headers, payload); err != nil {
		return reject(err)
	}

	// Stage 3: parse and normalize
	env, err := mailparse.Parse(payload, req.ReceivedAt)
	if err != nil {
		return reject(err)
	}

	// Stage 4: resolve inbox, dedupe, persist
	return p.ResolveAndStore(ctx, cfg.Provider, env)
}

func (p *Pipeline) authenticate(cfg *models.ProviderConfig, headers http.Header, payload *mailparse.Payload) error {
	switch cfg.Scheme {
	case models.SchemeSignature:
		timestamp := payload.Field("timestamp")
		token := payload.Field("token")
		signature := payload.Field("signature")
		if payload.Shape == models.ShapeRawMime {
			timestamp = headers.Get(headerTimestamp)
			token = headers.Get(headerToken)
			signature = headers.Get(headerSignature)
		}
		return auth.VerifySignature(cfg, timestamp, token, signature)
	default:
		return auth.VerifySharedSecret(cfg, headers)
	}
}

// ResolveAndStore runs the final stage on an already-parsed envelope. The
// replay tool enters here directly, bypassing provider auth.
func (p *Pipeline) ResolveAndStore(ctx context.Context, provider string, env *models.Envelope) Result {
	docKey := mailparse.DocKey(env.MessageID)

	inbox, err := p.store.FindInboxByAddress(ctx, env.ToAddress)
	if err != nil {
		return Result{Outcome: OutcomeRejected, Provider: provider, Err: fmt.Errorf("inbox lookup: %w", err)}
	}
	if inbox == nil {
		slog.Info("dropping email for unknown inbox",
			"provider", provider,
			"recipient", env.ToAddress,
			"message_id", env.MessageID,
		)
		return Result{Outcome: OutcomeNoInbox, Provider: provider}
	}

	duplicate := Result{Outcome: OutcomeDuplicate, Provider: provider}

	// Fast path: Redis remembers keys only after a successful persist, so a
	// hit here is definitive. Errors degrade to the store check.
	if p.dedup != nil {
		if seen, err := p.dedup.Seen(ctx, docKey); err != nil {
			slog.Warn("dedup check failed, falling back to store", "error", err)
		} else if seen {
			slog.Info("duplicate delivery (dedup cache)", "provider", provider, "message_id", env.MessageID)
			return duplicate
		}
	}

	exists, err := p.store.EmailExists(ctx, inbox.ID, docKey)
	if err != nil {
		return Result{Outcome: OutcomeRejected, Provider: provider, Err: fmt.Errorf("email exists check: %w", err)}
	}
	if exists {
		slog.Info("duplicate delivery (already stored)", "provider", provider, "message_id", env.MessageID)
		return duplicate
	}

	email := &models.Email{
		ID:          docKey,
		InboxID:     inbox.ID,
		UserID:      inbox.UserID,
		MessageID:   env.MessageID,
		FromDisplay: env.FromDisplay,
		Subject:     env.Subject,
		ToAddress:   env.ToAddress,
		ReceivedAt:  env.ReceivedAt,
		HTMLBody:    env.HTMLBody,
		TextBody:    env.TextBody,
		RawBody:     env.RawBody,
		Attachments: env.Attachments,
		Read:        false,
		CreatedAt:   time.Now().UTC(),
	}

	inserted, err := p.store.CreateEmail(ctx, email)
	if err != nil {
		return Result{Outcome: OutcomeRejected, Provider: provider, Err: fmt.Errorf("store email: %w", err)}
	}
	if !inserted {
		// A concurrent delivery of the same message won the conditional write.
		slog.Info("duplicate delivery (insert race)", "provider", provider, "message_id", env.MessageID)
		return duplicate
	}

	if p.dedup != nil {
		if err := p.dedup.MarkSeen(ctx, docKey); err != nil {
			slog.Warn("failed to mark message seen", "message_id", env.MessageID, "error", err)
		}
	}
	if p.publisher != nil {
		if err := p.publisher.PublishEmailStored(ctx, email); err != nil {
			slog.Warn("failed to publish stored-email event", "email_id", email.ID, "error", err)
		}
	}

	slog.Info("stored inbound email",
		"provider", provider,
		"recipient", env.ToAddress,
		"message_id", env.MessageID,
		"inbox_id", inbox.ID,
	)
	return Result{Outcome: OutcomeStored, Provider: provider, Email: email}
}
