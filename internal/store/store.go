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

// Package store provides Postgres-backed access to the inbox and email
// records the dashboard subsystem owns. The pipeline only performs a point
// lookup by address, a conditional email insert, and a counter increment.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tempbox/ingestion/internal/models"
)

// Store provides inbox lookup and idempotent email persistence.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an inbox/email store backed by the given Postgres pool.
// It ensures the tables exist on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure inbox/email schema: %w", err)
	}
	slog.Info("inbox store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS inboxes (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL DEFAULT 'anonymous',
			email_address TEXT NOT NULL,
			email_count   BIGINT NOT NULL DEFAULT 0,
			created_at    TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_inboxes_address ON inboxes(email_address);
		CREATE TABLE IF NOT EXISTS emails (
			doc_key      TEXT NOT NULL,
			inbox_id     TEXT NOT NULL,
			user_id      TEXT NOT NULL DEFAULT 'anonymous',
			message_id   TEXT NOT NULL,
			from_display TEXT NOT NULL DEFAULT '',
			subject      TEXT NOT NULL DEFAULT '',
			to_address   TEXT NOT NULL,
			received_at  TIMESTAMPTZ NOT NULL,
			html_body    TEXT NOT NULL DEFAULT '',
			text_body    TEXT NOT NULL DEFAULT '',
			raw_body     TEXT NOT NULL DEFAULT '',
			attachments  JSONB NOT NULL DEFAULT '[]',
			read         BOOLEAN NOT NULL DEFAULT FALSE,
			created_at   TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (inbox_id, doc_key)
		);
	`)
	return err
}

// FindInboxByAddress looks up exactly one inbox by its generated address.
// Case-sensitive exact match; first row wins if duplicates exist. Returns
// (nil, nil) when no inbox matches — an expected outcome, not an error.
func (s *Store) FindInboxByAddress(ctx context.Context, address string) (*models.Inbox, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, email_address, email_count
		FROM inboxes
		WHERE email_address = $1
		ORDER BY created_at
		LIMIT 1
	`, address)

	var inbox models.Inbox
	err := row.Scan(&inbox.ID, &inbox.UserID, &inbox.EmailAddress, &inbox.EmailCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find inbox by address: %w", err)
	}
	return &inbox, nil
}

// EmailExists reports whether an email with the given dedup key is already
// stored under the inbox.
func (s *Store) EmailExists(ctx context.Context, inboxID, docKey string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM emails WHERE inbox_id = $1 AND doc_key = $2)
	`, inboxID, docKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("email exists check: %w", err)
	}
	return exists, nil
}

// CreateEmail stores the email and increments the inbox counter as one unit
// of work. The insert is conditional on the (inbox_id, doc_key) pair, and the
// counter only moves when the insert took effect, so concurrent redelivery of
// the same message converges to one row and one increment.
func (s *Store) CreateEmail(ctx context.Context, email *models.Email) (bool, error) {
	attachments, err := json.Marshal(emailAttachments(email))
	if err != nil {
		return false, fmt.Errorf("marshal attachments: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin email tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO emails
			(doc_key, inbox_id, user_id, message_id, from_display, subject,
			 to_address, received_at, html_body, text_body, raw_body,
			 attachments, read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, FALSE)
		ON CONFLICT (inbox_id, doc_key) DO NOTHING
	`, email.ID, email.InboxID, email.UserID, email.MessageID,
		email.FromDisplay, email.Subject, email.ToAddress, email.ReceivedAt,
		email.HTMLBody, email.TextBody, email.RawBody, attachments)
	if err != nil {
		return false, fmt.Errorf("insert email: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Lost the race to a concurrent delivery — nothing to increment.
		return false, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE inboxes SET email_count = email_count + 1 WHERE id = $1
	`, email.InboxID); err != nil {
		return false, fmt.Errorf("increment email count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit email tx: %w", err)
	}
	return true, nil
}

func emailAttachments(email *models.Email) []models.Attachment {
	if email.Attachments == nil {
		return []models.Attachment{}
	}
	return email.Attachments
}
