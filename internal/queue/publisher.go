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

// Package queue publishes stored-email events to Redis. The dashboard
// consumes them to push live inbox updates without polling Postgres.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tempbox/ingestion/internal/models"
)

// Publisher sends stored-email events to a Redis list.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a Redis publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{rdb: rdb, queueName: queueName}
}

// StoredEvent is the JSON message pushed per newly stored email. Body content
// stays out of the event — consumers fetch it from the store if they need it.
type StoredEvent struct {
	EventID    string `json:"event_id"`
	InboxID    string `json:"inbox_id"`
	EmailID    string `json:"email_id"`
	UserID     string `json:"user_id"`
	ToAddress  string `json:"to_address"`
	From       string `json:"from"`
	Subject    string `json:"subject"`
	ReceivedAt string `json:"received_at"`
}

// PublishEmailStored pushes a stored-email event onto the queue.
func (p *Publisher) PublishEmailStored(ctx context.Context, email *models.Email) error {
	event := StoredEvent{
		EventID:    uuid.NewString(),
		InboxID:    email.InboxID,
		EmailID:    email.ID,
		UserID:     email.UserID,
		ToAddress:  email.ToAddress,
		From:       email.FromDisplay,
		Subject:    email.Subject,
		ReceivedAt: email.ReceivedAt.UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal stored event: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, payload).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published stored-email event",
		"event_id", event.EventID,
		"inbox_id", event.InboxID,
		"email_id", event.EmailID,
		"queue", p.queueName,
	)
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
