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

// Package mailparse normalizes inbound provider payloads — raw RFC-5322
// documents or pre-split form fields — into a single Envelope shape. It owns
// recipient extraction, message-ID derivation, and HTML sanitization.
package mailparse

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	stdmail "net/mail"
	"strconv"
	"strings"
	"time"
	"unicode"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	htmlcharset "golang.org/x/net/html/charset"

	"github.com/tempbox/ingestion/internal/models"
)

// ErrNoRecipient means no syntactically plausible recipient address could be
// extracted from any of the supported headers or fields.
var ErrNoRecipient = errors.New("mailparse: no recipient address found")

// DefaultSubject is stored when a message arrives without one.
const DefaultSubject = "No Subject"

// maxBodyBytes caps how much of any single inline part is retained.
const maxBodyBytes = 1 * 1024 * 1024

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

// Parse normalizes a decoded payload into an Envelope. receivedAt is the time
// the webhook arrived and is used whenever the wire carries no usable date.
func Parse(p *Payload, receivedAt time.Time) (*models.Envelope, error) {
	var env *models.Envelope
	var err error

	switch p.Shape {
	case models.ShapeFormFields:
		env, err = parseFormFields(p, receivedAt)
	default:
		env, err = parseRawMime(p.Raw, receivedAt)
	}
	if err != nil {
		return nil, err
	}

	if env.Subject == "" {
		env.Subject = DefaultSubject
	}
	if env.MessageID == "" {
		env.MessageID = uuid.NewString()
	}
	if env.ReceivedAt.IsZero() {
		env.ReceivedAt = receivedAt
	}
	env.RawBody = string(p.Raw)
	env.HTMLBody = SanitizeHTML(env.HTMLBody)

	if env.ToAddress == "" {
		return nil, ErrNoRecipient
	}

	return env, nil
}

// parseFormFields maps a provider's pre-split fields onto the envelope.
// Field names follow the Mailgun "store and notify" convention.
func parseFormFields(p *Payload, receivedAt time.Time) (*models.Envelope, error) {
	env := &models.Envelope{
		FromDisplay: p.Field("from", "sender"),
		Subject:     p.Field("subject"),
		TextBody:    p.Field("stripped-text", "body-plain"),
		HTMLBody:    p.Field("stripped-html", "body-html"),
		MessageID:   normalizeMessageID(p.Field("Message-Id")),
		Attachments: p.FileParts,
	}

	if recipient := p.Field("recipient", "to"); recipient != "" {
		env.ToAddress = mailboxAddress(recipient)
	}

	if ts := p.Field("timestamp"); ts != "" {
		if unix, err := strconv.ParseInt(ts, 10, 64); err == nil {
			env.ReceivedAt = time.Unix(unix, 0).UTC()
		}
	}

	return env, nil
}

// parseRawMime runs the structured go-message parser over a raw RFC-5322
// document, falling back to net/mail when the structured parse fails.
func parseRawMime(raw []byte, receivedAt time.Time) (*models.Envelope, error) {
	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		slog.Warn("structured MIME parse failed, using legacy parser", "error", err)
		return parseLegacyMime(raw)
	}

	header := &reader.Header
	env := &models.Envelope{
		FromDisplay: fromDisplay(header),
		MessageID:   normalizeMessageID(header.Get("Message-Id")),
		ToAddress:   extractRecipient(header),
	}

	if subject, err := header.Subject(); err == nil {
		env.Subject = subject
	} else {
		env.Subject = header.Get("Subject")
	}

	if date, err := header.Date(); err == nil && !date.IsZero() {
		env.ReceivedAt = date.UTC()
	}

	readParts(reader, env)
	return env, nil
}

// readParts walks the message parts collecting the first text/plain part,
// the first text/html part, and attachment metadata.
func readParts(reader *gomail.Reader, env *models.Envelope) {
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			slog.Warn("failed to read message part", "error", err)
			break
		}

		switch header := part.Header.(type) {
		case *gomail.InlineHeader:
			mediaType, _, ctErr := header.ContentType()
			if ctErr != nil {
				mediaType = "text/plain"
			}
			body, readErr := io.ReadAll(io.LimitReader(part.Body, maxBodyBytes))
			if readErr != nil {
				slog.Warn("failed to read part body", "error", readErr)
				continue
			}
			switch {
			case strings.HasPrefix(mediaType, "text/html"):
				if env.HTMLBody == "" {
					env.HTMLBody = string(body)
				}
			default:
				if env.TextBody == "" {
					env.TextBody = string(body)
				}
			}

		case *gomail.AttachmentHeader:
			filename, fnErr := header.Filename()
			if fnErr != nil || strings.TrimSpace(filename) == "" {
				filename = "attachment"
			}
			mediaType, _, ctErr := header.ContentType()
			if ctErr != nil || mediaType == "" {
				mediaType = "application/octet-stream"
			}
			size, _ := io.Copy(io.Discard, part.Body)
			env.Attachments = append(env.Attachments, models.Attachment{
				Filename:    filename,
				ContentType: mediaType,
				SizeBytes:   size,
			})
		}
	}
}

// parseLegacyMime handles documents the structured parser rejects. Single
// body, no attachment walking.
func parseLegacyMime(raw []byte) (*models.Envelope, error) {
	msg, err := stdmail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: not an RFC-5322 document: %v", ErrMalformedPayload, err)
	}

	env := &models.Envelope{
		FromDisplay: msg.Header.Get("From"),
		Subject:     msg.Header.Get("Subject"),
		MessageID:   normalizeMessageID(msg.Header.Get("Message-Id")),
	}

	if date, err := msg.Header.Date(); err == nil {
		env.ReceivedAt = date.UTC()
	}

	if list, err := msg.Header.AddressList("To"); err == nil && len(list) > 0 {
		env.ToAddress = strings.TrimSpace(list[0].Address)
	}
	if env.ToAddress == "" {
		env.ToAddress = recipientFromRawHeaders(msg.Header.Get)
	}

	body, err := io.ReadAll(io.LimitReader(msg.Body, maxBodyBytes))
	if err == nil {
		env.TextBody = string(body)
	}

	return env, nil
}

// extractRecipient resolves the recipient from a structured header, trying
// in order: the To address list, Delivered-To, X-Original-To, then a
// best-effort scrape of the raw To line. First match wins.
func extractRecipient(header *gomail.Header) string {
	if list, err := header.AddressList("To"); err == nil && len(list) > 0 {
		if addr := strings.TrimSpace(list[0].Address); addr != "" {
			return addr
		}
	}
	return recipientFromRawHeaders(header.Get)
}

// recipientFromRawHeaders applies the Delivered-To / X-Original-To / raw-To
// fallback chain using plain header access.
func recipientFromRawHeaders(get func(string) string) string {
	for _, name := range []string{"Delivered-To", "X-Original-To"} {
		if addr := mailboxAddress(get(name)); addr != "" {
			return addr
		}
	}
	return mailboxAddress(get("To"))
}

// mailboxAddress reduces a header value to a bare mailbox address. Accepts
// `Name <user@host>`, `<user@host>`, and bare addresses; as a last resort
// takes the trailing whitespace-separated token.
func mailboxAddress(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	if addr, err := stdmail.ParseAddress(value); err == nil {
		return strings.TrimSpace(addr.Address)
	}

	if open := strings.LastIndex(value, "<"); open >= 0 {
		if end := strings.Index(value[open:], ">"); end > 0 {
			candidate := value[open+1 : open+end]
			if plausibleAddress(candidate) {
				return candidate
			}
		}
	}

	tokens := strings.Fields(value)
	if len(tokens) > 0 {
		candidate := strings.Trim(tokens[len(tokens)-1], "<>,;")
		if plausibleAddress(candidate) {
			return candidate
		}
	}

	return ""
}

func plausibleAddress(s string) bool {
	at := strings.Index(s, "@")
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t")
}

func fromDisplay(header *gomail.Header) string {
	if list, err := header.AddressList("From"); err == nil && len(list) > 0 {
		from := list[0]
		if from.Name != "" {
			return from.Name + " <" + from.Address + ">"
		}
		return from.Address
	}
	return header.Get("From")
}

// normalizeMessageID strips the angle brackets RFC 5322 wraps around
// Message-ID values.
func normalizeMessageID(id string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(id), "<>"))
}

// DocKey derives the storage-safe dedup key for a message ID: every character
// that is illegal in a document key, and any whitespace, is replaced with an
// underscore.
func DocKey(messageID string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '#', '$', '[', ']', '/', '@':
			return '_'
		}
		if unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, messageID)
}
