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

package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tempbox/ingestion/internal/auth"
	"github.com/tempbox/ingestion/internal/mailparse"
	"github.com/tempbox/ingestion/internal/models"
	"github.com/tempbox/ingestion/internal/settings"
)

// --- Fakes ---

type fakeResolver struct {
	cfg *models.ProviderConfig
	err error
}

func (f *fakeResolver) ResolveActive(context.Context) (*models.ProviderConfig, error) {
	return f.cfg, f.err
}

type fakeStore struct {
	mu      sync.Mutex
	inboxes map[string]*models.Inbox // keyed by address
	emails  map[string]*models.Email // keyed by inboxID + "/" + docKey

	findErr   error
	createErr error

	// raceMode makes EmailExists always report false so the conditional
	// insert is what catches the duplicate.
	raceMode bool
}

func newFakeStore(inboxes ...*models.Inbox) *fakeStore {
	s := &fakeStore{
		inboxes: make(map[string]*models.Inbox),
		emails:  make(map[string]*models.Email),
	}
	for _, in := range inboxes {
		s.inboxes[in.EmailAddress] = in
	}
	return s
}

func (f *fakeStore) FindInboxByAddress(_ context.Context, address string) (*models.Inbox, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inboxes[address], nil
}

func (f *fakeStore) EmailExists(_ context.Context, inboxID, docKey string) (bool, error) {
	if f.raceMode {
		return false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.emails[inboxID+"/"+docKey]
	return ok, nil
}

func (f *fakeStore) CreateEmail(_ context.Context, email *models.Email) (bool, error) {
	if f.createErr != nil {
		return false, f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := email.InboxID + "/" + email.ID
	if _, ok := f.emails[key]; ok {
		return false, nil
	}
	f.emails[key] = email
	for _, in := range f.inboxes {
		if in.ID == email.InboxID {
			in.EmailCount++
		}
	}
	return true, nil
}

type fakeDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{seen: make(map[string]bool)}
}

func (f *fakeDedup) Seen(_ context.Context, docKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[docKey], nil
}

func (f *fakeDedup) MarkSeen(_ context.Context, docKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[docKey] = true
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*models.Email
}

func (f *fakePublisher) PublishEmailStored(_ context.Context, email *models.Email) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, email)
	return nil
}

// --- Fixtures ---

func sharedSecretProvider() *models.ProviderConfig {
	return &models.ProviderConfig{
		Provider:       "cloudmailin",
		Enabled:        true,
		Secret:         "hook-secret",
		AuthHeaderName: "X-Inbound-Secret",
		Scheme:         models.SchemeSharedSecret,
		Shape:          models.ShapeRawMime,
	}
}

var rawMessage = strings.ReplaceAll(`From: Jane <jane@sender.test>
To: user123@domain.test
Subject: Hi
Message-ID: <abc@domain.test>
Content-Type: text/plain; charset=utf-8

Hello
`, "\n", "\r\n")

func mimeRequest(secret string) Request {
	headers := http.Header{}
	if secret != "" {
		headers.Set("X-Inbound-Secret", secret)
	}
	return Request{
		Headers:     headers,
		Body:        []byte(rawMessage),
		ContentType: "message/rfc822",
		ReceivedAt:  time.Now().UTC(),
	}
}

func testInbox() *models.Inbox {
	return &models.Inbox{
		ID:           "inbox-1",
		UserID:       "user-1",
		EmailAddress: "user123@domain.test",
		EmailCount:   0,
	}
}

// --- Tests ---

func TestProcess_StoresNewEmail(t *testing.T) {
	inbox := testInbox()
	store := newFakeStore(inbox)
	pub := &fakePublisher{}
	pipe := New(&fakeResolver{cfg: sharedSecretProvider()}, store, newFakeDedup(), pub)

	result := pipe.Process(context.Background(), mimeRequest("hook-secret"))

	if result.Outcome != OutcomeStored {
		t.Fatalf("Outcome = %v (err=%v), want stored", result.Outcome, result.Err)
	}
	if result.Email == nil || result.Email.ID != "abc_domain_test" {
		t.Errorf("Email.ID = %+v, want abc_domain_test", result.Email)
	}
	if inbox.EmailCount != 1 {
		t.Errorf("EmailCount = %d, want 1", inbox.EmailCount)
	}
	if len(pub.events) != 1 {
		t.Errorf("published events = %d, want 1", len(pub.events))
	}
}

func TestProcess_Idempotent(t *testing.T) {
	inbox := testInbox()
	store := newFakeStore(inbox)
	pipe := New(&fakeResolver{cfg: sharedSecretProvider()}, store, newFakeDedup(), &fakePublisher{})

	first := pipe.Process(context.Background(), mimeRequest("hook-secret"))
	second := pipe.Process(context.Background(), mimeRequest("hook-secret"))

	if first.Outcome != OutcomeStored {
		t.Fatalf("first Outcome = %v, want stored", first.Outcome)
	}
	if second.Outcome != OutcomeDuplicate {
		t.Errorf("second Outcome = %v, want duplicate", second.Outcome)
	}
	if inbox.EmailCount != 1 {
		t.Errorf("EmailCount = %d, want exactly 1", inbox.EmailCount)
	}
	if len(store.emails) != 1 {
		t.Errorf("stored emails = %d, want 1", len(store.emails))
	}
}

func TestProcess_IdempotentWithoutDedupCache(t *testing.T) {
	// The store check alone must catch redelivery when Redis is absent.
	inbox := testInbox()
	store := newFakeStore(inbox)
	pipe := New(&fakeResolver{cfg: sharedSecretProvider()}, store, nil, nil)

	pipe.Process(context.Background(), mimeRequest("hook-secret"))
	second := pipe.Process(context.Background(), mimeRequest("hook-secret"))

	if second.Outcome != OutcomeDuplicate {
		t.Errorf("second Outcome = %v, want duplicate", second.Outcome)
	}
	if inbox.EmailCount != 1 {
		t.Errorf("EmailCount = %d, want 1", inbox.EmailCount)
	}
}

func TestProcess_NoInboxDrops(t *testing.T) {
	store := newFakeStore() // no inboxes at all
	pipe := New(&fakeResolver{cfg: sharedSecretProvider()}, store, newFakeDedup(), &fakePublisher{})

	result := pipe.Process(context.Background(), mimeRequest("hook-secret"))

	if result.Outcome != OutcomeNoInbox {
		t.Fatalf("Outcome = %v, want no_inbox", result.Outcome)
	}
	if len(store.emails) != 0 {
		t.Errorf("stored emails = %d, want 0", len(store.emails))
	}
}

func TestProcess_Unauthorized(t *testing.T) {
	pipe := New(&fakeResolver{cfg: sharedSecretProvider()}, newFakeStore(testInbox()), nil, nil)

	result := pipe.Process(context.Background(), mimeRequest("wrong-secret"))

	if result.Outcome != OutcomeRejected {
		t.Fatalf("Outcome = %v, want rejected", result.Outcome)
	}
	if !errors.Is(result.Err, auth.ErrUnauthorized) {
		t.Errorf("Err = %v, want ErrUnauthorized", result.Err)
	}
}

func TestProcess_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"disabled provider", settings.ErrProviderDisabled},
		{"missing credentials", settings.ErrMissingCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipe := New(&fakeResolver{err: tt.err}, newFakeStore(), nil, nil)
			result := pipe.Process(context.Background(), mimeRequest("hook-secret"))
			if result.Outcome != OutcomeRejected {
				t.Fatalf("Outcome = %v, want rejected", result.Outcome)
			}
			if !errors.Is(result.Err, tt.err) {
				t.Errorf("Err = %v, want %v", result.Err, tt.err)
			}
		})
	}
}

func TestProcess_NoRecipientRejected(t *testing.T) {
	pipe := New(&fakeResolver{cfg: sharedSecretProvider()}, newFakeStore(), nil, nil)

	raw := strings.ReplaceAll(`From: jane@sender.test
Subject: orphan
Content-Type: text/plain

body
`, "\n", "\r\n")

	headers := http.Header{}
	headers.Set("X-Inbound-Secret", "hook-secret")
	result := pipe.Process(context.Background(), Request{
		Headers:     headers,
		Body:        []byte(raw),
		ContentType: "message/rfc822",
		ReceivedAt:  time.Now().UTC(),
	})

	if result.Outcome != OutcomeRejected {
		t.Fatalf("Outcome = %v, want rejected", result.Outcome)
	}
	if !errors.Is(result.Err, mailparse.ErrNoRecipient) {
		t.Errorf("Err = %v, want ErrNoRecipient", result.Err)
	}
}

func TestProcess_InsertRaceYieldsDuplicate(t *testing.T) {
	// Simulate losing the conditional write to a concurrent delivery: the
	// existence check misses but the insert finds the row already there.
	inbox := testInbox()
	store := newFakeStore(inbox)
	store.raceMode = true
	store.emails["inbox-1/abc_domain_test"] = &models.Email{ID: "abc_domain_test"}

	pipe := New(&fakeResolver{cfg: sharedSecretProvider()}, store, nil, nil)
	result := pipe.Process(context.Background(), mimeRequest("hook-secret"))

	if result.Outcome != OutcomeDuplicate {
		t.Errorf("Outcome = %v, want duplicate", result.Outcome)
	}
	if inbox.EmailCount != 0 {
		t.Errorf("EmailCount = %d, want 0", inbox.EmailCount)
	}
}

func TestProcess_StoreFailureRejected(t *testing.T) {
	store := newFakeStore(testInbox())
	store.createErr = errors.New("connection reset")

	pipe := New(&fakeResolver{cfg: sharedSecretProvider()}, store, nil, nil)
	result := pipe.Process(context.Background(), mimeRequest("hook-secret"))

	if result.Outcome != OutcomeRejected {
		t.Errorf("Outcome = %v, want rejected", result.Outcome)
	}
}
