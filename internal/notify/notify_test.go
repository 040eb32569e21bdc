package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (s *recordingSink) Send(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return s.err
}

func summary(body string) Message {
	return Message{ConversationID: "conv-1", To: "ada@example.com", Subject: "Your trip to Tokyo", Body: body}
}

func TestDispatcher_SkipsDuplicates(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(nil, sink)

	if !d.Notify(context.Background(), summary("flights and hotels")) {
		t.Fatal("first Notify returned false")
	}
	if d.Notify(context.Background(), summary("flights and hotels")) {
		t.Error("duplicate Notify returned true")
	}
	if !d.Notify(context.Background(), summary("updated options")) {
		t.Error("changed content was skipped")
	}
	d.Wait()

	if len(sink.msgs) != 2 {
		t.Errorf("delivered %d messages, want 2", len(sink.msgs))
	}
}

func TestDispatcher_DedupExpires(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(nil, sink)
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	d.Notify(ctx, summary("flights and hotels"))
	d.Notify(ctx, summary("older plan"))
	now = now.Add(DedupWindow - time.Minute)
	if d.Notify(ctx, summary("flights and hotels")) {
		t.Error("duplicate inside the window was queued")
	}
	now = now.Add(2 * time.Minute)
	if !d.Notify(ctx, summary("flights and hotels")) {
		t.Error("message after the window was skipped")
	}
	d.Wait()

	if len(sink.msgs) != 3 {
		t.Errorf("delivered %d messages, want 3", len(sink.msgs))
	}
}

func TestDispatcher_FullMapDropsExpiredFirst(t *testing.T) {
	d := NewDispatcher(nil)
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	stale := summary("stale").Key()
	d.sent[stale] = now.Add(-2 * DedupWindow)
	for i := 1; i < maxSentKeys; i++ {
		d.sent[fmt.Sprintf("key-%d", i)] = now.Add(-time.Duration(i) * time.Second)
	}
	d.remember(summary("fresh").Key())

	if _, ok := d.sent[stale]; ok {
		t.Error("expired key survived the sweep")
	}
	if _, ok := d.sent[fmt.Sprintf("key-%d", maxSentKeys-1)]; !ok {
		t.Error("live key evicted while an expired one could go")
	}
	if len(d.sent) != maxSentKeys {
		t.Errorf("remembered %d keys, want %d", len(d.sent), maxSentKeys)
	}
}

func TestDispatcher_DedupIsBounded(t *testing.T) {
	d := NewDispatcher(nil)
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	i := 0
	d.now = func() time.Time { return base.Add(time.Duration(i) * time.Millisecond) }

	first := summary("message 0").Key()
	for i = 0; i <= maxSentKeys; i++ {
		d.mu.Lock()
		d.remember(summary(fmt.Sprintf("message %d", i)).Key())
		d.mu.Unlock()
	}
	if len(d.sent) != maxSentKeys {
		t.Errorf("remembered %d keys, want %d", len(d.sent), maxSentKeys)
	}
	if _, ok := d.sent[first]; ok {
		t.Error("oldest key was not evicted")
	}
}

func TestDispatcher_FailingSinkDoesNotBlockOthers(t *testing.T) {
	bad := &recordingSink{err: errors.New("smtp down")}
	good := &recordingSink{}
	d := NewDispatcher(nil, bad, good)

	d.Notify(context.Background(), summary("body"))
	d.Wait()

	if len(good.msgs) != 1 {
		t.Errorf("good sink got %d messages, want 1", len(good.msgs))
	}
}

func TestDispatcher_SurvivesCancelledContext(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(nil, sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Notify(ctx, summary("body"))
	d.Wait()

	if len(sink.msgs) != 1 {
		t.Errorf("delivered %d messages, want 1", len(sink.msgs))
	}
}

func TestWebhookSink(t *testing.T) {
	var got Message
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("Idempotency-Key")
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := summary("body")
	if err := NewWebhookSink(srv.URL).Send(context.Background(), m); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got != m {
		t.Errorf("posted %+v, want %+v", got, m)
	}
	if key != m.Key() {
		t.Errorf("Idempotency-Key = %q, want %q", key, m.Key())
	}
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookSink(srv.URL).Send(context.Background(), summary("body")); err == nil {
		t.Fatal("expected error on 502")
	}
}
