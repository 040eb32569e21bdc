// Package notify delivers trip summaries to the traveller out of band.
// Delivery is best effort: failures are logged and never reach the turn.
package notify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Message is a trip summary addressed to one recipient.
type Message struct {
	ConversationID string `json:"conversation_id"`
	To             string `json:"to"`
	Name           string `json:"name,omitempty"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
}

// Key identifies a message by recipient and content.
func (m Message) Key() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", m.To, m.Subject, m.Body)
	return hex.EncodeToString(h.Sum(nil))
}

// Sink delivers a message somewhere.
type Sink interface {
	Send(ctx context.Context, m Message) error
}

// LogSink writes messages to the log instead of delivering them.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Send(_ context.Context, m Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("trip summary", "conversation", m.ConversationID, "to", m.To, "subject", m.Subject, "bytes", len(m.Body))
	return nil
}

// WebhookSink POSTs messages as JSON to a URL.
type WebhookSink struct {
	url        string
	httpClient *http.Client
}

// NewWebhookSink creates a sink posting to url.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{url: url, httpClient: &http.Client{Timeout: 10 * time.Second}}
}

func (s *WebhookSink) Send(ctx context.Context, m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", m.Key())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Dedup bounds. A message repeated after DedupWindow is delivered again.
const (
	DedupWindow = 24 * time.Hour
	maxSentKeys = 10000
)

// Dispatcher fans messages out to sinks in the background. The same
// message (by Key) is delivered at most once per DedupWindow.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time
	wg   sync.WaitGroup
}

// NewDispatcher creates a Dispatcher over sinks.
func NewDispatcher(logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sinks: sinks, logger: logger, now: time.Now, sent: make(map[string]time.Time)}
}

// remember records key as sent and reports whether it was already sent
// within the window. Expired keys are swept once the map is full, then the
// oldest goes. Callers hold d.mu.
func (d *Dispatcher) remember(key string) bool {
	now := d.now()
	if at, ok := d.sent[key]; ok && now.Sub(at) < DedupWindow {
		return true
	}
	if len(d.sent) >= maxSentKeys {
		var oldest string
		var oldestAt time.Time
		for k, at := range d.sent {
			if now.Sub(at) >= DedupWindow {
				delete(d.sent, k)
				continue
			}
			if oldest == "" || at.Before(oldestAt) {
				oldest, oldestAt = k, at
			}
		}
		if len(d.sent) >= maxSentKeys {
			delete(d.sent, oldest)
		}
	}
	d.sent[key] = now
	return false
}

// Notify queues m for delivery and returns immediately. It reports whether
// the message was queued; duplicates are skipped.
func (d *Dispatcher) Notify(ctx context.Context, m Message) bool {
	key := m.Key()
	d.mu.Lock()
	dup := d.remember(key)
	d.mu.Unlock()
	if dup {
		d.logger.Info("duplicate notification skipped", "conversation", m.ConversationID, "key", key[:12])
		return false
	}

	// Delivery outlives the turn that asked for it.
	ctx = context.WithoutCancel(ctx)
	for _, s := range d.sinks {
		d.wg.Add(1)
		go func(s Sink) {
			defer d.wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := s.Send(sendCtx, m); err != nil {
				d.logger.Warn("notification failed", "conversation", m.ConversationID, "sink", fmt.Sprintf("%T", s), "error", err)
			}
		}(s)
	}
	return true
}

// Wait blocks until queued deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
