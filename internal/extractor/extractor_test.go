package extractor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/tripd/internal/engine"
	"github.com/kalambet/tripd/internal/plan"
)

// mockChatter implements Chatter for testing.
type mockChatter struct {
	response string
	err      error
	delay    time.Duration

	messages []engine.Message
	schema   *engine.Schema
}

func (m *mockChatter) Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error) {
	m.messages = messages
	m.schema = jsonSchema
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.response, m.err
}

func newTestExtractor(m *mockChatter) *Extractor {
	e := New(m, "llama3.2")
	e.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func TestExtract(t *testing.T) {
	mock := &mockChatter{
		response: `{"origin":"Paris","destination":" Tokyo ","departure_date":"2026-04-10","duration_days":4,"party_size":2,"cabin_class":"business","intent":"full"}`,
	}
	got, err := newTestExtractor(mock).Extract(context.Background(), "Paris to Tokyo on April 10 for 4 days, two of us in business")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	want := plan.TripPlan{
		Origin:        "Paris",
		Destination:   "Tokyo",
		DepartureDate: "2026-04-10",
		DurationDays:  4,
		PartySize:     2,
		CabinClass:    "BUSINESS",
		Intent:        plan.IntentFull,
	}
	if got != want {
		t.Errorf("Extract() = %+v, want %+v", got, want)
	}
	if mock.schema == nil || len(mock.schema.Required) == 0 {
		t.Error("Extract did not send a schema with required fields")
	}
	if !strings.Contains(mock.messages[0].Content, "2026-03-01") {
		t.Error("system prompt does not carry today's date")
	}
}

func TestExtract_DefaultsUnknownIntent(t *testing.T) {
	mock := &mockChatter{response: `{"destination":"Rome","party_size":0,"intent":"cruise"}`}
	got, err := newTestExtractor(mock).Extract(context.Background(), "Rome please")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Intent != plan.IntentFull || got.PartySize != 1 {
		t.Errorf("Extract() = %+v, want intent full and party size 1", got)
	}
}

func TestExtract_CodeFence(t *testing.T) {
	mock := &mockChatter{response: "```json\n{\"destination\":\"Lima\",\"party_size\":1,\"intent\":\"hotels_only\"}\n```"}
	got, err := newTestExtractor(mock).Extract(context.Background(), "a hotel in Lima")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Destination != "Lima" || got.Intent != plan.IntentHotelsOnly {
		t.Errorf("Extract() = %+v", got)
	}
}

func TestExtract_MalformedJSON(t *testing.T) {
	mock := &mockChatter{response: `not valid json {{{`}
	if _, err := newTestExtractor(mock).Extract(context.Background(), "some trip"); err == nil {
		t.Error("expected an error for malformed output")
	}
}

func TestExtract_ChatError(t *testing.T) {
	mock := &mockChatter{err: errors.New("connection refused")}
	if _, err := newTestExtractor(mock).Extract(context.Background(), "Paris to Tokyo"); err == nil {
		t.Error("expected an error when the engine is down")
	}
}

func TestExtract_EmptyMessage(t *testing.T) {
	mock := &mockChatter{response: `{"destination":"Rome"}`}
	_, err := newTestExtractor(mock).Extract(context.Background(), "   ")
	if !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("err = %v, want ErrEmptyMessage", err)
	}
	if mock.messages != nil {
		t.Error("engine was called for an empty message")
	}
}

func TestExtract_Cancelled(t *testing.T) {
	mock := &mockChatter{response: `{"destination":"Rome"}`, delay: 5 * time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := newTestExtractor(mock).Extract(ctx, "Rome"); err == nil {
		t.Error("expected an error on cancellation")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Extract took %v after cancellation", elapsed)
	}
}

func TestUpdate(t *testing.T) {
	mock := &mockChatter{response: `{"origin":"London","total_budget":null}`}
	prev := plan.TripPlan{Origin: "Paris", Destination: "Tokyo", PartySize: 1, Intent: plan.IntentFull}

	patch, err := newTestExtractor(mock).Update(context.Background(), prev, "Change my origin to London")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if patch.Origin == nil || *patch.Origin != "London" {
		t.Errorf("Origin = %v, want London", patch.Origin)
	}
	if patch.Destination != nil || patch.TotalBudget != nil {
		t.Errorf("patch touches fields the message did not change: %+v", patch)
	}
	if mock.schema == nil || len(mock.schema.Required) != 0 {
		t.Error("patch schema must not require fields")
	}
	if !strings.Contains(mock.messages[0].Content, `"destination":"Tokyo"`) {
		t.Error("system prompt does not carry the current plan")
	}

	next := prev.Apply(patch)
	if next.Origin != "London" || next.Destination != "Tokyo" {
		t.Errorf("applied plan = %+v", next)
	}
}

func TestUpdate_ChatError(t *testing.T) {
	mock := &mockChatter{err: errors.New("boom")}
	if _, err := newTestExtractor(mock).Update(context.Background(), plan.TripPlan{}, "cheaper please"); err == nil {
		t.Error("expected an error")
	}
}
