package metrics

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/kalambet/tripd/internal/conversation"
	"github.com/kalambet/tripd/internal/plan"
)

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			if matches(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matches(m *dto.Metric, labels map[string]string) bool {
	n := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			n++
		}
	}
	return n == len(labels)
}

func TestObserveSearch(t *testing.T) {
	m := New()
	m.ObserveSearch(plan.CategoryFlights, "error", time.Second)
	m.ObserveSearch(plan.CategoryFlights, "error", time.Second)
	m.ObserveSearch(plan.CategoryHotels, "ok", time.Second)

	if got := counterValue(t, m, "tripd_searches_total", map[string]string{"category": "flights", "outcome": "error"}); got != 2 {
		t.Errorf("flights errors = %v, want 2", got)
	}
	if got := counterValue(t, m, "tripd_searches_total", map[string]string{"category": "hotels", "outcome": "ok"}); got != 1 {
		t.Errorf("hotels ok = %v, want 1", got)
	}
}

func TestObserveDecisionAndTurn(t *testing.T) {
	m := New()
	m.ObserveDecision(plan.CategoryActivities, plan.DecisionReuse)
	m.ObserveTurn(conversation.StageReady, 2*time.Second)
	m.ObserveJob("completed")

	if got := counterValue(t, m, "tripd_search_decisions_total", map[string]string{"category": "activities", "decision": "reuse"}); got != 1 {
		t.Errorf("reuse decisions = %v, want 1", got)
	}
	if got := counterValue(t, m, "tripd_turns_total", map[string]string{"stage": "ready"}); got != 1 {
		t.Errorf("ready turns = %v, want 1", got)
	}
	if got := counterValue(t, m, "tripd_jobs_total", map[string]string{"state": "completed"}); got != 1 {
		t.Errorf("completed jobs = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveJob("failed")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `tripd_jobs_total{state="failed"} 1`) {
		t.Errorf("exposition missing job counter:\n%s", body)
	}
}

func gaugeValue(t *testing.T, m *Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) == 1 {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("gauge %s not registered", name)
	return 0
}

func TestTrackSuspended(t *testing.T) {
	m := New()
	n := 3
	var countErr error
	m.TrackSuspended(func(context.Context) (int, error) { return n, countErr })

	if got := gaugeValue(t, m, "tripd_conversations_suspended"); got != 3 {
		t.Errorf("suspended = %v, want 3", got)
	}
	n = 1
	if got := gaugeValue(t, m, "tripd_conversations_suspended"); got != 1 {
		t.Errorf("suspended after change = %v, want 1", got)
	}
	countErr = errors.New("database closed")
	if got := gaugeValue(t, m, "tripd_conversations_suspended"); !math.IsNaN(got) {
		t.Errorf("suspended on error = %v, want NaN", got)
	}
}
