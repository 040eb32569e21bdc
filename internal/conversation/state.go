// Package conversation drives one traveller conversation turn by turn:
// human-input gating, plan updates, search reuse and reply synthesis, with
// state checkpointed after every turn.
package conversation

import (
	"strings"

	"github.com/kalambet/tripd/internal/plan"
	"github.com/kalambet/tripd/internal/search"
)

// Stage is where a conversation stands after a turn.
type Stage string

const (
	StageCollectingInfo  Stage = "collecting_info"
	StageCollectingDates Stage = "collecting_dates"
	StageReady           Stage = "ready"
	StagePausedForResume Stage = "paused_for_resume"
)

// FormCustomerInfo is the form a suspended conversation waits on.
const FormCustomerInfo = "customer_info"

// EntryKind discriminates history entries.
type EntryKind string

const (
	EntryUserTurn       EntryKind = "user_turn"
	EntryToolResult     EntryKind = "tool_result"
	EntryAssistantReply EntryKind = "assistant_reply"
)

// Entry is one item of the conversation log. Exactly one of Text or Record
// is meaningful, depending on Kind. Plan is the plan snapshot the entry was
// produced under, if any.
type Entry struct {
	Kind   EntryKind            `json:"kind"`
	Turn   int                  `json:"turn"`
	Text   string               `json:"text,omitempty"`
	Plan   *plan.TripPlan       `json:"plan,omitempty"`
	Record *search.ResultRecord `json:"record,omitempty"`
}

// HumanInput is the contact form the traveller fills in.
type HumanInput struct {
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
	Budget string `json:"budget,omitempty"`
}

// Complete reports whether the form has a way to reach the traveller and a
// budget.
func (h HumanInput) Complete() bool {
	return (h.Email != "" || h.Phone != "") && h.Budget != ""
}

// Merge returns h overlaid with the non-empty fields of o.
func (h HumanInput) Merge(o HumanInput) HumanInput {
	pick := func(cur, next string) string {
		if s := strings.TrimSpace(next); s != "" {
			return s
		}
		return cur
	}
	return HumanInput{
		Name:   pick(h.Name, o.Name),
		Email:  pick(h.Email, o.Email),
		Phone:  pick(h.Phone, o.Phone),
		Budget: pick(h.Budget, o.Budget),
	}
}

// Step names the point a suspended turn continues from.
type Step string

// StepPlanTurn continues with plan extraction for the preserved request.
const StepPlanTurn Step = "plan_turn"

// Suspension is an outstanding request for human input.
type Suspension struct {
	Form    string `json:"form"`
	Step    Step   `json:"step"`
	Request string `json:"request"`
}

// State is everything persisted for a conversation.
type State struct {
	ID         string         `json:"id"`
	Turn       int            `json:"turn"`
	Plan       *plan.TripPlan `json:"plan,omitempty"`
	OneWay     bool           `json:"one_way,omitempty"`
	Contact    HumanInput     `json:"contact"`
	Stage      Stage          `json:"stage,omitempty"`
	Suspension *Suspension    `json:"suspension,omitempty"`
	Entries    []Entry        `json:"entries,omitempty"`
}

// NewState returns an empty conversation.
func NewState(id string) *State {
	return &State{ID: id}
}

// Suspended reports whether the conversation waits for human input.
func (s *State) Suspended() bool {
	return s.Suspension != nil
}

// Records returns the search results logged so far, oldest first.
func (s *State) Records() []search.ResultRecord {
	var out []search.ResultRecord
	for _, e := range s.Entries {
		if e.Kind == EntryToolResult && e.Record != nil {
			out = append(out, *e.Record)
		}
	}
	return out
}

// LastReply returns the most recent assistant reply.
func (s *State) LastReply() string {
	for i := len(s.Entries) - 1; i >= 0; i-- {
		if s.Entries[i].Kind == EntryAssistantReply {
			return s.Entries[i].Text
		}
	}
	return ""
}

func (s *State) nextSeq() int {
	n := 0
	for _, e := range s.Entries {
		if e.Kind == EntryToolResult {
			n++
		}
	}
	return n
}

// startTrip forgets the current trip but keeps the contact details.
func (s *State) startTrip() {
	s.Plan = nil
	s.OneWay = false
	s.Stage = ""
	s.Entries = nil
	s.Turn = 0
}

func (s *State) add(e Entry) {
	e.Turn = s.Turn
	s.Entries = append(s.Entries, e)
}
