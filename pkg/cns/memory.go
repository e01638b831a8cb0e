package cns

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Turn is the speaker-tagged, time-ordered view of a finalized UserState or
// AgentState that Memory exposes to readers. It never aliases the
// underlying state: turns are copied out under lock so writers and readers
// never share mutable state.
type Turn struct {
	Speaker   string // "user" or "agent"
	Utterance string
	StartTime time.Time
	EndTime   time.Time
}

// Memory holds two ordered sequences of finalized turns, merged by
// StartTime on read. A single mutex guards mutation; DialogText and Turns
// take a read lock and copy, so callers never observe a half-updated slice.
type Memory struct {
	mu         sync.RWMutex
	turnsUser  []*UserState
	turnsAgent []*AgentState
	StartTime  time.Time
}

// NewMemory returns an empty Memory stamped with the current time as the
// session start. The session recorder exports it alongside the absolute
// turn and timeline timestamps; those timestamps are not normalized
// against it.
func NewMemory() *Memory {
	return &Memory{StartTime: time.Now()}
}

// AppendUser records a finalized UserState. Callers must only pass states
// already finalized; Memory does not finalize on their behalf.
func (m *Memory) AppendUser(u *UserState) {
	m.mu.Lock()
	m.turnsUser = append(m.turnsUser, u)
	m.mu.Unlock()
}

// AppendAgent records a finalized AgentState.
func (m *Memory) AppendAgent(a *AgentState) {
	m.mu.Lock()
	m.turnsAgent = append(m.turnsAgent, a)
	m.mu.Unlock()
}

// PopLastUser removes and returns the most recently appended user turn, for
// the retrigger case where a falsely finalized turn must be reinstated as
// active. It returns nil if there is no user turn to pop.
func (m *Memory) PopLastUser() *UserState {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.turnsUser)
	if n == 0 {
		return nil
	}
	u := m.turnsUser[n-1]
	m.turnsUser = m.turnsUser[:n-1]
	return u
}

// Turns returns every finalized turn, sorted by StartTime.
func (m *Memory) Turns() []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	turns := make([]Turn, 0, len(m.turnsUser)+len(m.turnsAgent))
	for _, u := range m.turnsUser {
		turns = append(turns, Turn{Speaker: "user", Utterance: u.Utterance, StartTime: u.StartTime, EndTime: u.EndTime})
	}
	for _, a := range m.turnsAgent {
		turns = append(turns, Turn{Speaker: "agent", Utterance: a.Utterance, StartTime: a.StartTime, EndTime: a.EndTime})
	}
	sort.Slice(turns, func(i, j int) bool { return turns[i].StartTime.Before(turns[j].StartTime) })
	return turns
}

// DialogText condenses the merged turn sequence: consecutive same-speaker
// utterances are concatenated with a single space, runs of whitespace
// collapsed, and the whole condensed string trimmed. This is the one place
// whitespace normalization happens; nothing else in the package does it.
func (m *Memory) DialogText() []string {
	turns := m.Turns()
	if len(turns) == 0 {
		return nil
	}

	dialog := make([]string, 0, len(turns))
	current := turns[0].Utterance
	lastSpeaker := turns[0].Speaker
	for _, t := range turns[1:] {
		if t.Utterance == "" {
			continue
		}
		if t.Speaker == lastSpeaker {
			current = current + " " + normalizeWhitespace(t.Utterance)
		} else {
			dialog = append(dialog, normalizeWhitespace(current))
			current = normalizeWhitespace(t.Utterance)
			lastSpeaker = t.Speaker
		}
	}
	dialog = append(dialog, normalizeWhitespace(current))
	return dialog
}

func normalizeWhitespace(s string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}
