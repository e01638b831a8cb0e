// Package cns implements the central nervous system: the single state
// fusion component that folds VAD, ASR, and TTS-dispatch signals into a
// coherent user/agent activity model and turn memory. Every other
// component treats CNS as the source of truth.
package cns

import (
	"time"

	"github.com/lokutor-ai/turncore/pkg/iu"
)

// Unit kinds consumed and produced by CNS.
const (
	KindAsr              iu.Kind = "asr"
	KindTextRequest      iu.Kind = "text_request"
	KindDispatchProgress iu.Kind = "dispatch_progress"
	KindDialogState      iu.Kind = "dialog_state"
)

// AsrIU is an incremental transcript update. Text is the new text since the
// previous AsrIU, appended to the user's preliminary utterance; Final marks
// the end of a recognition segment.
type AsrIU struct {
	Text      string
	Stability float64
	Final     bool
}

// TextRequestIU requests the speech pipeline begin (Dispatch=true) or abort
// (Dispatch=false, Payload ignored) synthesis of Payload.
type TextRequestIU struct {
	Payload  string
	Dispatch bool
}

// DispatchProgressIU reports the speech pipeline's progress synthesizing a
// dispatched TextRequestIU.
type DispatchProgressIU struct {
	Completion       float64
	IsDispatching    bool
	CompletionWords  string
}

// DialogStateKind enumerates the four combinations of user/agent turn
// activity the policy loop reconciles once per tick.
type DialogStateKind string

const (
	OnlyUser     DialogStateKind = "only_user"
	OnlyAgent    DialogStateKind = "only_agent"
	BothActive   DialogStateKind = "both_active"
	BothInactive DialogStateKind = "both_inactive"
)

// DialogStateIU is a recorded dialog-state transition, pushed only when the
// reconciled state differs from the previous tick's.
type DialogStateIU struct {
	State DialogStateKind
	Time  time.Time
}

// TrpRecord is one query to the remote end-of-turn predictor, kept on
// UserState.AllTRPs regardless of outcome so analysis can reconstruct every
// attempt, including failures recorded as Trp=0.
type TrpRecord struct {
	Trp            float64
	Utterance      string
	Time           time.Time
	PredictionTime time.Time
}

// UserState tracks one user turn from onset to finalization.
type UserState struct {
	StartTime      time.Time
	EndTime        time.Time
	Utterance      string
	PrelUtterance  string
	UtteranceAtEOT string
	TrpAtEOT       float64
	AllTRPs        []TrpRecord
	Fallback       bool
	finalized      bool
}

func newUserState() *UserState {
	return &UserState{StartTime: time.Now(), TrpAtEOT: -1}
}

func (u *UserState) finalize() {
	u.EndTime = time.Now()
	u.finalized = true
}

// AgentState tracks one agent turn from onset to finalization.
type AgentState struct {
	StartTime         time.Time
	EndTime           time.Time
	PlannedUtterance  string
	Utterance         string
	Completion        float64
	Interrupted       bool
	finalized         bool
}

func newAgentState(text string) *AgentState {
	return &AgentState{StartTime: time.Now(), PlannedUtterance: text}
}

func (a *AgentState) finalize() {
	a.EndTime = time.Now()
	if a.Completion >= 1 {
		a.Utterance = a.PlannedUtterance
	}
	a.finalized = true
}
