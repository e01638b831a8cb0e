package cns

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lokutor-ai/turncore/pkg/iu"
	"github.com/lokutor-ai/turncore/pkg/vad"
)

type noOpLogger struct{}

func (noOpLogger) Debug(string, ...interface{}) {}
func (noOpLogger) Info(string, ...interface{})  {}
func (noOpLogger) Warn(string, ...interface{})  {}
func (noOpLogger) Error(string, ...interface{}) {}

// Timelines is a point-in-time copy of every onset/offset timestamp series
// CNS has recorded, for the session recorder to serialize on shutdown.
type Timelines struct {
	StartTime        time.Time
	VadIPUOn         []time.Time
	VadIPUOff        []time.Time
	VadTurnOn        []time.Time
	VadTurnOff       []time.Time
	AsrOn            []time.Time
	AsrOff           []time.Time
	AgentTurnOn      []time.Time
	AgentTurnOff     []time.Time
	AgentInterrupted []time.Time
	DialogStates     []DialogStateIU
}

// CNS is the central nervous system: the single component every other
// module treats as the source of truth for user/agent activity. It is
// mutated only by its own runtime worker (via ProcessUnit), by the public
// operation methods called from the policy loop's single goroutine, and by
// VAD event callbacks invoked synchronously on the VAD aggregator's worker;
// everything else reads through the accessor methods below.
type CNS struct {
	creator *iu.Creator
	rt      *iu.Runtime
	log     iu.Logger

	vadIPUActive    atomic.Bool
	vadTurnActive   atomic.Bool
	asrActive       atomic.Bool
	userTurnActive  atomic.Bool
	agentTurnActive atomic.Bool
	dialogEnded     atomic.Bool

	mu               sync.RWMutex
	user             *UserState
	agent            *AgentState
	askQuestionAgain bool

	memory *Memory

	timelineMu sync.Mutex
	timelines  Timelines
}

// New builds a CNS publishing TextRequestIU on rt. rt must have this CNS
// Registered before Run is called so Publish can resolve its subscribers.
func New(rt *iu.Runtime, log iu.Logger) *CNS {
	if log == nil {
		log = noOpLogger{}
	}
	mem := NewMemory()
	return &CNS{
		creator:   iu.NewCreator("cns"),
		rt:        rt,
		log:       log,
		memory:    mem,
		timelines: Timelines{StartTime: mem.StartTime},
	}
}

func (c *CNS) Name() string { return "cns" }

func (c *CNS) Kinds() []iu.Kind { return []iu.Kind{KindAsr, KindDispatchProgress} }

func (c *CNS) OutputKind() (iu.Kind, bool) { return KindTextRequest, true }

// ProcessUnit dispatches incoming AsrIU/DispatchProgressIU to the
// corresponding edge handler. A handler error is logged and the unit is
// dropped per the transient-error contract; the worker continues.
func (c *CNS) ProcessUnit(u iu.Unit) (*iu.Unit, error) {
	switch u.Kind {
	case KindAsr:
		asr, ok := u.Payload.(AsrIU)
		if !ok {
			return nil, fmt.Errorf("cns: unexpected payload type %T for asr", u.Payload)
		}
		c.handleAsr(asr)
	case KindDispatchProgress:
		dp, ok := u.Payload.(DispatchProgressIU)
		if !ok {
			return nil, fmt.Errorf("cns: unexpected payload type %T for dispatch progress", u.Payload)
		}
		c.handleDispatch(dp)
	default:
		return nil, fmt.Errorf("cns: unsupported unit kind %q", u.Kind)
	}
	return nil, nil
}

func (c *CNS) handleAsr(a AsrIU) {
	now := time.Now()
	wasActive := c.asrActive.Load()
	if !wasActive {
		c.asrActive.Store(true)
		c.timelineMu.Lock()
		c.timelines.AsrOn = append(c.timelines.AsrOn, now)
		c.timelineMu.Unlock()
	}

	c.mu.Lock()
	if c.user != nil {
		c.user.PrelUtterance = c.user.PrelUtterance + a.Text
		if a.Final {
			c.user.Utterance = c.user.PrelUtterance
		}
	}
	c.mu.Unlock()

	if a.Final {
		c.asrActive.Store(false)
		c.timelineMu.Lock()
		c.timelines.AsrOff = append(c.timelines.AsrOff, now)
		c.timelineMu.Unlock()
	}
}

func (c *CNS) handleDispatch(d DispatchProgressIU) {
	c.mu.Lock()
	if c.agentTurnActive.Load() && c.agent != nil {
		c.agent.Completion = d.Completion
		if d.CompletionWords != "" {
			c.agent.Utterance = d.CompletionWords
		}
	}
	var finalized *AgentState
	if d.Completion >= 1 {
		c.askQuestionAgain = false
		finalized = c.finalizeAgentLocked()
	}
	c.mu.Unlock()

	if finalized != nil {
		c.memory.AppendAgent(finalized)
	}
}

// finalizeAgentLocked must be called with c.mu held. It mirrors the
// original behavior of only recording a turn once the agent actually
// produced words: an agent turn aborted before any dispatch progress
// arrived leaves no trace in memory or the turn-off timeline.
func (c *CNS) finalizeAgentLocked() *AgentState {
	c.agentTurnActive.Store(false)
	if c.agent == nil || c.agent.Utterance == "" {
		return nil
	}
	c.agent.finalize()
	agent := c.agent
	c.timelineMu.Lock()
	c.timelines.AgentTurnOff = append(c.timelines.AgentTurnOff, agent.EndTime)
	c.timelineMu.Unlock()
	return agent
}

// InitUserTurn creates a new UserState, or reinstates resume as the active
// user turn on a retrigger. Pass nil for a fresh turn.
func (c *CNS) InitUserTurn(resume *UserState) {
	c.mu.Lock()
	if resume == nil {
		c.user = newUserState()
	} else {
		c.user = resume
	}
	c.mu.Unlock()
	c.userTurnActive.Store(true)
}

// FinalizeUser stamps the active user turn's end time, appends it to
// memory, and clears the active user slot. Calling it with no active user
// turn is a no-op.
func (c *CNS) FinalizeUser() {
	c.mu.Lock()
	if c.user == nil {
		c.mu.Unlock()
		return
	}
	c.user.finalize()
	finished := c.user
	c.user = nil
	c.userTurnActive.Store(false)
	c.mu.Unlock()

	c.timelineMu.Lock()
	c.timelines.VadTurnOff = append(c.timelines.VadTurnOff, finished.EndTime)
	c.timelineMu.Unlock()

	c.memory.AppendUser(finished)
}

// InitAgentTurn creates a new AgentState planning to speak text and emits a
// TextRequestIU requesting dispatch.
func (c *CNS) InitAgentTurn(text string) {
	c.mu.Lock()
	c.agent = newAgentState(text)
	onset := c.agent.StartTime
	c.mu.Unlock()
	c.agentTurnActive.Store(true)

	c.timelineMu.Lock()
	c.timelines.AgentTurnOn = append(c.timelines.AgentTurnOn, onset)
	c.timelineMu.Unlock()

	c.emitTextRequest(text, true)
}

// StopSpeech aborts the current agent speech. If finalize is true the
// agent turn is marked interrupted and finalized immediately (skipped if no
// words were dispatched yet); if false the abort is transient (e.g. a
// backchannel) and the agent turn is left active.
func (c *CNS) StopSpeech(finalize bool) {
	c.mu.Lock()
	active := c.agentTurnActive.Load()
	var finalized *AgentState
	if active {
		now := time.Now()
		c.timelineMu.Lock()
		c.timelines.AgentInterrupted = append(c.timelines.AgentInterrupted, now)
		c.timelineMu.Unlock()

		if finalize && c.agent != nil {
			c.agent.Interrupted = true
			finalized = c.finalizeAgentLocked()
		}
	}
	c.mu.Unlock()

	if finalized != nil {
		c.memory.AppendAgent(finalized)
	}
	c.emitTextRequest("", false)
}

func (c *CNS) emitTextRequest(text string, dispatch bool) {
	u := c.creator.New(KindTextRequest, TextRequestIU{Payload: text, Dispatch: dispatch}, nil)
	c.rt.Publish(c, u)
}

// VadCallback updates the turn/ipu activity flag and appends the
// corresponding onset/offset timestamp. Called synchronously on the VAD
// aggregator's worker goroutine via runtime event subscription.
func (c *CNS) VadCallback(kind vad.DetectorKind, active bool, at time.Time) {
	switch kind {
	case vad.IPU:
		c.vadIPUActive.Store(active)
		c.timelineMu.Lock()
		if active {
			c.timelines.VadIPUOn = append(c.timelines.VadIPUOn, at)
		} else {
			c.timelines.VadIPUOff = append(c.timelines.VadIPUOff, at)
		}
		c.timelineMu.Unlock()
	case vad.Turn:
		c.vadTurnActive.Store(active)
		c.timelineMu.Lock()
		if active {
			c.timelines.VadTurnOn = append(c.timelines.VadTurnOn, at)
		} else {
			c.timelines.VadTurnOff = append(c.timelines.VadTurnOff, at)
		}
		c.timelineMu.Unlock()
	default:
		// Fast is recorded by the VAD aggregator's own observability path
		// only; no policy reads it, so CNS ignores it here.
	}
}

// Activity flag readers. All are lock-free atomic loads so the policy
// loop's hot path never contends with CNS's own worker.
func (c *CNS) IsUserTurnActive() bool  { return c.userTurnActive.Load() }
func (c *CNS) IsAgentTurnActive() bool { return c.agentTurnActive.Load() }
func (c *CNS) IsVadIPUActive() bool    { return c.vadIPUActive.Load() }
func (c *CNS) IsVadTurnActive() bool   { return c.vadTurnActive.Load() }
func (c *CNS) IsASRActive() bool       { return c.asrActive.Load() }
func (c *CNS) DialogEnded() bool       { return c.dialogEnded.Load() }

// UserSnapshot returns a copy of the active user state, or nil if none is
// active.
func (c *CNS) UserSnapshot() *UserState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

// AgentSnapshot returns a copy of the active agent state, or nil if none is
// active.
func (c *CNS) AgentSnapshot() *AgentState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.agent == nil {
		return nil
	}
	a := *c.agent
	return &a
}

// RecordTrp appends a predictor query result to the active user's TRP
// history, regardless of whether the call succeeded; a failed/timed-out
// call is recorded with Trp=0 by the caller.
func (c *CNS) RecordTrp(rec TrpRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return
	}
	c.user.AllTRPs = append(c.user.AllTRPs, rec)
}

// SetUserEOT stamps the active user's end-of-turn snapshot fields, used by
// the eot/prediction policy variants just before finalizing the turn.
func (c *CNS) SetUserEOT(utteranceAtEOT string, trpAtEOT float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return
	}
	c.user.UtteranceAtEOT = utteranceAtEOT
	c.user.TrpAtEOT = trpAtEOT
}

// SetUserFallback marks the active user turn as policy-initiated fallback
// speech rather than a direct response to user input.
func (c *CNS) SetUserFallback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user != nil {
		c.user.Fallback = true
	}
}

// AskQuestionAgain reports whether the most recent interruption left the
// agent's utterance short of the repeat threshold, so the next turn should
// repeat the same planned_utterance.
func (c *CNS) AskQuestionAgain() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.askQuestionAgain
}

// SetAskQuestionAgain is called by the policy loop after evaluating the
// interruption/repeat thresholds against an AgentSnapshot.
func (c *CNS) SetAskQuestionAgain(v bool) {
	c.mu.Lock()
	c.askQuestionAgain = v
	c.mu.Unlock()
}

// Memory returns the CNS's turn memory. Memory is independently
// mutex-guarded, so callers may read it concurrently with CNS's own
// mutation.
func (c *CNS) Memory() *Memory { return c.memory }

// PushDialogState appends state to the dialog-state timeline if it differs
// from the most recently pushed state, returning whether it changed.
func (c *CNS) PushDialogState(state DialogStateKind) bool {
	c.timelineMu.Lock()
	defer c.timelineMu.Unlock()
	n := len(c.timelines.DialogStates)
	if n > 0 && c.timelines.DialogStates[n-1].State == state {
		return false
	}
	c.timelines.DialogStates = append(c.timelines.DialogStates, DialogStateIU{State: state, Time: time.Now()})
	return true
}

// LastDialogStates returns the n most recently pushed dialog states,
// oldest first. Fewer than n are returned if history is shorter.
func (c *CNS) LastDialogStates(n int) []DialogStateIU {
	c.timelineMu.Lock()
	defer c.timelineMu.Unlock()
	total := len(c.timelines.DialogStates)
	if n > total {
		n = total
	}
	out := make([]DialogStateIU, n)
	copy(out, c.timelines.DialogStates[total-n:])
	return out
}

// RewriteLastDialogStates overwrites the last n dialog-state entries with
// state, used by the policy loop's retrigger handling (S6) to correct a
// falsely-taken agent turn after the fact.
func (c *CNS) RewriteLastDialogStates(n int, state DialogStateKind) {
	c.timelineMu.Lock()
	defer c.timelineMu.Unlock()
	total := len(c.timelines.DialogStates)
	if n > total {
		n = total
	}
	for i := total - n; i < total; i++ {
		c.timelines.DialogStates[i].State = state
	}
}

// DiscardAgentTurn clears the active agent turn without finalizing it or
// appending it to memory, used by the policy loop's retrigger handling when
// the agent had not yet produced any words.
func (c *CNS) DiscardAgentTurn() {
	c.mu.Lock()
	c.agent = nil
	c.agentTurnActive.Store(false)
	c.mu.Unlock()
}

// PopLastUserTurn removes the most recently finalized user turn from
// memory so it can be reinstated as active via InitUserTurn(resume).
func (c *CNS) PopLastUserTurn() *UserState {
	return c.memory.PopLastUser()
}

// EndDialogIfGoodbye sets DialogEnded if utterance contains "goodbye" or
// "bye", case-insensitively.
func (c *CNS) EndDialogIfGoodbye(utterance string) {
	lower := strings.ToLower(utterance)
	if strings.Contains(lower, "goodbye") || strings.Contains(lower, "bye") {
		c.dialogEnded.Store(true)
	}
}

// Timelines returns a copy of every recorded onset/offset series, for the
// session recorder to serialize on shutdown.
func (c *CNS) Timelines() Timelines {
	c.timelineMu.Lock()
	defer c.timelineMu.Unlock()
	t := c.timelines
	t.VadIPUOn = append([]time.Time(nil), c.timelines.VadIPUOn...)
	t.VadIPUOff = append([]time.Time(nil), c.timelines.VadIPUOff...)
	t.VadTurnOn = append([]time.Time(nil), c.timelines.VadTurnOn...)
	t.VadTurnOff = append([]time.Time(nil), c.timelines.VadTurnOff...)
	t.AsrOn = append([]time.Time(nil), c.timelines.AsrOn...)
	t.AsrOff = append([]time.Time(nil), c.timelines.AsrOff...)
	t.AgentTurnOn = append([]time.Time(nil), c.timelines.AgentTurnOn...)
	t.AgentTurnOff = append([]time.Time(nil), c.timelines.AgentTurnOff...)
	t.AgentInterrupted = append([]time.Time(nil), c.timelines.AgentInterrupted...)
	t.DialogStates = append([]DialogStateIU(nil), c.timelines.DialogStates...)
	return t
}
