// Package policy implements the frontal-cortex control loop: a ticked state
// machine reading cns.CNS and deciding when to begin speech, stop speech,
// retrigger after a false turn-taking guess, and recover from silence.
package policy

import (
	"context"
	"time"

	"github.com/lokutor-ai/turncore/pkg/cns"
	"github.com/lokutor-ai/turncore/pkg/dm"
)

// Config carries every tunable the loop and its variants read.
type Config struct {
	LoopTime          time.Duration
	FallbackDuration  time.Duration
	NoInputDuration   time.Duration
	TrpThreshold      float64
	InterruptionRatio float64 // shared interruption_ratio/repeat_ratio threshold, default 0.8
}

// DefaultConfig returns the spec's recommended defaults.
func DefaultConfig() Config {
	return Config{
		LoopTime:          50 * time.Millisecond,
		FallbackDuration:  8 * time.Second,
		NoInputDuration:   15 * time.Second,
		TrpThreshold:      0.5,
		InterruptionRatio: 0.8,
	}
}

// TurnOffTrigger decides whether the active user turn should end this
// tick. It may mutate loop-visible CNS fields (e.g. stamping EOT metadata)
// before returning true. Each policy variant supplies its own.
type TurnOffTrigger func(ctx context.Context, l *Loop) bool

// Loop is the shared control loop every policy variant runs unmodified;
// only TurnOffTrigger differs between variants per the design note
// replacing Python subclassing with function injection.
type Loop struct {
	cfg     Config
	cns     *cns.CNS
	source  dm.Source
	turnOff TurnOffTrigger

	lastDialogState    cns.DialogStateKind
	agentLastOffTime   time.Time
	userLastVadOffTime time.Time

	// previous tick's raw activity flags, compared against the current
	// tick in reconcileDialogState to detect the falling edge into
	// inactivity; without this the off-times would be unconditionally
	// re-stamped every tick spent idle and FallbackDuration/NoInputDuration
	// would never be reached.
	vadTurnWasActive bool
	agentWasActive   bool
}

// New builds a Loop. turnOff selects the policy variant (see variants.go).
// The off-times start at construction so FallbackDuration/NoInputDuration
// count from session start when neither side has spoken yet.
func New(cfg Config, c *cns.CNS, source dm.Source, turnOff TurnOffTrigger) *Loop {
	now := time.Now()
	return &Loop{
		cfg:                cfg,
		cns:                c,
		source:             source,
		turnOff:            turnOff,
		lastDialogState:    cns.BothInactive,
		agentLastOffTime:   now,
		userLastVadOffTime: now,
	}
}

// Run ticks every cfg.LoopTime until ctx is cancelled or the CNS reports
// dialog_ended, observed between ticks as the design note specifies.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.LoopTime)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Tick(ctx)
			if l.cns.DialogEnded() {
				return
			}
		}
	}
}

// Tick runs the six-step order once: this is also the unit tests drive
// directly, without waiting on a real ticker.
func (l *Loop) Tick(ctx context.Context) {
	l.triggerUserTurnOn()

	if l.cns.IsUserTurnActive() && l.turnOff(ctx, l) {
		l.cns.FinalizeUser()
		l.getResponseAndSpeak(ctx)
	}

	l.fallbackInactivity(ctx)

	changed := l.reconcileDialogState()

	if changed && l.lastDialogState == cns.BothActive && l.isInterrupted() {
		agent := l.cns.AgentSnapshot()
		askAgain := agent != nil && agent.Completion <= l.cfg.InterruptionRatio
		l.cns.SetAskQuestionAgain(askAgain)
		l.cns.StopSpeech(true)
		l.retriggerUserTurn(agent)
	}
}

// step 1
func (l *Loop) triggerUserTurnOn() {
	if !l.cns.IsUserTurnActive() && l.cns.IsVadIPUActive() && l.cns.IsASRActive() {
		l.cns.InitUserTurn(nil)
	}
}

// step 3
func (l *Loop) getResponseAndSpeak(ctx context.Context) {
	dialogContext := l.buildContext()
	text, ended, _, err := l.source.GetResponse(ctx, dialogContext)
	if err != nil || text == "" {
		return
	}
	if ended {
		l.cns.EndDialogIfGoodbye(text)
	}
	l.cns.InitAgentTurn(text)
}

// buildContext appends the live (unfinalized) user utterance, if any, to the
// condensed dialog, so the DM always sees the freshest in-progress turn.
func (l *Loop) buildContext() []string {
	dialog := l.cns.Memory().DialogText()
	user := l.cns.UserSnapshot()
	if user == nil {
		return dialog
	}
	live := user.Utterance
	if live == "" {
		live = user.PrelUtterance
	}
	if live == "" {
		return dialog
	}
	if len(dialog) == 0 {
		return []string{live}
	}
	// The merged memory is already sorted by start_time so the last entry
	// reflects whichever finalized turn is freshest. The live (unfinalized)
	// turn is always the user's, so append unless it duplicates the tail;
	// the last speaker is not otherwise consulted.
	if dialog[len(dialog)-1] == live {
		return dialog
	}
	return append(dialog, live)
}

// step 4
func (l *Loop) fallbackInactivity(ctx context.Context) {
	if l.cns.IsVadTurnActive() || l.cns.IsAgentTurnActive() {
		return
	}
	now := time.Now()
	idleAgent := now.Sub(l.agentLastOffTime)
	idleUser := now.Sub(l.userLastVadOffTime)
	idle := idleAgent
	if idleUser > idle {
		idle = idleUser
	}

	agentNotMidTurn := l.lastDialogState != cns.OnlyAgent

	if idle >= l.cfg.FallbackDuration && agentNotMidTurn {
		l.cns.SetUserFallback()
		l.getResponseAndSpeak(ctx)
		return
	}
	if idle >= l.cfg.NoInputDuration {
		l.getResponseAndSpeak(ctx)
	}
}

// step 5
func (l *Loop) reconcileDialogState() bool {
	agentActive := l.cns.IsAgentTurnActive()
	userActive := l.cns.IsUserTurnActive()
	vadTurnActive := l.cns.IsVadTurnActive()

	var state cns.DialogStateKind
	switch {
	case userActive && agentActive:
		state = cns.BothActive
	case userActive:
		state = cns.OnlyUser
	case agentActive:
		state = cns.OnlyAgent
	default:
		state = cns.BothInactive
	}

	// Stamp the off-time only on the tick each side actually drops, not on
	// every subsequent idle tick.
	if l.vadTurnWasActive && !vadTurnActive {
		l.userLastVadOffTime = time.Now()
	}
	if l.agentWasActive && !agentActive {
		l.agentLastOffTime = time.Now()
	}
	l.vadTurnWasActive = vadTurnActive
	l.agentWasActive = agentActive

	changed := l.cns.PushDialogState(state)
	l.lastDialogState = state
	return changed
}

// step 6 helper: is_interrupted() holds when the agent has not yet said
// enough of its planned utterance to consider the turn substantively
// delivered.
func (l *Loop) isInterrupted() bool {
	agent := l.cns.AgentSnapshot()
	if agent == nil {
		return false
	}
	return agent.Completion <= l.cfg.InterruptionRatio
}

// retriggerUserTurn implements S6: if the agent had not produced any words
// yet, the last two dialog-state events are corrected to only_user and the
// agent turn is discarded outright (it never really happened from the
// dialog's point of view); otherwise they are corrected to both_active and
// the agent turn stands as already finalized by StopSpeech. Either way the
// most recently finalized user turn is popped back into the active slot so
// accumulation continues.
func (l *Loop) retriggerUserTurn(agentBeforeStop *cns.AgentState) {
	if agentBeforeStop == nil || agentBeforeStop.Utterance == "" {
		l.cns.RewriteLastDialogStates(2, cns.OnlyUser)
		l.cns.DiscardAgentTurn()
	} else {
		l.cns.RewriteLastDialogStates(2, cns.BothActive)
	}

	popped := l.cns.PopLastUserTurn()
	if popped != nil {
		l.cns.InitUserTurn(popped)
	}
}
