package iu

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

const defaultInboxCapacity = 64

// Logger is the minimal logging capability the runtime needs. Satisfied by
// providers.Logger without importing it, avoiding a dependency cycle.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type noOpLogger struct{}

func (noOpLogger) Debug(string, ...interface{}) {}
func (noOpLogger) Info(string, ...interface{})  {}
func (noOpLogger) Warn(string, ...interface{})  {}
func (noOpLogger) Error(string, ...interface{}) {}

type subscription struct {
	from     Module
	to       Module
	ch       chan Unit
	policy   OverflowPolicy
	overflow atomic.Int64
}

type moduleEntry struct {
	mod   Module
	inbox chan Unit
	out   []*subscription // outgoing subscriptions fed from this module's output

	eventsMu sync.Mutex
	events   map[string][]EventCallback
}

// Runtime wires Modules into a dataflow graph and owns their worker
// goroutines via an errgroup.Group, which Stop cancels and waits on.
type Runtime struct {
	log Logger

	mu      sync.Mutex
	entries map[string]*moduleEntry
	subs    []*subscription

	eg     *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRuntime builds an empty Runtime. Pass a nil log to use a no-op logger.
func NewRuntime(log Logger) *Runtime {
	if log == nil {
		log = noOpLogger{}
	}
	return &Runtime{
		log:     log,
		entries: make(map[string]*moduleEntry),
	}
}

// Register adds a module to the graph with a default-capacity inbox. It
// must be called before Subscribe or Run.
func (r *Runtime) Register(mod Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[mod.Name()] = &moduleEntry{
		mod:    mod,
		inbox:  make(chan Unit, defaultInboxCapacity),
		events: make(map[string][]EventCallback),
	}
}

// Subscribe wires from's output into to's inbox with a bounded queue of the
// given capacity and overflow policy. It returns ErrConfiguration if to does
// not accept from's output kind, or if either module was not Registered.
func (r *Runtime) Subscribe(from, to Module, capacity int, policy OverflowPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fromEntry, ok := r.entries[from.Name()]
	if !ok {
		return fmt.Errorf("%w: producer %q not registered", ErrConfiguration, from.Name())
	}
	toEntry, ok := r.entries[to.Name()]
	if !ok {
		return fmt.Errorf("%w: consumer %q not registered", ErrConfiguration, to.Name())
	}

	outKind, produces := from.OutputKind()
	if !produces {
		return fmt.Errorf("%w: %q produces no output kind", ErrConfiguration, from.Name())
	}
	accepted := false
	for _, k := range to.Kinds() {
		if k == outKind {
			accepted = true
			break
		}
	}
	if !accepted {
		return fmt.Errorf("%w: %q does not accept kind %q from %q", ErrConfiguration, to.Name(), outKind, from.Name())
	}

	if capacity <= 0 {
		capacity = defaultInboxCapacity
	}
	sub := &subscription{
		from:   from,
		to:     to,
		ch:     make(chan Unit, capacity),
		policy: policy,
	}
	fromEntry.out = append(fromEntry.out, sub)
	r.subs = append(r.subs, sub)
	_ = toEntry
	return nil
}

// OnEvent registers a callback fired synchronously, on the producing
// module's own worker goroutine, whenever that module calls FireEvent with
// a matching name. Callbacks must not block.
func (r *Runtime) OnEvent(moduleName, event string, cb EventCallback) error {
	r.mu.Lock()
	entry, ok := r.entries[moduleName]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q not registered", ErrConfiguration, moduleName)
	}
	entry.eventsMu.Lock()
	entry.events[event] = append(entry.events[event], cb)
	entry.eventsMu.Unlock()
	return nil
}

// FireEvent invokes every callback registered for moduleName/event, in
// registration order, on the caller's goroutine. Modules call this inline
// from their own worker when they want to emit a named event rather than
// route it through a subscribed Unit kind.
func (r *Runtime) FireEvent(moduleName, event string, u Unit) {
	r.mu.Lock()
	entry, ok := r.entries[moduleName]
	r.mu.Unlock()
	if !ok {
		return
	}
	entry.eventsMu.Lock()
	cbs := append([]EventCallback(nil), entry.events[event]...)
	entry.eventsMu.Unlock()
	for _, cb := range cbs {
		cb(u)
	}
}

// Publish enqueues u onto every subscription fed by producer's output,
// applying each subscription's overflow policy. Modules that produce
// asynchronously (not from within ProcessUnit) call this directly.
func (r *Runtime) Publish(producer Module, u Unit) {
	r.mu.Lock()
	entry, ok := r.entries[producer.Name()]
	r.mu.Unlock()
	if !ok {
		return
	}
	for _, sub := range entry.out {
		r.enqueue(sub, u)
	}
}

func (r *Runtime) enqueue(sub *subscription, u Unit) {
	switch sub.policy {
	case BlockProducer:
		select {
		case sub.ch <- u:
		case <-r.ctx.Done():
		}
	default: // DropOldest
		select {
		case sub.ch <- u:
		default:
			select {
			case <-sub.ch:
				sub.overflow.Add(1)
			default:
			}
			select {
			case sub.ch <- u:
			default:
				sub.overflow.Add(1)
			}
		}
	}
}

// OverflowCount reports how many Units the DropOldest subscription from
// producer from to consumer to has discarded, or 0 if there is none.
func (r *Runtime) OverflowCount(from, to string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.from.Name() == from && sub.to.Name() == to {
			return sub.overflow.Load()
		}
	}
	return 0
}

// Setup calls Setup on every registered module that implements Lifecycle.
// It is idempotent only insofar as each module's own Setup is; a
// configuration failure here is fatal and returned immediately.
func (r *Runtime) Setup() error {
	r.mu.Lock()
	entries := make([]*moduleEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	for _, e := range entries {
		if lc, ok := e.mod.(Lifecycle); ok {
			if err := lc.Setup(); err != nil {
				return fmt.Errorf("%s: %w", e.mod.Name(), err)
			}
		}
	}
	return nil
}

// Run starts a forwarder goroutine per subscription and a worker goroutine
// per module, all managed by an errgroup bound to ctx. Run returns once
// every goroutine has been launched; Stop cancels them and blocks until
// they exit.
func (r *Runtime) Run(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.eg, _ = errgroup.WithContext(r.ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.subs {
		sub := sub
		toEntry := r.entries[sub.to.Name()]
		r.eg.Go(func() error {
			for {
				select {
				case <-r.ctx.Done():
					return nil
				case u, ok := <-sub.ch:
					if !ok {
						return nil
					}
					select {
					case toEntry.inbox <- u:
					case <-r.ctx.Done():
						return nil
					}
				}
			}
		})
	}

	for _, e := range r.entries {
		e := e
		r.eg.Go(func() error {
			for {
				select {
				case <-r.ctx.Done():
					return nil
				case u, ok := <-e.inbox:
					if !ok {
						return nil
					}
					out, err := e.mod.ProcessUnit(u)
					if err != nil {
						r.log.Error("module processing failed", "module", e.mod.Name(), "err", err)
						continue
					}
					if out != nil {
						r.Publish(e.mod, *out)
					}
				}
			}
		})
	}
}

// Stop signals shutdown: it calls Stop on every Lifecycle module in no
// particular order (leaf-first order is not tracked), so modules must
// tolerate being asked to stop in any order, then cancels the run context
// and waits for every worker and forwarder goroutine to exit.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	entries := make([]*moduleEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	for _, e := range entries {
		if lc, ok := e.mod.(Lifecycle); ok {
			if err := lc.Stop(); err != nil {
				r.log.Warn("module stop failed", "module", e.mod.Name(), "err", err)
			}
		}
	}

	if r.cancel != nil {
		r.cancel()
	}
	if r.eg != nil {
		return r.eg.Wait()
	}
	return nil
}
