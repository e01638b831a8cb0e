// Package iu implements the incremental-unit publish/subscribe runtime: a
// typed dataflow graph of Modules exchanging bounded-queue Units. It is the
// foundation every other engine package builds on.
package iu

import (
	"errors"
	"sync/atomic"
	"time"
)

// Kind tags a Unit's payload type. Modules declare the Kinds they accept and
// the single Kind (if any) they produce; the runtime rejects unknown kinds
// at subscription time.
type Kind string

// ErrConfiguration marks a fatal setup-time error: illegal frame length,
// an unknown Kind subscribed, or similar. Callers should treat it as fatal,
// never retried.
var ErrConfiguration = errors.New("iu: configuration error")

// Handle identifies a Unit produced by a specific creator, used to link a
// Unit to the upstream Unit it was grounded in without holding a reference
// to the Unit itself.
type Handle struct {
	CreatorID string
	UnitID    uint64
}

// Unit is the opaque, typed envelope flowing between modules. Payload holds
// one of the concrete IU variants declared by the consuming package (vad,
// cns, ...); Kind identifies which one so a Module can dispatch without a
// type switch at every call site if it prefers not to.
type Unit struct {
	Kind       Kind
	Payload    interface{}
	CreatorID  string
	UnitID     uint64
	CreatedAt  time.Time
	PreviousID *uint64
	GroundedIn *Handle
}

// Creator assigns monotonically increasing UnitIDs and CreatedAt timestamps
// to Units produced by one named module. Not safe for concurrent use by
// more than one goroutine, matching a module's single-worker contract.
type Creator struct {
	id       string
	counter  uint64
	lastUnit *uint64
}

// NewCreator returns a Creator stamping Units with the given creator id.
func NewCreator(id string) *Creator {
	return &Creator{id: id}
}

// New builds a Unit of kind with the given payload, linking it to the
// previous Unit this Creator produced and, if grounded is non-nil, to the
// upstream Unit it derives from.
func (c *Creator) New(kind Kind, payload interface{}, grounded *Handle) Unit {
	id := atomic.AddUint64(&c.counter, 1)
	u := Unit{
		Kind:       kind,
		Payload:    payload,
		CreatorID:  c.id,
		UnitID:     id,
		CreatedAt:  time.Now(),
		PreviousID: c.lastUnit,
		GroundedIn: grounded,
	}
	prev := id
	c.lastUnit = &prev
	return u
}
