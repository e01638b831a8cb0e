package iu

// Module is a single dataflow node: it declares the Kinds it consumes and
// the Kind it produces (if any), and processes one Unit at a time on its
// own worker. ProcessUnit returning a non-nil Unit appends it to the
// module's subscribers; returning nil produces nothing for that input.
// Modules that produce asynchronously (e.g. a streaming TTS callback) may
// instead call Runtime.Publish directly from their own goroutine.
type Module interface {
	// Name identifies the module as a Unit creator and in logs/metrics.
	Name() string

	// Kinds lists the Unit kinds this module accepts. The runtime rejects a
	// Subscribe call whose producer's OutputKind is not in this list.
	Kinds() []Kind

	// OutputKind names the single Kind this module produces, or ok=false if
	// it produces nothing (a sink).
	OutputKind() (kind Kind, ok bool)

	// ProcessUnit handles one incoming Unit. A returned error is logged and
	// the Unit is dropped; the worker continues processing later Units.
	ProcessUnit(Unit) (*Unit, error)
}

// Lifecycle is implemented by modules with explicit setup/teardown beyond
// ProcessUnit, mirroring the runtime's setup/run/stop operations.
type Lifecycle interface {
	// Setup validates configuration and allocates resources. Idempotent:
	// calling it twice must not double-allocate. A non-nil error wraps
	// ErrConfiguration and is fatal.
	Setup() error

	// Stop signals the module to shut down. It must return promptly;
	// partially processed Units may be discarded.
	Stop() error
}

// OverflowPolicy selects what a bounded subscription queue does when full.
type OverflowPolicy int

const (
	// DropOldest discards the queue's oldest Unit to make room for the new
	// one. Appropriate for audio-rate streams where staleness is fine.
	DropOldest OverflowPolicy = iota
	// BlockProducer makes the producer's Publish call block until a slot
	// frees up. Required for control streams that must not lose Units.
	BlockProducer
)

// EventCallback is invoked synchronously on the producing module's worker
// goroutine when a named event fires. Callbacks must not block; long work
// belongs on the subscriber's own queue.
type EventCallback func(Unit)
