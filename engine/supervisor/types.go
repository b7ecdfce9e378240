package supervisor

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/rtkit/periodic/engine/catalog"
	"github.com/rtkit/periodic/engine/protocol"
)

// State is the lifecycle state of a task instance.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateJoined:
		return "joined"
	default:
		return "unknown"
	}
}

// Replier is where a command's reply line is written. The network layer
// implements it per connection; tests implement it with a local struct.
type Replier interface {
	Reply(line string)
}

// Event is one command in flight from a connection reader to the
// supervisor. The queue owns it until dequeued, the supervisor until the
// reply is written.
type Event struct {
	Conn Replier
	Cmd  protocol.Command
}

// Instance is an active periodic task. It is owned exclusively by the
// supervisor; the only cross-thread data are the cancel flag (supervisor
// writes, executor reads), the stop/done channels, the lifecycle state,
// and the miss counter.
type Instance struct {
	ID       int
	Template catalog.Template

	state  atomic.Int32
	cancel atomic.Bool
	stop   chan struct{} // closed by the supervisor to interrupt the timed wait
	done   chan struct{} // closed by the executor on exit
	misses atomic.Uint64

	// missLimiter bounds journal traffic when an instance misses every
	// period; the metric still counts every miss.
	missLimiter *rate.Limiter

	started time.Time
}

func newInstance(id int, tpl catalog.Template) *Instance {
	inst := &Instance{
		ID:          id,
		Template:    tpl,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		missLimiter: rate.NewLimiter(rate.Limit(1), 3),
		started:     time.Now(),
	}
	inst.state.Store(int32(StateStarting))
	return inst
}

// State returns the instance's current lifecycle state.
func (i *Instance) State() State {
	return State(i.state.Load())
}

// Misses returns the deadline misses recorded so far.
func (i *Instance) Misses() uint64 {
	return i.misses.Load()
}

// InstanceInfo is a read-only snapshot row for one instance.
type InstanceInfo struct {
	ID      int       `json:"id"`
	Task    string    `json:"task"`
	State   string    `json:"state"`
	Misses  uint64    `json:"deadline_misses"`
	Started time.Time `json:"started_at"`
}

// Snapshot is the externally visible engine state, served by the debug
// endpoint and broadcast by the websocket hub.
type Snapshot struct {
	Active       []InstanceInfo `json:"active"`
	QueueDepth   int            `json:"queue_depth"`
	Admitted     uint64         `json:"admitted_total"`
	Rejected     uint64         `json:"rejected_total"`
	Deactivated  uint64         `json:"deactivated_total"`
	ShuttingDown bool           `json:"shutting_down"`
}
