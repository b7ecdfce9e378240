// Package supervisor owns the set of active periodic task instances.
//
// A single goroutine consumes commands from the bounded event queue, so
// admission decisions are serialized and the active set needs no locking
// beyond the snapshot mirror kept for observers.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/rtkit/periodic/engine/catalog"
	"github.com/rtkit/periodic/engine/journal"
	"github.com/rtkit/periodic/engine/observability"
	"github.com/rtkit/periodic/engine/protocol"
	"github.com/rtkit/periodic/engine/rta"
)

// Wire-visible admission failure reasons.
const (
	ReasonUnknownTask   = "UNKNOWN_TASK"
	ReasonUnknownID     = "UNKNOWN_ID"
	ReasonUnschedulable = "UNSCHEDULABLE"
	ReasonCapacityFull  = "CAPACITY_FULL"
)

// Config holds the supervisor's operating bounds.
type Config struct {
	// MaxTasks bounds concurrently active instances; ids are allocated
	// from [1, MaxTasks].
	MaxTasks int
}

// MinMaxTasks is the smallest supported active-instance bound.
const MinMaxTasks = 20

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{MaxTasks: 32}
}

// Supervisor is the single-threaded owner of the active instance set.
type Supervisor struct {
	cat        *catalog.Catalog
	itersPerMS uint64
	queue      *Queue
	pub        journal.Publisher
	maxTasks   int

	// joinTimeout bounds the wait for a cancelled executor; exceeding it
	// means an executor wedged and the process must not limp on.
	joinTimeout time.Duration

	// active is touched only by the Run goroutine.
	active map[int]*Instance

	// snapshot mirrors the active set for observers (hub, debug endpoint).
	// Single writer (the Run goroutine), many readers.
	snapMu      sync.RWMutex
	snap        Snapshot
	admitted    uint64
	rejected    uint64
	deactivated uint64

	done chan struct{}
}

// New creates a supervisor. itersPerMS comes from startup calibration.
func New(cat *catalog.Catalog, itersPerMS uint64, queue *Queue, pub journal.Publisher, cfg Config) *Supervisor {
	if cfg.MaxTasks < MinMaxTasks {
		cfg.MaxTasks = DefaultConfig().MaxTasks
	}
	return &Supervisor{
		cat:         cat,
		itersPerMS:  itersPerMS,
		queue:       queue,
		pub:         pub,
		maxTasks:    cfg.MaxTasks,
		joinTimeout: 2 * cat.MaxPeriod(),
		active:      make(map[int]*Instance),
		done:        make(chan struct{}),
	}
}

// Done is closed once Run has drained every instance and returned.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Run consumes events until a SHUTDOWN command arrives or ctx is
// cancelled, then cancels and joins every active instance. The reply for
// each event is written before the next event is dequeued.
func (s *Supervisor) Run(ctx context.Context) {
	defer close(s.done)
	defer s.stopAll()

	for {
		ev, ok := s.queue.Dequeue(ctx)
		if !ok {
			log.Println("Supervisor stopping (signal)")
			return
		}
		if shutdown := s.handle(ev); shutdown {
			log.Println("Supervisor stopping (SHUTDOWN command)")
			return
		}
	}
}

// handle processes one event and writes its reply. Returns true on
// SHUTDOWN.
func (s *Supervisor) handle(ev Event) bool {
	switch ev.Cmd.Kind {
	case protocol.KindActivate:
		observability.Commands.WithLabelValues("activate").Inc()
		s.activate(ev.Conn, ev.Cmd.Name)
	case protocol.KindDeactivate:
		observability.Commands.WithLabelValues("deactivate").Inc()
		s.deactivate(ev.Conn, ev.Cmd.ID)
	case protocol.KindShutdown:
		observability.Commands.WithLabelValues("shutdown").Inc()
		s.stopAll()
		publish(s.pub, journal.Event{Topic: journal.TopicShutdown})
		ev.Conn.Reply("OK")
		return true
	case protocol.KindInvalid:
		observability.Commands.WithLabelValues("invalid").Inc()
		ev.Conn.Reply("ERR " + ev.Cmd.Reason)
	}
	return false
}

// activate admits (or rejects) one new instance of the named template.
func (s *Supervisor) activate(conn Replier, name string) {
	tpl, err := s.cat.Lookup(name)
	if err != nil {
		s.reject(conn, ReasonUnknownTask, "unknown_task", name)
		return
	}

	id, ok := s.lowestFreeID()
	if !ok {
		s.reject(conn, ReasonCapacityFull, "capacity_full", name)
		return
	}

	verdict := rta.Analyze(s.prospectiveSet(tpl, id), s.maxTasks)
	switch verdict {
	case rta.CapacityFull:
		s.reject(conn, ReasonCapacityFull, "capacity_full", name)
		return
	case rta.Unschedulable:
		s.reject(conn, ReasonUnschedulable, "unschedulable", name)
		return
	}

	inst := newInstance(id, tpl)
	s.active[id] = inst
	go runExecutor(inst, s.itersPerMS, s.pub)

	s.admitted++
	observability.ActiveTasks.Set(float64(len(s.active)))
	observability.Admissions.WithLabelValues("admitted").Inc()
	publish(s.pub, journal.Event{Topic: journal.TopicActivated, Task: name, ID: id})
	s.updateSnapshot(false)

	conn.Reply(fmt.Sprintf("OK ID=%d", id))
}

func (s *Supervisor) reject(conn Replier, wireReason, outcome, name string) {
	s.rejected++
	observability.Admissions.WithLabelValues(outcome).Inc()
	publish(s.pub, journal.Event{Topic: journal.TopicRejected, Task: name, Detail: wireReason})
	s.updateSnapshot(false)
	conn.Reply("ERR " + wireReason)
}

// deactivate cancels and joins the instance before replying, so an OK
// means the executor is gone and its resources reclaimed.
func (s *Supervisor) deactivate(conn Replier, id int) {
	inst, ok := s.active[id]
	if !ok {
		conn.Reply("ERR " + ReasonUnknownID)
		return
	}

	s.stopInstance(inst)
	delete(s.active, id)

	s.deactivated++
	observability.ActiveTasks.Set(float64(len(s.active)))
	publish(s.pub, journal.Event{Topic: journal.TopicDeactivated, Task: inst.Template.Name, ID: id})
	s.updateSnapshot(false)

	conn.Reply("OK")
}

// stopInstance cancels the executor and joins it with a bounded wait.
func (s *Supervisor) stopInstance(inst *Instance) {
	inst.cancel.Store(true)
	close(inst.stop)

	select {
	case <-inst.done:
	case <-time.After(s.joinTimeout):
		// A wedged executor means the calibrated work body never
		// returned; the process state is no longer trustworthy.
		log.Fatalf("executor for task %s id=%d failed to stop within %v",
			inst.Template.Name, inst.ID, s.joinTimeout)
	}
	inst.state.Store(int32(StateJoined))
}

// stopAll cancels and joins every active instance. Safe to call twice;
// the second call sees an empty set.
func (s *Supervisor) stopAll() {
	for id, inst := range s.active {
		s.stopInstance(inst)
		delete(s.active, id)
	}
	observability.ActiveTasks.Set(0)
	s.updateSnapshot(true)
}

// lowestFreeID scans [1, maxTasks] for the smallest unused identifier.
// Deterministic under serialized admission; a joined instance's id is
// immediately eligible for reuse.
func (s *Supervisor) lowestFreeID() (int, bool) {
	for id := 1; id <= s.maxTasks; id++ {
		if _, used := s.active[id]; !used {
			return id, true
		}
	}
	return 0, false
}

// prospectiveSet builds the RTA input for the current set plus one new
// instance of tpl with the given candidate id. Rank is template priority
// major, instance id minor, so the analysis sees a strict total order.
func (s *Supervisor) prospectiveSet(tpl catalog.Template, newID int) []rta.Task {
	set := make([]rta.Task, 0, len(s.active)+1)
	for _, inst := range s.active {
		set = append(set, s.rtaTask(inst.Template, inst.ID))
	}
	set = append(set, s.rtaTask(tpl, newID))
	return set
}

func (s *Supervisor) rtaTask(tpl catalog.Template, id int) rta.Task {
	return rta.Task{
		Rank:     tpl.Priority*(s.maxTasks+1) + id,
		Period:   tpl.Period,
		Deadline: tpl.Deadline,
		WCET:     tpl.WCET,
	}
}

// updateSnapshot refreshes the observer mirror. Called only from the Run
// goroutine after each state change.
func (s *Supervisor) updateSnapshot(shuttingDown bool) {
	infos := make([]InstanceInfo, 0, len(s.active))
	for _, inst := range s.active {
		infos = append(infos, InstanceInfo{
			ID:      inst.ID,
			Task:    inst.Template.Name,
			State:   inst.State().String(),
			Misses:  inst.Misses(),
			Started: inst.started,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	s.snapMu.Lock()
	s.snap = Snapshot{
		Active:       infos,
		QueueDepth:   s.queue.Len(),
		Admitted:     s.admitted,
		Rejected:     s.rejected,
		Deactivated:  s.deactivated,
		ShuttingDown: shuttingDown,
	}
	s.snapMu.Unlock()
}

// GetSnapshot returns the current observer snapshot.
func (s *Supervisor) GetSnapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	snap := s.snap
	snap.QueueDepth = s.queue.Len()
	return snap
}

// ActiveCount reports the instances currently running.
func (s *Supervisor) ActiveCount() int {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return len(s.snap.Active)
}
