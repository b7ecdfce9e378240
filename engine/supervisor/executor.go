package supervisor

import (
	"context"
	"runtime"
	"time"

	"github.com/rtkit/periodic/engine/calibration"
	"github.com/rtkit/periodic/engine/journal"
	"github.com/rtkit/periodic/engine/observability"
)

// runExecutor is the body of one periodic task. It releases once per
// period, burns the calibrated work budget, records (but never acts on)
// deadline misses, and exits when the supervisor cancels it.
//
// Release policy is non-greedy: the next release is derived from the start
// of the current job, and an overrun is counted once without spawning
// catch-up jobs.
func runExecutor(inst *Instance, itersPerMS uint64, pub journal.Publisher) {
	// One OS thread per executor; the release loop should not migrate.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(inst.done)

	inst.state.Store(int32(StateRunning))

	work := uint64(inst.Template.WCET.Milliseconds()) * itersPerMS
	period := inst.Template.Period

	timer := time.NewTimer(period)
	if !timer.Stop() {
		<-timer.C
	}

	for !inst.cancel.Load() {
		next := time.Now().Add(period)

		calibration.Spin(work)

		if time.Now().After(next) {
			inst.misses.Add(1)
			observability.DeadlineMisses.WithLabelValues(inst.Template.Name).Inc()
			if inst.missLimiter.Allow() {
				publish(pub, journal.Event{
					Topic: journal.TopicDeadlineMiss,
					Task:  inst.Template.Name,
					ID:    inst.ID,
				})
			}
		}

		if inst.cancel.Load() {
			break
		}
		if !sleepUntil(timer, next, inst.stop) {
			break
		}
	}

	inst.state.Store(int32(StateStopping))
}

// sleepUntil waits until the deadline, reasserting the target after any
// early wake. Returns false if the stop channel fired.
func sleepUntil(timer *time.Timer, deadline time.Time, stop <-chan struct{}) bool {
	for {
		d := time.Until(deadline)
		if d <= 0 {
			return true
		}
		timer.Reset(d)
		select {
		case <-stop:
			if !timer.Stop() {
				<-timer.C
			}
			return false
		case <-timer.C:
		}
	}
}

// publish writes a journal event, waiting at most two seconds for the sink.
// A failed write is counted and never reaches the executor or supervisor.
func publish(pub journal.Publisher, ev journal.Event) {
	ev.Timestamp = time.Now()
	ev.Source = "engine"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pub.Publish(ctx, ev); err != nil {
		observability.JournalPublishFailures.WithLabelValues(ev.Topic).Inc()
	}
}
