package supervisor

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rtkit/periodic/engine/catalog"
	"github.com/rtkit/periodic/engine/journal"
	"github.com/rtkit/periodic/engine/protocol"
)

// recordingConn collects replies so tests can await them.
type recordingConn struct {
	replies chan string
}

func newRecordingConn() *recordingConn {
	return &recordingConn{replies: make(chan string, 128)}
}

func (c *recordingConn) Reply(line string) {
	c.replies <- line
}

func (c *recordingConn) await(t *testing.T) string {
	t.Helper()
	select {
	case line := <-c.replies:
		return line
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reply")
		return ""
	}
}

// startSupervisor wires a supervisor with a tiny iteration rate so
// executors cost nothing, and tears it down with the test.
func startSupervisor(t *testing.T) (*Supervisor, *Queue) {
	t.Helper()
	queue := NewQueue(64)
	sup := New(catalog.Load(), 1, queue, journal.NewLogPublisher(), DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go sup.Run(ctx)
	t.Cleanup(func() {
		cancel()
		select {
		case <-sup.Done():
		case <-time.After(5 * time.Second):
			t.Error("supervisor did not drain on cancel")
		}
	})
	return sup, queue
}

func send(t *testing.T, q *Queue, conn Replier, cmd protocol.Command) {
	t.Helper()
	if err := q.Enqueue(Event{Conn: conn, Cmd: cmd}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func activate(name string) protocol.Command {
	return protocol.Command{Kind: protocol.KindActivate, Name: name}
}

func deactivate(id int) protocol.Command {
	return protocol.Command{Kind: protocol.KindDeactivate, ID: id}
}

func TestActivateAssignsSequentialIDs(t *testing.T) {
	_, q := startSupervisor(t)
	conn := newRecordingConn()

	for want := 1; want <= 5; want++ {
		send(t, q, conn, activate("t1"))
		if got := conn.await(t); got != fmt.Sprintf("OK ID=%d", want) {
			t.Fatalf("activation %d: got %q", want, got)
		}
	}
}

func TestDeactivateReleasesIDForReuse(t *testing.T) {
	sup, q := startSupervisor(t)
	conn := newRecordingConn()

	send(t, q, conn, activate("t1"))
	if got := conn.await(t); got != "OK ID=1" {
		t.Fatalf("first activation: got %q", got)
	}

	send(t, q, conn, deactivate(1))
	if got := conn.await(t); got != "OK" {
		t.Fatalf("deactivate: got %q", got)
	}
	if n := sup.ActiveCount(); n != 0 {
		t.Fatalf("active count after deactivate = %d", n)
	}

	// Smallest-free allocation: the released id comes back.
	send(t, q, conn, activate("t1"))
	if got := conn.await(t); got != "OK ID=1" {
		t.Fatalf("reactivation: got %q", got)
	}
}

func TestSmallestFreeIDFillsGaps(t *testing.T) {
	_, q := startSupervisor(t)
	conn := newRecordingConn()

	for want := 1; want <= 3; want++ {
		send(t, q, conn, activate("t1"))
		conn.await(t)
	}

	send(t, q, conn, deactivate(2))
	if got := conn.await(t); got != "OK" {
		t.Fatalf("deactivate 2: got %q", got)
	}

	send(t, q, conn, activate("t1"))
	if got := conn.await(t); got != "OK ID=2" {
		t.Fatalf("gap not refilled: got %q", got)
	}
}

func TestUnknownTask(t *testing.T) {
	_, q := startSupervisor(t)
	conn := newRecordingConn()

	send(t, q, conn, activate("t99"))
	if got := conn.await(t); got != "ERR UNKNOWN_TASK" {
		t.Errorf("got %q", got)
	}
}

func TestUnknownID(t *testing.T) {
	_, q := startSupervisor(t)
	conn := newRecordingConn()

	send(t, q, conn, deactivate(999))
	if got := conn.await(t); got != "ERR UNKNOWN_ID" {
		t.Errorf("got %q", got)
	}
}

func TestInvalidCommandEchoesReason(t *testing.T) {
	_, q := startSupervisor(t)
	conn := newRecordingConn()

	send(t, q, conn, protocol.Command{Kind: protocol.KindInvalid, Reason: protocol.ReasonBadCmd})
	if got := conn.await(t); got != "ERR BAD_CMD" {
		t.Errorf("got %q", got)
	}
}

func TestHighUtilizationTaskSaturates(t *testing.T) {
	_, q := startSupervisor(t)
	conn := newRecordingConn()

	oks := 0
	var terminal string
	for i := 0; i < 25; i++ {
		send(t, q, conn, activate("t3"))
		reply := conn.await(t)
		if strings.HasPrefix(reply, "OK ID=") {
			oks++
			continue
		}
		terminal = reply
		break
	}

	if oks < 1 {
		t.Fatal("no t3 activation succeeded")
	}
	if terminal != "ERR UNSCHEDULABLE" && terminal != "ERR CAPACITY_FULL" {
		t.Fatalf("saturation did not terminate admissions: %d OKs, last %q", oks, terminal)
	}
}

func TestAdmissionKeepsSetSchedulable(t *testing.T) {
	sup, q := startSupervisor(t)
	conn := newRecordingConn()

	// Fill with t3 until rejection, then confirm a rejected template does
	// not appear in the active set.
	for i := 0; i < 25; i++ {
		send(t, q, conn, activate("t3"))
		if !strings.HasPrefix(conn.await(t), "OK") {
			break
		}
	}
	before := sup.ActiveCount()

	send(t, q, conn, activate("t3"))
	if got := conn.await(t); strings.HasPrefix(got, "OK") {
		t.Fatalf("admission beyond saturation: %q", got)
	}
	if after := sup.ActiveCount(); after != before {
		t.Errorf("rejected admission mutated the active set: %d -> %d", before, after)
	}
}

func TestShutdownJoinsEverything(t *testing.T) {
	queue := NewQueue(64)
	sup := New(catalog.Load(), 1, queue, journal.NewLogPublisher(), DefaultConfig())
	go sup.Run(context.Background())

	conn := newRecordingConn()
	for i := 0; i < 3; i++ {
		if err := queue.Enqueue(Event{Conn: conn, Cmd: activate("t1")}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		conn.await(t)
	}

	if err := queue.Enqueue(Event{Conn: conn, Cmd: protocol.Command{Kind: protocol.KindShutdown}}); err != nil {
		t.Fatalf("enqueue shutdown: %v", err)
	}
	if got := conn.await(t); got != "OK" {
		t.Fatalf("shutdown reply: %q", got)
	}

	select {
	case <-sup.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not exit after SHUTDOWN")
	}
	if n := sup.ActiveCount(); n != 0 {
		t.Errorf("%d instances survived shutdown", n)
	}
}

func TestConcurrentProducersGetDistinctIDs(t *testing.T) {
	_, q := startSupervisor(t)

	const producers = 5
	conns := make([]*recordingConn, producers)
	for i := range conns {
		conns[i] = newRecordingConn()
		go func(c *recordingConn) {
			q.Enqueue(Event{Conn: c, Cmd: activate("t1")})
		}(conns[i])
	}

	seen := make(map[string]bool)
	for _, c := range conns {
		reply := c.await(t)
		if !strings.HasPrefix(reply, "OK ID=") {
			t.Fatalf("concurrent activation failed: %q", reply)
		}
		if seen[reply] {
			t.Fatalf("duplicate id assigned: %q", reply)
		}
		seen[reply] = true
	}
}
