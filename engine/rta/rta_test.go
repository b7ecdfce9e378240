package rta

import (
	"testing"
	"time"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// fast is a high-utilization task shape: 40ms of work every 100ms.
func fast(rank int) Task {
	return Task{Rank: rank, Period: ms(100), Deadline: ms(100), WCET: ms(40)}
}

// slow is a low-utilization task shape: 50ms of work every second.
func slow(rank int) Task {
	return Task{Rank: rank, Period: ms(1000), Deadline: ms(1000), WCET: ms(50)}
}

func TestEmptySetAdmitted(t *testing.T) {
	if v := Analyze(nil, 32); v != Admitted {
		t.Errorf("empty set: expected Admitted, got %v", v)
	}
}

func TestSingleTaskAdmitted(t *testing.T) {
	if v := Analyze([]Task{fast(1)}, 32); v != Admitted {
		t.Errorf("single task: expected Admitted, got %v", v)
	}
}

func TestHighUtilizationSaturates(t *testing.T) {
	// Two instances fit: R of the lower one is 40+40=80 <= 100.
	two := []Task{fast(1), fast(2)}
	if v := Analyze(two, 32); v != Admitted {
		t.Errorf("two instances: expected Admitted, got %v", v)
	}

	// A third pushes the lowest-priority response to 120 > 100.
	three := []Task{fast(1), fast(2), fast(3)}
	if v := Analyze(three, 32); v != Unschedulable {
		t.Errorf("three instances: expected Unschedulable, got %v", v)
	}
}

func TestLowUtilizationPacks(t *testing.T) {
	// Twenty slow instances: the lowest one sees 19*50+50 = 1000 <= 1000.
	set := make([]Task, 0, 21)
	for i := 1; i <= 20; i++ {
		set = append(set, slow(i))
	}
	if v := Analyze(set, 32); v != Admitted {
		t.Errorf("20 slow instances: expected Admitted, got %v", v)
	}

	set = append(set, slow(21))
	if v := Analyze(set, 32); v != Unschedulable {
		t.Errorf("21 slow instances: expected Unschedulable, got %v", v)
	}
}

func TestCapacityBound(t *testing.T) {
	set := []Task{slow(1), slow(2), slow(3)}
	if v := Analyze(set, 2); v != CapacityFull {
		t.Errorf("expected CapacityFull, got %v", v)
	}
}

func TestInterferenceRespectsPriority(t *testing.T) {
	// The fast task outranks the slow one; the slow task absorbs the
	// interference: R_slow = 50 + ceil(R/100)*40.
	set := []Task{fast(1), slow(2)}
	if v := Analyze(set, 32); v != Admitted {
		t.Errorf("expected Admitted, got %v", v)
	}

	// With ranks inverted, a long-period task preempts the 100ms task,
	// whose response time becomes 40+80 = 120 > 100.
	inverted := []Task{
		{Rank: 1, Period: ms(1000), Deadline: ms(1000), WCET: ms(80)},
		{Rank: 2, Period: ms(100), Deadline: ms(100), WCET: ms(40)},
	}
	if v := Analyze(inverted, 32); v != Unschedulable {
		t.Errorf("inverted ranks: expected Unschedulable, got %v", v)
	}
}

func TestAnalyzeIsPure(t *testing.T) {
	set := []Task{fast(2), slow(1)}
	first := Analyze(set, 32)
	for i := 0; i < 10; i++ {
		if v := Analyze(set, 32); v != first {
			t.Fatalf("verdict changed between runs: %v then %v", first, v)
		}
	}
	// Input order must not matter either.
	reordered := []Task{slow(1), fast(2)}
	if v := Analyze(reordered, 32); v != first {
		t.Errorf("verdict depends on input order: %v vs %v", first, v)
	}
}
