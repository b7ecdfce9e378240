package catalog

import (
	"testing"
	"time"
)

func TestLookup(t *testing.T) {
	c := Load()

	for _, name := range []string{"t1", "t2", "t3"} {
		tpl, err := c.Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%s): %v", name, err)
		}
		if tpl.Name != name {
			t.Errorf("Lookup(%s) returned template %s", name, tpl.Name)
		}
		if tpl.WCET <= 0 || tpl.WCET > tpl.Deadline || tpl.Deadline > tpl.Period {
			t.Errorf("%s violates WCET <= Deadline <= Period: %+v", name, tpl)
		}
	}

	if _, err := c.Lookup("t99"); err != ErrNotFound {
		t.Errorf("Lookup(t99): expected ErrNotFound, got %v", err)
	}
}

func TestPrioritiesStrictAndRateMonotonic(t *testing.T) {
	c := Load()

	seen := make(map[int]string)
	for _, name := range c.Names() {
		tpl, _ := c.Lookup(name)
		if other, dup := seen[tpl.Priority]; dup {
			t.Errorf("priority %d shared by %s and %s", tpl.Priority, other, name)
		}
		seen[tpl.Priority] = name
	}

	t1, _ := c.Lookup("t1")
	t3, _ := c.Lookup("t3")
	if t3.Priority >= t1.Priority {
		t.Errorf("rate-monotonic order broken: t3 prio %d, t1 prio %d", t3.Priority, t1.Priority)
	}
}

func TestUtilizationOrdering(t *testing.T) {
	c := Load()
	t1, _ := c.Lookup("t1")
	t2, _ := c.Lookup("t2")
	t3, _ := c.Lookup("t3")

	// Repeated admission of t3 must saturate long before t1 would.
	if !(t3.Utilization() > t2.Utilization() && t2.Utilization() > t1.Utilization()) {
		t.Errorf("utilizations not strictly ordered: t3=%.2f t2=%.2f t1=%.2f",
			t3.Utilization(), t2.Utilization(), t1.Utilization())
	}
}

func TestMaxPeriod(t *testing.T) {
	c := Load()
	if got := c.MaxPeriod(); got != 1000*time.Millisecond {
		t.Errorf("MaxPeriod = %v, want 1s", got)
	}
}

func TestLookupReturnsCopy(t *testing.T) {
	c := Load()
	tpl, _ := c.Lookup("t1")
	tpl.WCET = 0

	again, _ := c.Lookup("t1")
	if again.WCET == 0 {
		t.Error("mutating a looked-up template leaked into the catalog")
	}
}
