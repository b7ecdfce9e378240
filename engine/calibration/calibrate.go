// Package calibration measures how fast this host executes the engine's
// busy-loop body so that a task's declared execution budget (in
// milliseconds) maps to a reproducible iteration count.
package calibration

import (
	"errors"
	"math"
	"time"
)

const (
	// measureWindow is how long the calibration loop samples the host.
	// The whole calibration must finish well under 500ms.
	measureWindow = 100 * time.Millisecond

	warmupIters = 200_000

	// maxItersPerMS guards the wcet*iters multiplication in the executor
	// against overflow for any sane wcet value.
	maxItersPerMS = math.MaxUint64 / 1_000_000
)

var ErrUnusable = errors.New("calibration produced an unusable iteration rate")

// sink defeats dead-code elimination of the spin body.
var sink uint64

// Spin executes n iterations of the calibrated arithmetic body.
// The body is a xorshift step: cheap, branch-free and not optimizable away.
func Spin(n uint64) {
	x := sink | 0x9E3779B97F4A7C15
	for i := uint64(0); i < n; i++ {
		x ^= x << 13
		x ^= x >> 7
		x ^= x << 17
	}
	sink = x
}

// Calibrate measures the iteration rate of Spin and returns the number of
// iterations that execute in one millisecond of wall time.
//
// It must run before the engine binds its listener: serving traffic with a
// bogus rate would make every admitted budget meaningless.
func Calibrate() (uint64, error) {
	// Warm up caches and let the scheduler settle.
	Spin(warmupIters)

	const chunk = 1_000_000
	var total uint64
	start := time.Now()
	for time.Since(start) < measureWindow {
		Spin(chunk)
		total += chunk
	}
	elapsed := time.Since(start)

	itersPerMS := total / uint64(elapsed.Milliseconds())
	if itersPerMS == 0 || itersPerMS > maxItersPerMS {
		return 0, ErrUnusable
	}
	return itersPerMS, nil
}
