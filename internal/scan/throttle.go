package scan

import (
	"context"
	"time"
)

// Pool-width defaults. Throttled scans keep file-handle concurrency low so
// a single mechanical or network volume is not hammered with parallel
// random reads; unthrottled scans favor fast local SSDs.
const (
	ThrottledWorkers   = 2
	UnthrottledWorkers = 8
)

// ThrottlePolicy bounds hashing concurrency and paces disk access. It is a
// performance knob only: disabling it changes timing and contention, never
// results.
type ThrottlePolicy struct {
	Enabled       bool
	Workers       int           // pool width override; 0 picks the default
	DispatchDelay time.Duration // pause between dispatch batches
	ReadDelay     time.Duration // pause between chunk reads within one file
}

// DefaultThrottle is the conservative policy used unless a caller opts out.
var DefaultThrottle = ThrottlePolicy{
	Enabled:       true,
	DispatchDelay: 25 * time.Millisecond,
	ReadDelay:     2 * time.Millisecond,
}

// Width returns the worker-pool width the policy allows.
func (p ThrottlePolicy) Width() int {
	if p.Workers > 0 {
		return p.Workers
	}
	if p.Enabled {
		return ThrottledWorkers
	}
	return UnthrottledWorkers
}

func (p ThrottlePolicy) dispatchDelay() time.Duration {
	if !p.Enabled {
		return 0
	}
	return p.DispatchDelay
}

func (p ThrottlePolicy) readDelay() time.Duration {
	if !p.Enabled {
		return 0
	}
	return p.ReadDelay
}

// hashResult is what a worker hands back to the coordinating goroutine.
// Workers never touch shared maps.
type hashResult struct {
	path   string
	digest string
	err    error
}

// pool is the single executor shared by the hashing stages, so total disk
// concurrency is controlled in one place.
type pool struct {
	width         int
	dispatchDelay time.Duration
}

func newPool(policy ThrottlePolicy) *pool {
	return &pool{
		width:         policy.Width(),
		dispatchDelay: policy.dispatchDelay(),
	}
}

// run hashes each path with work, invoking collect on the coordinating
// goroutine for every completed item. The pause signal is checked before
// each dispatch; once it fires, in-flight work drains but nothing new is
// submitted and run reports paused=true along with the paths never
// dispatched. Context cancellation likewise drains in-flight work, drops
// the queue, and surfaces ctx.Err().
func (p *pool) run(
	ctx context.Context,
	paths []string,
	pause PauseFunc,
	work func(path string) (string, error),
	collect func(res hashResult),
) (remaining []string, paused bool, err error) {
	sem := make(chan struct{}, p.width)
	results := make(chan hashResult, p.width)
	inFlight := 0

	drainOne := func() {
		res := <-results
		inFlight--
		collect(res)
	}

	for i, path := range paths {
		// Collect whatever has already finished so pause/cancel checks
		// see fresh state and the results channel never backs up.
		for len(results) > 0 {
			drainOne()
		}

		if err := ctx.Err(); err != nil {
			for inFlight > 0 {
				drainOne()
			}
			return paths[i:], false, err
		}
		if pause.requested() {
			for inFlight > 0 {
				drainOne()
			}
			return paths[i:], true, nil
		}

		if p.dispatchDelay > 0 && i > 0 && i%p.width == 0 {
			time.Sleep(p.dispatchDelay)
		}

		sem <- struct{}{}
		inFlight++
		go func(path string) {
			defer func() { <-sem }()
			digest, err := work(path)
			results <- hashResult{path: path, digest: digest, err: err}
		}(path)
	}

	for inFlight > 0 {
		drainOne()
	}
	return nil, false, nil
}
