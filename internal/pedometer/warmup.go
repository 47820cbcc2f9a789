package pedometer

import "time"

type warmupState int

const (
	warmupIdle warmupState = iota
	warmupWarming
	warmupValidated
)

// Commit is a validated step delta ready to persist.
type Commit struct {
	Steps int64
	From  time.Time
	To    time.Time
}

// WarmupValidator is the session-level gate that decides whether confirmed
// steps are persisted at all. It buffers the first burst after (re)start and
// only commits once a minimum count and a maximum sustained rate hold over
// the warmup window. After validation it commits on a fixed interval, with
// the same rate check applied per interval.
type WarmupValidator struct {
	duration time.Duration
	minSteps int
	maxRate  float64
	interval time.Duration

	state         warmupState
	warmStart     time.Time
	intervalStart time.Time
	lastLogged    int64
	started       bool
}

// NewWarmupValidator creates a validator. A zero duration disables the gate:
// the validator starts validated with nothing buffered.
func NewWarmupValidator(duration time.Duration, minSteps int, maxRate float64, interval time.Duration) *WarmupValidator {
	v := &WarmupValidator{
		duration: duration,
		minSteps: minSteps,
		maxRate:  maxRate,
		interval: interval,
	}
	if duration == 0 {
		v.state = warmupValidated
	}
	return v
}

// Observe advances the state machine with the current confirmed total. Call
// it on every sample so intervals expire even when steps stop. It returns a
// Commit when a validated delta is ready, nil otherwise.
func (v *WarmupValidator) Observe(total int64, now time.Time) *Commit {
	switch v.state {
	case warmupIdle:
		if total <= v.lastLogged {
			return nil
		}
		v.state = warmupWarming
		v.warmStart = now
		return nil

	case warmupWarming:
		elapsed := now.Sub(v.warmStart)
		if elapsed < v.duration {
			return nil
		}
		steps := total - v.lastLogged
		rate := float64(steps) / elapsed.Seconds()
		if steps < int64(v.minSteps) || rate > v.maxRate {
			// False start. Discard the buffered steps and retry.
			v.warmStart = now
			v.lastLogged = total
			return nil
		}
		from := v.warmStart
		v.state = warmupValidated
		v.started = true
		v.lastLogged = total
		v.intervalStart = now
		return &Commit{Steps: steps, From: from, To: now}

	case warmupValidated:
		if !v.started {
			v.started = true
			v.intervalStart = now
		}
		elapsed := now.Sub(v.intervalStart)
		if elapsed < v.interval {
			return nil
		}
		steps := total - v.lastLogged
		from := v.intervalStart
		// Advance the pointer regardless of outcome so a noisy interval
		// does not taint the next one.
		v.lastLogged = total
		v.intervalStart = now
		if steps <= 0 {
			return nil
		}
		if rate := float64(steps) / elapsed.Seconds(); rate > v.maxRate {
			return nil
		}
		return &Commit{Steps: steps, From: from, To: now}
	}
	return nil
}

// Flush commits steps accrued since the last interval boundary, applying the
// usual rate check. It is for session teardown; steps still buffered in an
// unvalidated warmup are discarded.
func (v *WarmupValidator) Flush(total int64, now time.Time) *Commit {
	if v.state != warmupValidated || !v.started {
		return nil
	}
	steps := total - v.lastLogged
	from := v.intervalStart
	v.lastLogged = total
	v.intervalStart = now
	if steps <= 0 {
		return nil
	}
	elapsed := now.Sub(from)
	if elapsed > 0 {
		if rate := float64(steps) / elapsed.Seconds(); rate > v.maxRate {
			return nil
		}
	}
	return &Commit{Steps: steps, From: from, To: now}
}

// Validated reports whether the warmup gate has passed for this session.
func (v *WarmupValidator) Validated() bool {
	return v.state == warmupValidated
}

// Reset returns the validator to its initial state, keeping configuration.
func (v *WarmupValidator) Reset(total int64) {
	if v.duration == 0 {
		v.state = warmupValidated
	} else {
		v.state = warmupIdle
	}
	v.started = false
	v.warmStart = time.Time{}
	v.intervalStart = time.Time{}
	v.lastLogged = total
}
