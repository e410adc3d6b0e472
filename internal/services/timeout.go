// Package services – timeout scaling
//
// Generation latency grows with input size: a fixed deadline either kills
// legitimate long-video requests or pins server capacity waiting on short
// ones. TimeoutScaler derives a per-request deadline from transcript length
// instead — a deterministic, monotonically non-decreasing step function with
// a floor (provider cold start) and a ceiling (bounds worst-case resource
// pinning).
package services

import "time"

// Scaler defaults, applied when the corresponding field is unset.
const (
	defaultTimeoutFloor   = 45 * time.Second
	defaultTimeoutCeiling = 5 * time.Minute
	defaultStepChars      = 10_000
	defaultStepDuration   = 15 * time.Second
)

// TimeoutScaler computes provider-call deadlines from transcript size.
// The zero value uses the package defaults. The scaler is pure and carries
// no I/O, so it is trivially unit-testable.
type TimeoutScaler struct {
	// Floor is the minimum deadline granted to any request.
	Floor time.Duration
	// Ceiling caps the deadline for arbitrarily long transcripts.
	Ceiling time.Duration
	// StepChars is the transcript-length granularity: every full StepChars
	// characters add StepDuration to the deadline.
	StepChars int
	// StepDuration is the deadline increment per step.
	StepDuration time.Duration
}

// TimeoutFor returns the deadline for a transcript of the given character
// length. Non-positive lengths receive the floor.
func (s TimeoutScaler) TimeoutFor(transcriptLen int) time.Duration {
	floor := s.Floor
	if floor <= 0 {
		floor = defaultTimeoutFloor
	}
	ceiling := s.Ceiling
	if ceiling <= 0 {
		ceiling = defaultTimeoutCeiling
	}
	if ceiling < floor {
		ceiling = floor
	}
	stepChars := s.StepChars
	if stepChars <= 0 {
		stepChars = defaultStepChars
	}
	stepDur := s.StepDuration
	if stepDur <= 0 {
		stepDur = defaultStepDuration
	}

	if transcriptLen <= 0 {
		return floor
	}
	d := floor + time.Duration(transcriptLen/stepChars)*stepDur
	if d > ceiling {
		return ceiling
	}
	return d
}
