package transcribe

import (
	"strings"
)

// Fallback decides what to show when a transcription attempt fails.
type Fallback interface {
	// Recover returns a substitute result, or false when the failure should
	// be surfaced to the user.
	Recover(err error) (*Result, bool)
}

// NoFallback surfaces every failure. It is the production strategy.
type NoFallback struct{}

func (NoFallback) Recover(error) (*Result, bool) {
	return nil, false
}

// SimulatedLines is the fixed freestyle used when no transcription backend is
// reachable during development.
var SimulatedLines = []string{
	"I'm on the mic and I'm ready to flow",
	"Got these rhymes that'll make you wanna know",
	"How I keep it real with every single verse",
	"Flowing smooth like water, never rehearsed",
	"You already know how I bring the heat",
	"Every single time I step on the beat",
	"This is how we do it when we in the booth",
	"Dropping knowledge and the absolute truth",
}

// SimulatedFallback answers every failure with SimulatedLines. Only select it
// in development configurations.
type SimulatedFallback struct{}

func (SimulatedFallback) Recover(error) (*Result, bool) {
	lines := make([]string, len(SimulatedLines))
	copy(lines, SimulatedLines)
	return &Result{
		FullText:  strings.Join(lines, ". "),
		Lines:     lines,
		Simulated: true,
	}, true
}
