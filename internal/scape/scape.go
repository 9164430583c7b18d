// Package scape runs generations of cars against a shared track. A generation
// is one Session: every candidate gets a car and a policy, and the session
// ticks until all cars are dead, the tick budget is spent, or the run is
// cancelled.
package scape

import (
	"context"
	"errors"

	"carsim/internal/model"
)

// ErrCancelled is returned when a generation stops because of context
// cancellation or a Quit command.
var ErrCancelled = errors.New("evaluation cancelled")

// Policy maps a sensor reading to one score per action.
type Policy interface {
	Evaluate(ctx context.Context, reading []float64) ([]float64, error)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, reading []float64) ([]float64, error)

func (f PolicyFunc) Evaluate(ctx context.Context, reading []float64) ([]float64, error) {
	return f(ctx, reading)
}

// NetworkShape describes the input and output widths a policy must honour.
type NetworkShape struct {
	Sensors int `json:"sensors"`
	Actions int `json:"actions"`
}

// PolicyFactory builds the decision function for one genome.
type PolicyFactory func(genome model.Genome, shape NetworkShape) (Policy, error)

// Candidate is one population member handed in by the population manager.
// Fitness is written back during the generation.
type Candidate struct {
	ID      string
	Genome  model.Genome
	Fitness float64
}

// GenerationScape is what the population manager needs from an environment.
type GenerationScape interface {
	Name() string
	Shape() NetworkShape
	EvaluateGeneration(ctx context.Context, candidates []*Candidate) (Report, error)
}

// Observer receives frames while a generation runs. ObserveFrame is called on
// the session goroutine and must not block.
type Observer interface {
	ObserveFrame(Frame)
}

// Observers fans a frame out to several observers in order.
type Observers []Observer

func (o Observers) ObserveFrame(f Frame) {
	for _, obs := range o {
		if obs != nil {
			obs.ObserveFrame(f)
		}
	}
}
