package evo

import (
	"context"
	"fmt"

	"carsim/internal/model"
	"carsim/internal/scape"
)

func newLinearGenome(id string, weight float64) model.Genome {
	return model.Genome{
		ID: id,
		Neurons: []model.Neuron{
			{ID: "in:0", Activation: "identity"},
			{ID: "out:0", Activation: "tanh"},
		},
		Synapses: []model.Synapse{
			{ID: "out:0<in:0", From: "in:0", To: "out:0", Weight: weight, Enabled: true},
		},
	}
}

// weightScape scores every candidate by the sum of its synapse weights and
// can be told to cancel on a given generation.
type weightScape struct {
	calls    int
	cancelAt int
	seen     [][]string
}

func (*weightScape) Name() string { return "weight" }

func (*weightScape) Shape() scape.NetworkShape {
	return scape.NetworkShape{Sensors: 1, Actions: 1}
}

func (s *weightScape) EvaluateGeneration(_ context.Context, candidates []*scape.Candidate) (scape.Report, error) {
	s.calls++
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	s.seen = append(s.seen, ids)
	if s.cancelAt > 0 && s.calls == s.cancelAt {
		return scape.Report{Generation: s.calls, State: scape.StateCancelled}, fmt.Errorf("generation %d at tick 0: %w", s.calls, scape.ErrCancelled)
	}

	best := 0.0
	for i, c := range candidates {
		sum := 0.0
		for _, syn := range c.Genome.Synapses {
			sum += syn.Weight
		}
		c.Fitness = sum
		if i == 0 || sum > best {
			best = sum
		}
	}
	return scape.Report{
		Generation:  s.calls,
		State:       scape.StateTimedOut,
		Ticks:       100,
		Evaluated:   len(candidates),
		Survivors:   len(candidates),
		BestFitness: best,
	}, nil
}
