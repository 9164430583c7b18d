package agent

import (
	"context"
	"fmt"
	"sync"

	"carsim/internal/genotype"
	"carsim/internal/model"
	"carsim/internal/nn"
	"carsim/internal/scape"
)

// Cortex drives one car with a compiled feed-forward network.
type Cortex struct {
	id              string
	genome          model.Genome
	inputNeuronIDs  []string
	outputNeuronIDs []string

	mu  sync.Mutex
	net *nn.Network
}

func NewCortex(
	id string,
	genome model.Genome,
	inputNeuronIDs []string,
	outputNeuronIDs []string,
) (*Cortex, error) {
	if id == "" {
		return nil, fmt.Errorf("agent id is required")
	}
	if len(inputNeuronIDs) == 0 {
		return nil, fmt.Errorf("input neuron ids are required")
	}
	if len(outputNeuronIDs) == 0 {
		return nil, fmt.Errorf("output neuron ids are required")
	}
	net, err := nn.Compile(genome, inputNeuronIDs, outputNeuronIDs)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", id, err)
	}

	return &Cortex{
		id:              id,
		genome:          genome,
		inputNeuronIDs:  append([]string(nil), inputNeuronIDs...),
		outputNeuronIDs: append([]string(nil), outputNeuronIDs...),
		net:             net,
	}, nil
}

func (c *Cortex) ID() string {
	return c.id
}

func (c *Cortex) Genome() model.Genome {
	return c.genome
}

// Evaluate feeds a sensor reading through the network and returns one score
// per output neuron.
func (c *Cortex) Evaluate(ctx context.Context, reading []float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.net.Activate(reading)
}

// Factory builds cortexes wired to the standard seed layout.
func Factory() scape.PolicyFactory {
	return func(genome model.Genome, shape scape.NetworkShape) (scape.Policy, error) {
		return NewCortex(
			genome.ID,
			genome,
			genotype.InputNeuronIDs(shape.Sensors),
			genotype.OutputNeuronIDs(shape.Actions),
		)
	}
}
