package evo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"carsim/internal/genotype"
	"carsim/internal/model"
)

var (
	ErrNoSynapses       = errors.New("genome has no synapses")
	ErrNoNeurons        = errors.New("genome has no neurons")
	ErrNoMutationChoice = errors.New("no mutation choice available")
)

// PerturbWeightAt mutates one synapse weight by a fixed delta.
type PerturbWeightAt struct {
	Index int
	Delta float64
}

func (o PerturbWeightAt) Name() string {
	return "perturb_weight_at"
}

func (o PerturbWeightAt) Apply(_ context.Context, genome model.Genome) (model.Genome, error) {
	if len(genome.Synapses) == 0 {
		return model.Genome{}, ErrNoMutationChoice
	}
	if o.Index < 0 || o.Index >= len(genome.Synapses) {
		return model.Genome{}, fmt.Errorf("synapse index out of range: %d", o.Index)
	}

	mutated := genotype.CloneGenome(genome)
	mutated.Synapses[o.Index].Weight += o.Delta
	return mutated, nil
}

// PerturbRandomWeight mutates a random synapse using uniform delta in [-MaxDelta, MaxDelta].
type PerturbRandomWeight struct {
	Rand     *rand.Rand
	MaxDelta float64
}

func (o *PerturbRandomWeight) Name() string {
	return "perturb_random_weight"
}

func (o *PerturbRandomWeight) Apply(_ context.Context, genome model.Genome) (model.Genome, error) {
	if len(genome.Synapses) == 0 {
		return model.Genome{}, ErrNoSynapses
	}
	if o == nil || o.Rand == nil {
		return model.Genome{}, errors.New("random source is required")
	}
	if o.MaxDelta <= 0 {
		return model.Genome{}, errors.New("max delta must be > 0")
	}

	idx := o.Rand.Intn(len(genome.Synapses))
	delta := (o.Rand.Float64()*2 - 1) * o.MaxDelta

	mutated := genotype.CloneGenome(genome)
	mutated.Synapses[idx].Weight += delta
	return mutated, nil
}

// PerturbWeightsProportional perturbs each synapse with probability
// 1/sqrt(total). At least one synapse is always perturbed.
type PerturbWeightsProportional struct {
	Rand     *rand.Rand
	MaxDelta float64
}

func (o *PerturbWeightsProportional) Name() string {
	return "perturb_weights_proportional"
}

func (o *PerturbWeightsProportional) Apply(_ context.Context, genome model.Genome) (model.Genome, error) {
	if len(genome.Synapses) == 0 {
		return model.Genome{}, ErrNoSynapses
	}
	if o == nil || o.Rand == nil {
		return model.Genome{}, errors.New("random source is required")
	}
	if o.MaxDelta <= 0 {
		return model.Genome{}, errors.New("max delta must be > 0")
	}

	mutated := genotype.CloneGenome(genome)
	mp := 1 / math.Sqrt(float64(len(mutated.Synapses)))
	mutatedCount := 0
	for i := range mutated.Synapses {
		if o.Rand.Float64() >= mp {
			continue
		}
		mutated.Synapses[i].Weight += (o.Rand.Float64()*2 - 1) * o.MaxDelta
		mutatedCount++
	}
	if mutatedCount == 0 {
		idx := o.Rand.Intn(len(mutated.Synapses))
		mutated.Synapses[idx].Weight += (o.Rand.Float64()*2 - 1) * o.MaxDelta
	}
	return mutated, nil
}

// PerturbRandomBias shifts the bias of a random computing neuron.
type PerturbRandomBias struct {
	Rand     *rand.Rand
	MaxDelta float64
}

func (o *PerturbRandomBias) Name() string {
	return "perturb_random_bias"
}

func (o *PerturbRandomBias) Apply(_ context.Context, genome model.Genome) (model.Genome, error) {
	targets := computingNeurons(genome)
	if len(targets) == 0 {
		return model.Genome{}, ErrNoNeurons
	}
	if o == nil || o.Rand == nil {
		return model.Genome{}, errors.New("random source is required")
	}
	if o.MaxDelta <= 0 {
		return model.Genome{}, errors.New("max delta must be > 0")
	}

	idx := targets[o.Rand.Intn(len(targets))]
	mutated := genotype.CloneGenome(genome)
	mutated.Neurons[idx].Bias += (o.Rand.Float64()*2 - 1) * o.MaxDelta
	return mutated, nil
}

// ChangeRandomActivation swaps the activation of a random computing neuron.
type ChangeRandomActivation struct {
	Rand        *rand.Rand
	Activations []string
}

func (o *ChangeRandomActivation) Name() string {
	return "change_random_activation"
}

func (o *ChangeRandomActivation) Apply(_ context.Context, genome model.Genome) (model.Genome, error) {
	targets := computingNeurons(genome)
	if len(targets) == 0 {
		return model.Genome{}, ErrNoNeurons
	}
	if o == nil || o.Rand == nil {
		return model.Genome{}, errors.New("random source is required")
	}
	activations := o.Activations
	if len(activations) == 0 {
		activations = []string{"relu", "tanh", "sigmoid"}
	}

	idx := targets[o.Rand.Intn(len(targets))]
	current := genome.Neurons[idx].Activation
	choices := make([]string, 0, len(activations))
	for _, name := range activations {
		if name != "" && name != current {
			choices = append(choices, name)
		}
	}
	if len(choices) == 0 {
		return model.Genome{}, ErrNoMutationChoice
	}

	mutated := genotype.CloneGenome(genome)
	mutated.Neurons[idx].Activation = choices[o.Rand.Intn(len(choices))]
	return mutated, nil
}

// ToggleRandomSynapse flips the enabled flag of a random synapse.
type ToggleRandomSynapse struct {
	Rand *rand.Rand
}

func (o *ToggleRandomSynapse) Name() string {
	return "toggle_random_synapse"
}

func (o *ToggleRandomSynapse) Apply(_ context.Context, genome model.Genome) (model.Genome, error) {
	if len(genome.Synapses) == 0 {
		return model.Genome{}, ErrNoSynapses
	}
	if o == nil || o.Rand == nil {
		return model.Genome{}, errors.New("random source is required")
	}
	idx := o.Rand.Intn(len(genome.Synapses))
	mutated := genotype.CloneGenome(genome)
	mutated.Synapses[idx].Enabled = !mutated.Synapses[idx].Enabled
	return mutated, nil
}

// computingNeurons returns indexes of neurons that receive synapses. Input
// neurons are fed directly and have no bias or activation to mutate.
func computingNeurons(genome model.Genome) []int {
	targets := make(map[string]struct{}, len(genome.Neurons))
	for _, s := range genome.Synapses {
		targets[s.To] = struct{}{}
	}
	out := make([]int, 0, len(targets))
	for i, n := range genome.Neurons {
		if _, ok := targets[n.ID]; ok {
			out = append(out, i)
		}
	}
	return out
}

// DefaultMutationPolicy is the weight-level policy used by carsimctl.
func DefaultMutationPolicy(rng *rand.Rand, maxDelta float64) []WeightedMutation {
	return []WeightedMutation{
		{Operator: &PerturbRandomWeight{Rand: rng, MaxDelta: maxDelta}, Weight: 0.5},
		{Operator: &PerturbWeightsProportional{Rand: rng, MaxDelta: maxDelta}, Weight: 0.25},
		{Operator: &PerturbRandomBias{Rand: rng, MaxDelta: maxDelta}, Weight: 0.15},
		{Operator: &ChangeRandomActivation{Rand: rng}, Weight: 0.05},
		{Operator: &ToggleRandomSynapse{Rand: rng}, Weight: 0.05},
	}
}
