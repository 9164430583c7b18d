package genotype

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"carsim/internal/model"
	"carsim/internal/storage"
)

// SeedSpec describes the dense feed-forward scaffold every seed genome starts
// from: one input neuron per sensor, an optional hidden layer, and one output
// neuron per action.
type SeedSpec struct {
	Sensors          int    `json:"sensors"`
	Actions          int    `json:"actions"`
	Hidden           int    `json:"hidden"`
	Activation       string `json:"activation"`
	OutputActivation string `json:"output_activation"`
}

func (s SeedSpec) Validate() error {
	if s.Sensors <= 0 {
		return fmt.Errorf("sensor count must be > 0, got %d", s.Sensors)
	}
	if s.Actions <= 0 {
		return fmt.Errorf("action count must be > 0, got %d", s.Actions)
	}
	if s.Hidden < 0 {
		return fmt.Errorf("hidden count must be >= 0, got %d", s.Hidden)
	}
	return nil
}

func InputNeuronIDs(n int) []string  { return layerIDs("in", n) }
func HiddenNeuronIDs(n int) []string { return layerIDs("hid", n) }
func OutputNeuronIDs(n int) []string { return layerIDs("out", n) }

func layerIDs(prefix string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s:%d", prefix, i)
	}
	return ids
}

// ConstructNeuron returns a neuron with a random bias and one randomly
// weighted inbound synapse per source.
func ConstructNeuron(neuronID, activation string, fromIDs []string, rng *rand.Rand) (model.Neuron, []model.Synapse, error) {
	if strings.TrimSpace(neuronID) == "" {
		return model.Neuron{}, nil, fmt.Errorf("neuron id is required")
	}
	rng = ensureRNG(rng)
	if strings.TrimSpace(activation) == "" {
		activation = "tanh"
	}
	neuron := model.Neuron{
		ID:         neuronID,
		Activation: activation,
		Bias:       randomCentered(rng),
	}
	synapses := make([]model.Synapse, 0, len(fromIDs))
	for _, fromID := range fromIDs {
		synapses = append(synapses, model.Synapse{
			ID:      fmt.Sprintf("%s<%s", neuronID, fromID),
			From:    fromID,
			To:      neuronID,
			Weight:  randomCentered(rng) * 2,
			Enabled: true,
		})
	}
	return neuron, synapses, nil
}

// ConstructSeedGenome builds a fully connected genome for spec. Neurons are
// listed inputs first, then hidden, then outputs, which is the evaluation
// order the network compiler expects.
func ConstructSeedGenome(id string, spec SeedSpec, rng *rand.Rand) (model.Genome, error) {
	if err := spec.Validate(); err != nil {
		return model.Genome{}, err
	}
	rng = ensureRNG(rng)

	inputs := InputNeuronIDs(spec.Sensors)
	hidden := HiddenNeuronIDs(spec.Hidden)
	outputs := OutputNeuronIDs(spec.Actions)

	genome := model.Genome{
		VersionedRecord: model.VersionedRecord{SchemaVersion: storage.CurrentSchemaVersion, CodecVersion: storage.CurrentCodecVersion},
		ID:              id,
		Neurons:         make([]model.Neuron, 0, len(inputs)+len(hidden)+len(outputs)),
	}
	for _, inputID := range inputs {
		genome.Neurons = append(genome.Neurons, model.Neuron{ID: inputID, Activation: "identity"})
	}

	outputSources := inputs
	if len(hidden) > 0 {
		for _, hiddenID := range hidden {
			neuron, synapses, err := ConstructNeuron(hiddenID, spec.Activation, inputs, rng)
			if err != nil {
				return model.Genome{}, err
			}
			genome.Neurons = append(genome.Neurons, neuron)
			genome.Synapses = append(genome.Synapses, synapses...)
		}
		outputSources = hidden
	}
	outputActivation := spec.OutputActivation
	if outputActivation == "" {
		outputActivation = spec.Activation
	}
	for _, outputID := range outputs {
		neuron, synapses, err := ConstructNeuron(outputID, outputActivation, outputSources, rng)
		if err != nil {
			return model.Genome{}, err
		}
		genome.Neurons = append(genome.Neurons, neuron)
		genome.Synapses = append(genome.Synapses, synapses...)
	}
	return genome, nil
}

// RandomElement picks a uniformly random element from values.
func RandomElement[T any](rng *rand.Rand, values []T) (T, error) {
	var zero T
	if len(values) == 0 {
		return zero, fmt.Errorf("values are required")
	}
	rng = ensureRNG(rng)
	return values[rng.Intn(len(values))], nil
}

func ensureRNG(rng *rand.Rand) *rand.Rand {
	if rng != nil {
		return rng
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

func randomCentered(rng *rand.Rand) float64 {
	return rng.Float64() - 0.5
}
