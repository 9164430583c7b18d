package nn

import (
	"fmt"

	"carsim/internal/model"
)

type compiledLink struct {
	from   int
	weight float64
}

type compiledNeuron struct {
	bias       float64
	activation ActivationFunc
	links      []compiledLink
}

// Network is a genome resolved into index form so that repeated evaluation
// avoids map lookups. It keeps a scratch buffer and is not safe for
// concurrent use.
type Network struct {
	inputs  []int
	outputs []int
	order   []int
	neurons []compiledNeuron
	values  []float64
}

// Compile resolves the genome against the given input and output neuron IDs.
// Synapses whose source is evaluated after their target are rejected since
// the network is strictly feed-forward.
func Compile(genome model.Genome, inputIDs, outputIDs []string) (*Network, error) {
	if len(inputIDs) == 0 {
		return nil, fmt.Errorf("input neuron ids are required")
	}
	if len(outputIDs) == 0 {
		return nil, fmt.Errorf("output neuron ids are required")
	}

	index := make(map[string]int, len(genome.Neurons))
	for i, neuron := range genome.Neurons {
		if _, dup := index[neuron.ID]; dup {
			return nil, fmt.Errorf("duplicate neuron id: %s", neuron.ID)
		}
		index[neuron.ID] = i
	}

	net := &Network{
		neurons: make([]compiledNeuron, len(genome.Neurons)),
		values:  make([]float64, len(genome.Neurons)),
	}
	isInput := make(map[int]bool, len(inputIDs))
	for _, id := range inputIDs {
		i, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("input neuron not found: %s", id)
		}
		net.inputs = append(net.inputs, i)
		isInput[i] = true
	}
	for _, id := range outputIDs {
		i, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("output neuron not found: %s", id)
		}
		net.outputs = append(net.outputs, i)
	}

	for i, neuron := range genome.Neurons {
		if isInput[i] {
			continue
		}
		fn, err := GetActivation(neuron.Activation)
		if err != nil {
			return nil, fmt.Errorf("neuron %s: %w", neuron.ID, err)
		}
		net.neurons[i] = compiledNeuron{bias: neuron.Bias, activation: fn}
		net.order = append(net.order, i)
	}

	for _, synapse := range genome.Synapses {
		if !synapse.Enabled {
			continue
		}
		from, ok := index[synapse.From]
		if !ok {
			return nil, fmt.Errorf("synapse %s: unknown source %s", synapse.ID, synapse.From)
		}
		to, ok := index[synapse.To]
		if !ok {
			return nil, fmt.Errorf("synapse %s: unknown target %s", synapse.ID, synapse.To)
		}
		if isInput[to] {
			return nil, fmt.Errorf("synapse %s: target %s is an input", synapse.ID, synapse.To)
		}
		if from >= to && !isInput[from] {
			return nil, fmt.Errorf("synapse %s: recurrent link %s->%s", synapse.ID, synapse.From, synapse.To)
		}
		net.neurons[to].links = append(net.neurons[to].links, compiledLink{from: from, weight: synapse.Weight})
	}
	return net, nil
}

// Activate runs one forward pass and returns a fresh output slice.
func (n *Network) Activate(inputs []float64) ([]float64, error) {
	if len(inputs) != len(n.inputs) {
		return nil, fmt.Errorf("input size mismatch: got=%d want=%d", len(inputs), len(n.inputs))
	}
	for i := range n.values {
		n.values[i] = 0
	}
	for i, idx := range n.inputs {
		n.values[idx] = inputs[i]
	}
	for _, idx := range n.order {
		neuron := n.neurons[idx]
		total := neuron.bias
		for _, link := range neuron.links {
			total += n.values[link.from] * link.weight
		}
		n.values[idx] = neuron.activation(total)
	}

	outputs := make([]float64, len(n.outputs))
	for i, idx := range n.outputs {
		outputs[i] = n.values[idx]
	}
	return outputs, nil
}
