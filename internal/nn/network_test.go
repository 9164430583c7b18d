package nn

import (
	"math"
	"testing"

	"carsim/internal/model"
)

func TestActivateSimpleFeedForward(t *testing.T) {
	genome := model.Genome{
		Neurons: []model.Neuron{
			{ID: "i1", Activation: "identity"},
			{ID: "i2", Activation: "identity"},
			{ID: "o", Activation: "identity", Bias: 0.5},
		},
		Synapses: []model.Synapse{
			{ID: "s1", From: "i1", To: "o", Weight: 2, Enabled: true},
			{ID: "s2", From: "i2", To: "o", Weight: -1, Enabled: true},
		},
	}

	net, err := Compile(genome, []string{"i1", "i2"}, []string{"o"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	out, err := net.Activate([]float64{1.0, 0.25})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}

	want := 2.25
	if math.Abs(out[0]-want) > 1e-9 {
		t.Fatalf("unexpected output: got=%f want=%f", out[0], want)
	}
}

func TestCompileUnsupportedActivation(t *testing.T) {
	genome := model.Genome{
		Neurons: []model.Neuron{
			{ID: "i", Activation: "identity"},
			{ID: "o", Activation: "unknown"},
		},
	}

	if _, err := Compile(genome, []string{"i"}, []string{"o"}); err == nil {
		t.Fatal("expected unsupported activation error")
	}
}

func TestActivateLayeredNetwork(t *testing.T) {
	genome := model.Genome{
		Neurons: []model.Neuron{
			{ID: "i1", Activation: "identity"},
			{ID: "i2", Activation: "identity"},
			{ID: "h", Activation: "tanh", Bias: 0.1},
			{ID: "o1", Activation: "sigmoid"},
			{ID: "o2", Activation: "relu", Bias: -0.2},
		},
		Synapses: []model.Synapse{
			{ID: "s1", From: "i1", To: "h", Weight: 0.7, Enabled: true},
			{ID: "s2", From: "i2", To: "h", Weight: -1.3, Enabled: true},
			{ID: "s3", From: "h", To: "o1", Weight: 2, Enabled: true},
			{ID: "s4", From: "i1", To: "o2", Weight: 1.5, Enabled: true},
			{ID: "s5", From: "i2", To: "o2", Weight: 9, Enabled: false},
		},
	}

	net, err := Compile(genome, []string{"i1", "i2"}, []string{"o1", "o2"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	out, err := net.Activate([]float64{0.4, 0.9})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	h := math.Tanh(0.1 + 0.4*0.7 + 0.9*-1.3)
	want1 := 1 / (1 + math.Exp(-2*h))
	want2 := math.Max(0, -0.2+0.4*1.5)
	if math.Abs(out[0]-want1) > 1e-12 || math.Abs(out[1]-want2) > 1e-12 {
		t.Fatalf("compiled output mismatch: got=%v want=[%f %f]", out, want1, want2)
	}

	// Scratch state must not leak between activations.
	again, err := net.Activate([]float64{0.4, 0.9})
	if err != nil {
		t.Fatalf("activate again: %v", err)
	}
	if again[0] != out[0] || again[1] != out[1] {
		t.Fatalf("activation not repeatable: first=%v second=%v", out, again)
	}
}

func TestCompileRejectsInvalidGenomes(t *testing.T) {
	base := []model.Neuron{
		{ID: "i", Activation: "identity"},
		{ID: "o", Activation: "identity"},
	}
	tests := []struct {
		name    string
		genome  model.Genome
		inputs  []string
		outputs []string
	}{
		{name: "missing-input", genome: model.Genome{Neurons: base}, inputs: []string{"x"}, outputs: []string{"o"}},
		{name: "missing-output", genome: model.Genome{Neurons: base}, inputs: []string{"i"}, outputs: []string{"x"}},
		{name: "no-outputs", genome: model.Genome{Neurons: base}, inputs: []string{"i"}},
		{
			name: "recurrent",
			genome: model.Genome{Neurons: base, Synapses: []model.Synapse{
				{ID: "s", From: "o", To: "o", Weight: 1, Enabled: true},
			}},
			inputs:  []string{"i"},
			outputs: []string{"o"},
		},
		{
			name: "into-input",
			genome: model.Genome{Neurons: base, Synapses: []model.Synapse{
				{ID: "s", From: "o", To: "i", Weight: 1, Enabled: true},
			}},
			inputs:  []string{"i"},
			outputs: []string{"o"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Compile(tc.genome, tc.inputs, tc.outputs); err == nil {
				t.Fatal("expected compile error")
			}
		})
	}
}

func TestActivateInputSizeMismatch(t *testing.T) {
	genome := model.Genome{Neurons: []model.Neuron{
		{ID: "i", Activation: "identity"},
		{ID: "o", Activation: "identity"},
	}}
	net, err := Compile(genome, []string{"i"}, []string{"o"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, err := net.Activate([]float64{1, 2}); err == nil {
		t.Fatal("expected input size mismatch")
	}
}
