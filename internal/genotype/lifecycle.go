package genotype

import (
	"fmt"
	"math/rand"
	"time"

	"carsim/internal/model"
)

type SeedPopulation struct {
	Genomes         []model.Genome
	InputNeuronIDs  []string
	OutputNeuronIDs []string
}

// ConstructSeedPopulation builds size seed genomes from one RNG stream so the
// same seed always yields the same population.
func ConstructSeedPopulation(spec SeedSpec, size int, seed int64) (SeedPopulation, error) {
	if size <= 0 {
		return SeedPopulation{}, fmt.Errorf("population size must be > 0")
	}
	rng := rand.New(rand.NewSource(seed))
	genomes := make([]model.Genome, 0, size)
	for i := 0; i < size; i++ {
		genome, err := ConstructSeedGenome(fmt.Sprintf("car-g0-%d", i), spec, rng)
		if err != nil {
			return SeedPopulation{}, err
		}
		genomes = append(genomes, genome)
	}
	return SeedPopulation{
		Genomes:         genomes,
		InputNeuronIDs:  InputNeuronIDs(spec.Sensors),
		OutputNeuronIDs: OutputNeuronIDs(spec.Actions),
	}, nil
}

// CloneAgent returns a deep copy with a new id. Neuron and synapse ids are
// kept so offspring stay compatible with their parent's layout.
func CloneAgent(genome model.Genome, newID string) model.Genome {
	clone := CloneGenome(genome)
	if newID != "" {
		clone.ParentID = genome.ID
		clone.ID = newID
	}
	return clone
}

// CloneAgentAutoID clones genome under a generated id.
func CloneAgentAutoID(genome model.Genome, rng *rand.Rand) model.Genome {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	base := genome.ID
	if base == "" {
		base = "car"
	}
	return CloneAgent(genome, fmt.Sprintf("%s-clone-%d", base, rng.Int63()))
}
