package genotype

import (
	"context"
	"fmt"
	"strings"

	"carsim/internal/model"
	"carsim/internal/storage"
)

// Genome ids repeat across runs (car-g0-0, ...), so snapshot members are
// stored under "<population id>/<genome id>" and unscoped again on load.
func scopedGenomeID(populationID, genomeID string) string {
	return populationID + "/" + genomeID
}

func SavePopulationSnapshot(ctx context.Context, store storage.Store, populationID string, generation int, genomes []model.Genome) error {
	if store == nil {
		return fmt.Errorf("store is required")
	}
	if populationID == "" {
		return fmt.Errorf("population id is required")
	}

	genomeIDs := make([]string, 0, len(genomes))
	seen := make(map[string]struct{}, len(genomes))
	for _, g := range genomes {
		if g.ID == "" {
			return fmt.Errorf("population %s: genome id is required", populationID)
		}
		if _, ok := seen[g.ID]; ok {
			continue
		}
		seen[g.ID] = struct{}{}

		stored := CloneGenome(g)
		stored.ID = scopedGenomeID(populationID, g.ID)
		if err := store.SaveGenome(ctx, stored); err != nil {
			return fmt.Errorf("save genome %s: %w", g.ID, err)
		}
		genomeIDs = append(genomeIDs, g.ID)
	}

	return store.SavePopulation(ctx, model.Population{
		VersionedRecord: storage.Versioned(),
		ID:              populationID,
		GenomeIDs:       genomeIDs,
		Generation:      generation,
	})
}

func LoadPopulationSnapshot(ctx context.Context, store storage.Store, populationID string) (model.Population, []model.Genome, error) {
	if store == nil {
		return model.Population{}, nil, fmt.Errorf("store is required")
	}
	if populationID == "" {
		return model.Population{}, nil, fmt.Errorf("population id is required")
	}

	pop, ok, err := store.GetPopulation(ctx, populationID)
	if err != nil {
		return model.Population{}, nil, err
	}
	if !ok {
		return model.Population{}, nil, fmt.Errorf("population not found: %s", populationID)
	}

	genomes := make([]model.Genome, 0, len(pop.GenomeIDs))
	for _, genomeID := range pop.GenomeIDs {
		g, ok, err := store.GetGenome(ctx, scopedGenomeID(populationID, genomeID))
		if err != nil {
			return model.Population{}, nil, err
		}
		if !ok {
			return model.Population{}, nil, fmt.Errorf("genome not found for population %s: %s", populationID, genomeID)
		}
		g.ID = strings.TrimPrefix(g.ID, populationID+"/")
		genomes = append(genomes, g)
	}
	return pop, genomes, nil
}
