package evo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"

	"github.com/google/uuid"

	"carsim/internal/genotype"
	"carsim/internal/model"
	"carsim/internal/scape"
	"carsim/internal/stats"
	"carsim/internal/storage"
)

var recordVersion = model.VersionedRecord{
	SchemaVersion: storage.CurrentSchemaVersion,
	CodecVersion:  storage.CurrentCodecVersion,
}

type ScoredGenome struct {
	Genome  model.Genome
	Fitness float64
}

// GenerationResult is handed to MonitorConfig.OnGeneration after each
// evaluated generation.
type GenerationResult struct {
	RunID       string
	Diagnostics model.GenerationDiagnostics
	Ranked      []ScoredGenome
	Report      scape.Report
}

type RunResult struct {
	RunID                 string
	BestByGeneration      []float64
	GenerationDiagnostics []model.GenerationDiagnostics
	FinalPopulation       []ScoredGenome
	Champion              ScoredGenome
	ChampionGeneration    int
	Lineage               []model.LineageRecord
	Cancelled             bool
}

type MonitorConfig struct {
	// RunID names the run; empty generates a random one.
	RunID             string
	Scape             scape.GenerationScape
	Mutation          Operator
	MutationPolicy    []WeightedMutation
	Selector          Selector
	PopulationSize    int
	EliteCount        int
	Generations       int
	MutationsPerChild int
	// FitnessTarget stops the run once a generation's best reaches it. Zero
	// disables the check.
	FitnessTarget float64
	Seed          int64
	Logger        *slog.Logger
	OnGeneration  func(GenerationResult) error
}

// PopulationMonitor owns a population across generations: it hands
// candidates to the scape, ranks them by the fitness written back, and breeds
// the next generation from the best.
type PopulationMonitor struct {
	cfg MonitorConfig
	rng *rand.Rand
	log *slog.Logger
}

func NewPopulationMonitor(cfg MonitorConfig) (*PopulationMonitor, error) {
	if cfg.Scape == nil {
		return nil, fmt.Errorf("scape is required")
	}
	if cfg.Mutation == nil && len(cfg.MutationPolicy) == 0 {
		return nil, fmt.Errorf("mutation operator or policy is required")
	}
	positivePolicyWeight := false
	for i, item := range cfg.MutationPolicy {
		if item.Operator == nil {
			return nil, fmt.Errorf("mutation policy operator is required at index %d", i)
		}
		if item.Weight < 0 {
			return nil, fmt.Errorf("mutation policy weight must be >= 0 at index %d", i)
		}
		if item.Weight > 0 {
			positivePolicyWeight = true
		}
	}
	if len(cfg.MutationPolicy) > 0 && !positivePolicyWeight {
		return nil, fmt.Errorf("mutation policy requires at least one positive weight")
	}
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	if cfg.EliteCount <= 0 || cfg.EliteCount > cfg.PopulationSize {
		return nil, fmt.Errorf("elite count must be in [1, population size]")
	}
	if cfg.Generations <= 0 {
		return nil, fmt.Errorf("generations must be > 0")
	}
	if cfg.MutationsPerChild <= 0 {
		cfg.MutationsPerChild = 1
	}
	if cfg.Selector == nil {
		cfg.Selector = EliteSelector{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &PopulationMonitor{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
		log: cfg.Logger.With("component", "population_monitor"),
	}, nil
}

// Run evolves initial for up to cfg.Generations generations. When the scape
// reports cancellation the partial result is returned together with an error
// wrapping scape.ErrCancelled.
func (m *PopulationMonitor) Run(ctx context.Context, initial []model.Genome) (RunResult, error) {
	if len(initial) != m.cfg.PopulationSize {
		return RunResult{}, fmt.Errorf("initial population mismatch: got=%d want=%d", len(initial), m.cfg.PopulationSize)
	}

	result := RunResult{
		RunID:                 m.cfg.RunID,
		BestByGeneration:      make([]float64, 0, m.cfg.Generations),
		GenerationDiagnostics: make([]model.GenerationDiagnostics, 0, m.cfg.Generations),
		Lineage:               make([]model.LineageRecord, 0, len(initial)*(m.cfg.Generations+1)),
		ChampionGeneration:    -1,
	}
	if result.RunID == "" {
		result.RunID = uuid.NewString()
	}
	log := m.log.With("run", result.RunID)

	population := make([]model.Genome, len(initial))
	copy(population, initial)
	for _, genome := range population {
		result.Lineage = append(result.Lineage, model.LineageRecord{VersionedRecord: recordVersion, GenomeID: genome.ID, Generation: 0, Operation: "seed"})
	}

	for gen := 0; gen < m.cfg.Generations; gen++ {
		candidates := make([]*scape.Candidate, len(population))
		for i, genome := range population {
			candidates[i] = &scape.Candidate{ID: genome.ID, Genome: genome}
		}

		report, err := m.cfg.Scape.EvaluateGeneration(ctx, candidates)
		if err != nil {
			if errors.Is(err, scape.ErrCancelled) {
				result.Cancelled = true
				log.Info("run cancelled", "generation", gen+1, "best", result.Champion.Fitness)
				return result, fmt.Errorf("run %s: %w", result.RunID, err)
			}
			return result, err
		}

		ranked := make([]ScoredGenome, len(candidates))
		for i, c := range candidates {
			ranked[i] = ScoredGenome{Genome: population[i], Fitness: c.Fitness}
		}
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].Fitness > ranked[j].Fitness
		})

		diagnostics := summarizeGeneration(ranked, gen+1, report)
		result.BestByGeneration = append(result.BestByGeneration, ranked[0].Fitness)
		result.GenerationDiagnostics = append(result.GenerationDiagnostics, diagnostics)
		result.FinalPopulation = ranked
		if result.ChampionGeneration < 0 || ranked[0].Fitness > result.Champion.Fitness {
			result.Champion = ranked[0]
			result.ChampionGeneration = gen + 1
		}
		log.Info("generation ranked",
			"generation", gen+1,
			"best", diagnostics.BestFitness,
			"mean", diagnostics.MeanFitness,
			"std", diagnostics.StdFitness,
			"champion", result.Champion.Fitness,
		)

		if m.cfg.OnGeneration != nil {
			if err := m.cfg.OnGeneration(GenerationResult{
				RunID:       result.RunID,
				Diagnostics: diagnostics,
				Ranked:      ranked,
				Report:      report,
			}); err != nil {
				return result, fmt.Errorf("generation %d hook: %w", gen+1, err)
			}
		}

		if m.cfg.FitnessTarget > 0 && ranked[0].Fitness >= m.cfg.FitnessTarget {
			log.Info("fitness target reached", "generation", gen+1, "best", ranked[0].Fitness)
			break
		}
		if gen == m.cfg.Generations-1 {
			break
		}

		var lineage []model.LineageRecord
		population, lineage, err = m.nextGeneration(ctx, ranked, gen)
		if err != nil {
			return result, err
		}
		result.Lineage = append(result.Lineage, lineage...)
	}

	return result, nil
}

func summarizeGeneration(ranked []ScoredGenome, generation int, report scape.Report) model.GenerationDiagnostics {
	values := make([]float64, len(ranked))
	for i, item := range ranked {
		values[i] = item.Fitness
	}
	summary := stats.Summarize(values)
	return model.GenerationDiagnostics{
		Generation:  generation,
		State:       report.State.String(),
		Ticks:       report.Ticks,
		Evaluated:   report.Evaluated,
		Skipped:     report.Skipped,
		Survivors:   report.Survivors,
		BestFitness: summary.Max,
		MeanFitness: summary.Mean,
		StdFitness:  summary.Std,
		MinFitness:  summary.Min,
	}
}

func (m *PopulationMonitor) nextGeneration(ctx context.Context, ranked []ScoredGenome, generation int) ([]model.Genome, []model.LineageRecord, error) {
	next := make([]model.Genome, 0, m.cfg.PopulationSize)
	lineage := make([]model.LineageRecord, 0, m.cfg.PopulationSize)
	nextGeneration := generation + 1

	for i := 0; i < m.cfg.EliteCount; i++ {
		elite := genotype.CloneGenome(ranked[i].Genome)
		next = append(next, elite)
		lineage = append(lineage, model.LineageRecord{
			VersionedRecord: recordVersion,
			GenomeID:        elite.ID,
			ParentID:        ranked[i].Genome.ID,
			Generation:      nextGeneration,
			Operation:       "elite_clone",
		})
	}

	for len(next) < m.cfg.PopulationSize {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		parent, err := m.cfg.Selector.PickParent(m.rng, ranked, m.cfg.EliteCount)
		if err != nil {
			return nil, nil, err
		}
		child, record, err := m.mutateFromParent(ctx, parent, nextGeneration, len(next))
		if err != nil {
			return nil, nil, err
		}
		next = append(next, child)
		lineage = append(lineage, record)
	}
	return next, lineage, nil
}

func (m *PopulationMonitor) mutateFromParent(ctx context.Context, parent model.Genome, generation, index int) (model.Genome, model.LineageRecord, error) {
	mutated := genotype.CloneAgent(parent, fmt.Sprintf("car-g%d-%d", generation, index))
	operationNames := make([]string, 0, m.cfg.MutationsPerChild)
	for step := 0; step < m.cfg.MutationsPerChild; step++ {
		operator := m.chooseMutation()
		next, opErr := operator.Apply(ctx, mutated)
		operationName := operator.Name()
		if opErr != nil && m.cfg.Mutation != nil && operator != m.cfg.Mutation {
			next, opErr = m.cfg.Mutation.Apply(ctx, mutated)
			operationName = m.cfg.Mutation.Name() + "(fallback)"
		}
		if opErr != nil {
			if errors.Is(opErr, ErrNoSynapses) || errors.Is(opErr, ErrNoNeurons) || errors.Is(opErr, ErrNoMutationChoice) {
				operationNames = append(operationNames, "noop("+operator.Name()+")")
				continue
			}
			return model.Genome{}, model.LineageRecord{}, opErr
		}
		next.ID = mutated.ID
		next.ParentID = mutated.ParentID
		mutated = next
		operationNames = append(operationNames, operationName)
	}

	return mutated, model.LineageRecord{
		VersionedRecord: recordVersion,
		GenomeID:        mutated.ID,
		ParentID:        parent.ID,
		Generation:      generation,
		Operation:       strings.Join(operationNames, "+"),
	}, nil
}

func (m *PopulationMonitor) chooseMutation() Operator {
	if len(m.cfg.MutationPolicy) == 0 {
		return m.cfg.Mutation
	}

	total := 0.0
	for _, item := range m.cfg.MutationPolicy {
		total += item.Weight
	}
	if total <= 0 {
		return m.cfg.Mutation
	}
	pick := m.rng.Float64() * total
	acc := 0.0
	for _, item := range m.cfg.MutationPolicy {
		acc += item.Weight
		if pick <= acc {
			return item.Operator
		}
	}
	return m.cfg.MutationPolicy[len(m.cfg.MutationPolicy)-1].Operator
}
