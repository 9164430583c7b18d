// Package platform hosts registered scapes and runs persisted evolution
// sessions against them.
package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"carsim/internal/evo"
	"carsim/internal/genotype"
	"carsim/internal/model"
	"carsim/internal/scape"
	"carsim/internal/storage"
)

// TopCount is how many final genomes are kept per run.
const TopCount = 5

type Config struct {
	Store  storage.Store
	Logger *slog.Logger
}

type EvolutionConfig struct {
	RunID             string
	ScapeName         string
	PopulationSize    int
	Generations       int
	EliteCount        int
	MutationsPerChild int
	Seed              int64
	FitnessTarget     float64
	Mutation          evo.Operator
	MutationPolicy    []evo.WeightedMutation
	Selector          evo.Selector
	Initial           []model.Genome
	OnGeneration      func(evo.GenerationResult) error
}

type EvolutionResult struct {
	RunID                 string
	StartedAt             time.Time
	BestByGeneration      []float64
	GenerationDiagnostics []model.GenerationDiagnostics
	BestFinalFitness      float64
	Champion              evo.ScoredGenome
	ChampionGeneration    int
	TopFinal              []evo.ScoredGenome
	Lineage               []model.LineageRecord
	Cancelled             bool
}

type Polis struct {
	store storage.Store
	log   *slog.Logger

	mu      sync.RWMutex
	scapes  map[string]scape.GenerationScape
	runs    map[string]struct{}
	started bool
}

func NewPolis(cfg Config) *Polis {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Polis{
		store:  cfg.Store,
		log:    logger.With("component", "polis"),
		scapes: make(map[string]scape.GenerationScape),
		runs:   make(map[string]struct{}),
	}
}

func (p *Polis) Init(ctx context.Context) error {
	if p.store == nil {
		return fmt.Errorf("store is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if err := p.store.Init(ctx); err != nil {
		return err
	}
	p.started = true
	return nil
}

func (p *Polis) Started() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}

// Stop forgets every registered scape. Runs already in flight finish on the
// scape they captured.
func (p *Polis) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = false
	p.scapes = make(map[string]scape.GenerationScape)
}

func (p *Polis) Store() storage.Store { return p.store }

func (p *Polis) RegisterScape(s scape.GenerationScape) error {
	if s == nil {
		return fmt.Errorf("scape is nil")
	}
	name := s.Name()
	if name == "" {
		return fmt.Errorf("scape name is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return fmt.Errorf("polis is not initialized")
	}
	p.scapes[name] = s
	return nil
}

func (p *Polis) GetScape(name string) (scape.GenerationScape, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.scapes[name]
	return s, ok
}

func (p *Polis) RegisteredScapes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.scapes))
	for name := range p.scapes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunEvolution evolves cfg.Initial on the named scape and persists the
// outcome. A cancelled run is still persisted up to its last completed
// generation; the cancellation error is returned alongside the result.
func (p *Polis) RunEvolution(ctx context.Context, cfg EvolutionConfig) (EvolutionResult, error) {
	if cfg.ScapeName == "" {
		return EvolutionResult{}, fmt.Errorf("scape name is required")
	}
	if len(cfg.Initial) != cfg.PopulationSize {
		return EvolutionResult{}, fmt.Errorf("initial population mismatch: got=%d want=%d", len(cfg.Initial), cfg.PopulationSize)
	}

	p.mu.RLock()
	target, ok := p.scapes[cfg.ScapeName]
	started := p.started
	p.mu.RUnlock()
	if !started {
		return EvolutionResult{}, fmt.Errorf("polis is not initialized")
	}
	if !ok {
		return EvolutionResult{}, fmt.Errorf("scape not registered: %s", cfg.ScapeName)
	}

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	if err := p.registerRun(runID); err != nil {
		return EvolutionResult{}, err
	}
	defer p.unregisterRun(runID)

	monitor, err := evo.NewPopulationMonitor(evo.MonitorConfig{
		RunID:             runID,
		Scape:             target,
		Mutation:          cfg.Mutation,
		MutationPolicy:    cfg.MutationPolicy,
		Selector:          cfg.Selector,
		PopulationSize:    cfg.PopulationSize,
		EliteCount:        cfg.EliteCount,
		Generations:       cfg.Generations,
		MutationsPerChild: cfg.MutationsPerChild,
		FitnessTarget:     cfg.FitnessTarget,
		Seed:              cfg.Seed,
		Logger:            p.log,
		OnGeneration:      cfg.OnGeneration,
	})
	if err != nil {
		return EvolutionResult{}, err
	}

	startedAt := time.Now().UTC()
	result, runErr := monitor.Run(ctx, cfg.Initial)
	if runErr != nil && !result.Cancelled {
		return EvolutionResult{}, runErr
	}

	out := EvolutionResult{
		RunID:                 runID,
		StartedAt:             startedAt,
		BestByGeneration:      result.BestByGeneration,
		GenerationDiagnostics: result.GenerationDiagnostics,
		Champion:              result.Champion,
		ChampionGeneration:    result.ChampionGeneration,
		TopFinal:              topScored(result.FinalPopulation, TopCount),
		Lineage:               result.Lineage,
		Cancelled:             result.Cancelled,
	}
	if len(out.TopFinal) > 0 {
		out.BestFinalFitness = out.TopFinal[0].Fitness
	}

	// Persist with a fresh context so a cancelled run still lands in the store.
	if err := p.persist(context.WithoutCancel(ctx), out, result.FinalPopulation); err != nil {
		return out, errors.Join(runErr, err)
	}
	p.log.Info("run persisted",
		"run", runID,
		"generations", len(out.BestByGeneration),
		"champion", out.Champion.Fitness,
		"cancelled", out.Cancelled,
	)
	return out, runErr
}

func (p *Polis) persist(ctx context.Context, out EvolutionResult, final []evo.ScoredGenome) error {
	genomes := make([]model.Genome, 0, len(final))
	for _, scored := range final {
		genomes = append(genomes, scored.Genome)
	}
	generations := len(out.BestByGeneration)
	if err := genotype.SavePopulationSnapshot(ctx, p.store, out.RunID, generations, genomes); err != nil {
		return fmt.Errorf("save population: %w", err)
	}
	if err := p.store.SaveFitnessHistory(ctx, out.RunID, out.BestByGeneration); err != nil {
		return fmt.Errorf("save fitness history: %w", err)
	}
	if err := p.store.SaveGenerationDiagnostics(ctx, out.RunID, out.GenerationDiagnostics); err != nil {
		return fmt.Errorf("save diagnostics: %w", err)
	}
	if err := p.store.SaveLineage(ctx, out.RunID, out.Lineage); err != nil {
		return fmt.Errorf("save lineage: %w", err)
	}
	if err := p.store.SaveTopGenomes(ctx, out.RunID, toTopRecords(out.TopFinal, generations)); err != nil {
		return fmt.Errorf("save top genomes: %w", err)
	}
	return p.store.SaveRun(ctx, model.RunRecord{
		VersionedRecord: storage.Versioned(),
		ID:              out.RunID,
		PopulationID:    out.RunID,
		StartedAt:       out.StartedAt.Format(time.RFC3339Nano),
		Generations:     generations,
		BestFitness:     out.Champion.Fitness,
		Cancelled:       out.Cancelled,
	})
}

func (p *Polis) registerRun(runID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.runs[runID]; exists {
		return fmt.Errorf("run already active: %s", runID)
	}
	p.runs[runID] = struct{}{}
	return nil
}

func (p *Polis) unregisterRun(runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.runs, runID)
}

// ActiveRuns lists the ids of runs currently evolving.
func (p *Polis) ActiveRuns() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.runs))
	for id := range p.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func topScored(ranked []evo.ScoredGenome, n int) []evo.ScoredGenome {
	if len(ranked) < n {
		n = len(ranked)
	}
	top := append([]evo.ScoredGenome(nil), ranked[:n]...)
	sort.SliceStable(top, func(i, j int) bool {
		return top[i].Fitness > top[j].Fitness
	})
	return top
}

func toTopRecords(top []evo.ScoredGenome, generation int) []model.TopGenomeRecord {
	out := make([]model.TopGenomeRecord, 0, len(top))
	for i, item := range top {
		out = append(out, model.TopGenomeRecord{
			VersionedRecord: storage.Versioned(),
			Rank:            i + 1,
			Generation:      generation,
			Fitness:         item.Fitness,
			Genome:          item.Genome,
		})
	}
	return out
}
