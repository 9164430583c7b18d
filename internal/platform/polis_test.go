package platform

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"carsim/internal/evo"
	"carsim/internal/genotype"
	"carsim/internal/model"
	"carsim/internal/scape"
	"carsim/internal/storage"
)

type sumScape struct {
	calls    int
	cancelAt int
}

func (*sumScape) Name() string { return "sum" }

func (*sumScape) Shape() scape.NetworkShape {
	return scape.NetworkShape{Sensors: 1, Actions: 1}
}

func (s *sumScape) EvaluateGeneration(_ context.Context, candidates []*scape.Candidate) (scape.Report, error) {
	s.calls++
	if s.cancelAt > 0 && s.calls == s.cancelAt {
		return scape.Report{Generation: s.calls, State: scape.StateCancelled}, fmt.Errorf("generation %d: %w", s.calls, scape.ErrCancelled)
	}
	for _, c := range candidates {
		sum := 0.0
		for _, syn := range c.Genome.Synapses {
			sum += syn.Weight
		}
		c.Fitness = sum
	}
	return scape.Report{Generation: s.calls, State: scape.StateAllDead, Evaluated: len(candidates)}, nil
}

func linearGenome(id string, weight float64) model.Genome {
	return model.Genome{
		VersionedRecord: storage.Versioned(),
		ID:              id,
		Neurons: []model.Neuron{
			{ID: "in:0", Activation: "identity"},
			{ID: "out:0", Activation: "tanh"},
		},
		Synapses: []model.Synapse{
			{ID: "out:0<in:0", From: "in:0", To: "out:0", Weight: weight, Enabled: true},
		},
	}
}

func initialPopulation() []model.Genome {
	return []model.Genome{
		linearGenome("car-g0-0", 0),
		linearGenome("car-g0-1", 0.1),
		linearGenome("car-g0-2", 0.2),
		linearGenome("car-g0-3", 0.3),
	}
}

func newStartedPolis(t *testing.T, sc scape.GenerationScape) (*Polis, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	p := NewPolis(Config{Store: store})
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := p.RegisterScape(sc); err != nil {
		t.Fatalf("register scape: %v", err)
	}
	return p, store
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestPolisLifecycle(t *testing.T) {
	if err := NewPolis(Config{}).Init(context.Background()); err == nil {
		t.Fatal("expected store required error")
	}

	p := NewPolis(Config{Store: storage.NewMemoryStore()})
	if err := p.RegisterScape(&sumScape{}); err == nil {
		t.Fatal("expected register before init to fail")
	}
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := p.RegisterScape(nil); err == nil {
		t.Fatal("expected nil scape error")
	}
	if err := p.RegisterScape(&sumScape{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if names := p.RegisteredScapes(); len(names) != 1 || names[0] != "sum" {
		t.Fatalf("unexpected scapes: %v", names)
	}

	p.Stop()
	if p.Started() {
		t.Fatal("expected polis stopped")
	}
	if _, ok := p.GetScape("sum"); ok {
		t.Fatal("expected scapes cleared on stop")
	}
}

func TestRunEvolutionPersistsRun(t *testing.T) {
	p, store := newStartedPolis(t, &sumScape{})
	ctx := context.Background()

	hooks := 0
	result, err := p.RunEvolution(ctx, EvolutionConfig{
		RunID:          "run-1",
		ScapeName:      "sum",
		PopulationSize: 4,
		Generations:    3,
		EliteCount:     1,
		Seed:           7,
		Mutation:       evo.PerturbWeightAt{Index: 0, Delta: 0.5},
		Initial:        initialPopulation(),
		OnGeneration: func(evo.GenerationResult) error {
			hooks++
			return nil
		},
	})
	if err != nil {
		t.Fatalf("run evolution: %v", err)
	}
	if hooks != 3 {
		t.Fatalf("expected 3 hook calls, got %d", hooks)
	}
	want := []float64{0.3, 0.8, 1.3}
	if len(result.BestByGeneration) != len(want) {
		t.Fatalf("unexpected history: %v", result.BestByGeneration)
	}
	for i := range want {
		if !near(result.BestByGeneration[i], want[i]) {
			t.Fatalf("generation %d best: got=%f want=%f", i+1, result.BestByGeneration[i], want[i])
		}
	}
	if result.ChampionGeneration != 3 || !near(result.Champion.Fitness, 1.3) {
		t.Fatalf("unexpected champion: gen=%d fitness=%f", result.ChampionGeneration, result.Champion.Fitness)
	}
	if len(result.TopFinal) != 4 || !near(result.BestFinalFitness, 1.3) {
		t.Fatalf("unexpected top final: %d best=%f", len(result.TopFinal), result.BestFinalFitness)
	}

	history, ok, err := store.GetFitnessHistory(ctx, "run-1")
	if err != nil || !ok || len(history) != 3 {
		t.Fatalf("fitness history: ok=%t err=%v len=%d", ok, err, len(history))
	}
	diagnostics, ok, err := store.GetGenerationDiagnostics(ctx, "run-1")
	if err != nil || !ok || len(diagnostics) != 3 || diagnostics[2].Generation != 3 {
		t.Fatalf("diagnostics: ok=%t err=%v %+v", ok, err, diagnostics)
	}
	top, ok, err := store.GetTopGenomes(ctx, "run-1")
	if err != nil || !ok || len(top) != 4 || top[0].Rank != 1 || !near(top[0].Fitness, 1.3) {
		t.Fatalf("top genomes: ok=%t err=%v %+v", ok, err, top)
	}
	lineage, ok, err := store.GetLineage(ctx, "run-1")
	if err != nil || !ok || len(lineage) != len(result.Lineage) {
		t.Fatalf("lineage: ok=%t err=%v len=%d", ok, err, len(lineage))
	}
	run, ok, err := store.GetRun(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("run record: ok=%t err=%v", ok, err)
	}
	if run.Generations != 3 || run.Cancelled || run.StartedAt == "" || !near(run.BestFitness, 1.3) {
		t.Fatalf("unexpected run record: %+v", run)
	}

	pop, genomes, err := genotype.LoadPopulationSnapshot(ctx, store, "run-1")
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if pop.Generation != 3 || len(genomes) != 4 {
		t.Fatalf("unexpected snapshot: %+v (%d genomes)", pop, len(genomes))
	}
	if len(p.ActiveRuns()) != 0 {
		t.Fatalf("expected no active runs, got %v", p.ActiveRuns())
	}
}

func TestRunEvolutionPersistsCancelledRun(t *testing.T) {
	p, store := newStartedPolis(t, &sumScape{cancelAt: 2})
	ctx := context.Background()

	result, err := p.RunEvolution(ctx, EvolutionConfig{
		RunID:          "run-c",
		ScapeName:      "sum",
		PopulationSize: 4,
		Generations:    5,
		EliteCount:     2,
		Mutation:       evo.PerturbWeightAt{Index: 0, Delta: 0.5},
		Initial:        initialPopulation(),
	})
	if !errors.Is(err, scape.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if !result.Cancelled || len(result.BestByGeneration) != 1 {
		t.Fatalf("unexpected cancelled result: %+v", result)
	}

	run, ok, err := store.GetRun(ctx, "run-c")
	if err != nil || !ok {
		t.Fatalf("run record: ok=%t err=%v", ok, err)
	}
	if !run.Cancelled || run.Generations != 1 {
		t.Fatalf("unexpected run record: %+v", run)
	}
}

func TestRunEvolutionValidation(t *testing.T) {
	p, _ := newStartedPolis(t, &sumScape{})
	ctx := context.Background()
	base := EvolutionConfig{
		ScapeName:      "sum",
		PopulationSize: 4,
		Generations:    1,
		EliteCount:     1,
		Mutation:       evo.PerturbWeightAt{Index: 0, Delta: 0.1},
		Initial:        initialPopulation(),
	}

	cases := []struct {
		name   string
		mutate func(*EvolutionConfig)
	}{
		{name: "missing scape name", mutate: func(c *EvolutionConfig) { c.ScapeName = "" }},
		{name: "unknown scape", mutate: func(c *EvolutionConfig) { c.ScapeName = "missing" }},
		{name: "population mismatch", mutate: func(c *EvolutionConfig) { c.Initial = c.Initial[:2] }},
		{name: "no mutation", mutate: func(c *EvolutionConfig) { c.Mutation = nil }},
		{name: "elite too large", mutate: func(c *EvolutionConfig) { c.EliteCount = 9 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			cfg.Initial = initialPopulation()
			tc.mutate(&cfg)
			if _, err := p.RunEvolution(ctx, cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRunEvolutionRejectsDuplicateActiveRun(t *testing.T) {
	p, _ := newStartedPolis(t, &sumScape{})
	if err := p.registerRun("busy"); err != nil {
		t.Fatalf("register run: %v", err)
	}
	_, err := p.RunEvolution(context.Background(), EvolutionConfig{
		RunID:          "busy",
		ScapeName:      "sum",
		PopulationSize: 4,
		Generations:    1,
		EliteCount:     1,
		Mutation:       evo.PerturbWeightAt{Index: 0, Delta: 0.1},
		Initial:        initialPopulation(),
	})
	if err == nil {
		t.Fatal("expected duplicate run error")
	}
	p.unregisterRun("busy")
	if len(p.ActiveRuns()) != 0 {
		t.Fatalf("expected no active runs, got %v", p.ActiveRuns())
	}
}
