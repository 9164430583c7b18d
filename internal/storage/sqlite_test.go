package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"carsim/internal/model"
)

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "carsim.db"))
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestSQLiteStoreGenomeAndPopulationRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)

	genome := model.Genome{
		VersionedRecord: Versioned(),
		ID:              "car-g0-0",
		Neurons: []model.Neuron{
			{ID: "in:0", Activation: "identity"},
			{ID: "out:0", Activation: "tanh", Bias: 0.5},
		},
		Synapses: []model.Synapse{
			{ID: "out:0<in:0", From: "in:0", To: "out:0", Weight: 1.25, Enabled: true},
		},
	}
	if err := store.SaveGenome(ctx, genome); err != nil {
		t.Fatalf("save genome: %v", err)
	}
	genome.Synapses[0].Weight = 2
	if err := store.SaveGenome(ctx, genome); err != nil {
		t.Fatalf("upsert genome: %v", err)
	}

	loadedGenome, ok, err := store.GetGenome(ctx, genome.ID)
	if err != nil {
		t.Fatalf("get genome: %v", err)
	}
	if !ok {
		t.Fatalf("expected genome %s", genome.ID)
	}
	if loadedGenome.Synapses[0].Weight != 2 || len(loadedGenome.Neurons) != 2 {
		t.Fatalf("unexpected genome loaded: %+v", loadedGenome)
	}

	population := model.Population{
		VersionedRecord: Versioned(),
		ID:              "p1",
		GenomeIDs:       []string{"car-g0-0", "car-g0-1"},
		Generation:      3,
	}
	if err := store.SavePopulation(ctx, population); err != nil {
		t.Fatalf("save population: %v", err)
	}
	loadedPopulation, ok, err := store.GetPopulation(ctx, population.ID)
	if err != nil || !ok {
		t.Fatalf("get population: ok=%t err=%v", ok, err)
	}
	if loadedPopulation.Generation != 3 || len(loadedPopulation.GenomeIDs) != 2 {
		t.Fatalf("unexpected population: %+v", loadedPopulation)
	}

	if _, ok, err := store.GetGenome(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing genome, ok=%t err=%v", ok, err)
	}
}

func TestSQLiteStoreRunSeries(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)

	for _, run := range []model.RunRecord{
		{VersionedRecord: Versioned(), ID: "old", StartedAt: "2026-01-01T00:00:00Z", BestFitness: 3},
		{VersionedRecord: Versioned(), ID: "new", StartedAt: "2026-05-01T00:00:00Z", BestFitness: 9},
	} {
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run: %v", err)
		}
	}
	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "new" {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	if err := store.SaveFitnessHistory(ctx, "new", []float64{1, 4, 9}); err != nil {
		t.Fatalf("save history: %v", err)
	}
	history, ok, err := store.GetFitnessHistory(ctx, "new")
	if err != nil || !ok || len(history) != 3 || history[2] != 9 {
		t.Fatalf("unexpected history: %v ok=%t err=%v", history, ok, err)
	}

	diagnostics := []model.GenerationDiagnostics{{Generation: 1, State: "all_dead", Ticks: 312, BestFitness: 9}}
	if err := store.SaveGenerationDiagnostics(ctx, "new", diagnostics); err != nil {
		t.Fatalf("save diagnostics: %v", err)
	}
	loadedDiagnostics, ok, err := store.GetGenerationDiagnostics(ctx, "new")
	if err != nil || !ok || len(loadedDiagnostics) != 1 || loadedDiagnostics[0] != diagnostics[0] {
		t.Fatalf("unexpected diagnostics: %+v ok=%t err=%v", loadedDiagnostics, ok, err)
	}

	top := []model.TopGenomeRecord{{
		VersionedRecord: Versioned(),
		Rank:            1,
		Generation:      1,
		Fitness:         9,
		Genome:          model.Genome{VersionedRecord: Versioned(), ID: "car-g0-3"},
	}}
	if err := store.SaveTopGenomes(ctx, "new", top); err != nil {
		t.Fatalf("save top genomes: %v", err)
	}
	loadedTop, ok, err := store.GetTopGenomes(ctx, "new")
	if err != nil || !ok || len(loadedTop) != 1 || loadedTop[0].Genome.ID != "car-g0-3" {
		t.Fatalf("unexpected top genomes: %+v ok=%t err=%v", loadedTop, ok, err)
	}

	lineage := []model.LineageRecord{{VersionedRecord: Versioned(), GenomeID: "car-g1-1", ParentID: "car-g0-3", Generation: 1, Operation: "perturb_random_weight"}}
	if err := store.SaveLineage(ctx, "new", lineage); err != nil {
		t.Fatalf("save lineage: %v", err)
	}
	loadedLineage, ok, err := store.GetLineage(ctx, "new")
	if err != nil || !ok || len(loadedLineage) != 1 || loadedLineage[0] != lineage[0] {
		t.Fatalf("unexpected lineage: %+v ok=%t err=%v", loadedLineage, ok, err)
	}
}

func TestSQLiteStoreRejectsUseBeforeInit(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "carsim.db"))
	if err := store.SaveRun(context.Background(), model.RunRecord{ID: "r"}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if err := NewSQLiteStore("").Init(context.Background()); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "carsim.db")

	first := NewSQLiteStore(path)
	if err := first.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := first.SaveRun(ctx, model.RunRecord{VersionedRecord: Versioned(), ID: "r1", StartedAt: "2026-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := NewSQLiteStore(path)
	if err := second.Init(ctx); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })
	run, ok, err := second.GetRun(ctx, "r1")
	if err != nil || !ok || run.ID != "r1" {
		t.Fatalf("unexpected run after reopen: %+v ok=%t err=%v", run, ok, err)
	}
}
