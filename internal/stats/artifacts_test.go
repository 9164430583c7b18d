package stats

import (
	"os"
	"path/filepath"
	"testing"

	"carsim/internal/model"
)

func sampleDiagnostics() []model.GenerationDiagnostics {
	return []model.GenerationDiagnostics{
		{Generation: 1, State: "all_dead", Ticks: 240, Evaluated: 4, BestFitness: 12.5, MeanFitness: 3.1, StdFitness: 1.2},
		{Generation: 2, State: "timed_out", Ticks: 4200, Evaluated: 4, Survivors: 1, BestFitness: 80.25, MeanFitness: 20, StdFitness: 9},
	}
}

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	runID := "run-123"
	artifacts := RunArtifacts{
		Config: RunConfig{
			RunID:          runID,
			Track:          "map.png",
			PopulationSize: 4,
			Generations:    2,
			Seed:           1,
			EliteCount:     1,
		},
		BestByGeneration:      []float64{12.5, 80.25},
		GenerationDiagnostics: sampleDiagnostics(),
		FinalBestFitness:      80.25,
		TopGenomes: []TopGenome{{
			Rank:       1,
			Generation: 2,
			Fitness:    80.25,
			Genome:     model.Genome{ID: "g1"},
		}},
		Lineage: []LineageEntry{{GenomeID: "g1", Generation: 0, Operation: "seed"}},
	}

	runDir, err := WriteRunArtifacts(baseDir, artifacts)
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	for _, file := range runFiles {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}

	exportedDir, err := ExportRunArtifacts(baseDir, runID, outDir)
	if err != nil {
		t.Fatalf("export artifacts: %v", err)
	}
	for _, file := range runFiles {
		if _, err := os.Stat(filepath.Join(exportedDir, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}

	cfg, ok, err := ReadRunConfig(baseDir, runID)
	if err != nil || !ok || cfg.Track != "map.png" {
		t.Fatalf("read config: ok=%v err=%v cfg=%+v", ok, err, cfg)
	}
	top, ok, err := ReadTopGenomes(baseDir, runID)
	if err != nil || !ok || len(top) != 1 || top[0].Genome.ID != "g1" {
		t.Fatalf("read top genomes: ok=%v err=%v top=%+v", ok, err, top)
	}
	diagnostics, ok, err := ReadGenerationDiagnostics(baseDir, runID)
	if err != nil || !ok || len(diagnostics) != 2 || diagnostics[1].State != "timed_out" {
		t.Fatalf("read diagnostics: ok=%v err=%v diagnostics=%+v", ok, err, diagnostics)
	}
	series, ok, err := ReadFitnessSeries(baseDir, runID)
	if err != nil || !ok || len(series) != 2 || series[1] != 80.25 {
		t.Fatalf("read series: ok=%v err=%v series=%v", ok, err, series)
	}

	if _, ok, err := ReadRunConfig(baseDir, "missing"); ok || err != nil {
		t.Fatalf("missing run config: ok=%v err=%v", ok, err)
	}
	if _, err := WriteRunArtifacts(baseDir, RunArtifacts{}); err == nil {
		t.Fatal("expected error for missing run id")
	}
}

func TestRunIndexNewestFirstAndUpsert(t *testing.T) {
	baseDir := t.TempDir()
	entries := []RunIndexEntry{
		{RunID: "a", CreatedAtUTC: "2026-01-01T00:00:00Z", FinalBestFitness: 1},
		{RunID: "b", CreatedAtUTC: "2026-01-02T00:00:00Z", FinalBestFitness: 2},
		{RunID: "a", CreatedAtUTC: "2026-01-01T00:00:00Z", FinalBestFitness: 5},
	}
	for _, entry := range entries {
		if err := AppendRunIndex(baseDir, entry); err != nil {
			t.Fatalf("append %s: %v", entry.RunID, err)
		}
	}
	index, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(index) != 2 || index[0].RunID != "b" || index[1].FinalBestFitness != 5 {
		t.Fatalf("unexpected index: %+v", index)
	}

	empty, err := ListRunIndex(t.TempDir())
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty index: %v %+v", err, empty)
	}
}

func TestWriteFitnessPlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plots", "fitness.png")
	if err := WriteFitnessPlot(path, "run-123", sampleDiagnostics()); err != nil {
		t.Fatalf("write plot: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat plot: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("plot file is empty")
	}
	if err := WriteFitnessPlot(path, "empty", nil); err == nil {
		t.Fatal("expected error for empty diagnostics")
	}
}
