package carsim

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"testing"

	"carsim/internal/config"
	"carsim/internal/evo"
	"carsim/internal/scape"
	"carsim/internal/track"
)

func testSettings(t *testing.T) config.Settings {
	t.Helper()
	s := config.Default()
	s.Track.Width, s.Track.Height = 400, 64
	s.Track.ReferenceWidth, s.Track.ReferenceHeight = 0, 0
	s.Car.StartX, s.Car.StartY = 10, 16
	s.Generation.TickRate = 0
	s.Generation.MaxTicks = 20
	s.Evolution.PopulationSize = 4
	s.Evolution.EliteCount = 1
	s.Evolution.Generations = 2
	s.Evolution.Hidden = 2
	s.Artifacts.Dir = filepath.Join(t.TempDir(), "benchmarks")
	return s
}

func newTestClient(t *testing.T, settings config.Settings) *Client {
	t.Helper()
	c, err := New(Options{
		Settings:   settings,
		Track:      track.Filled(settings.Track.Width, settings.Track.Height, track.RoadColor),
		Sprite:     image.NewRGBA(image.Rect(0, 0, 8, 8)),
		ExportsDir: filepath.Join(t.TempDir(), "exports"),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return c
}

func mustExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected %s: %v", path, err)
	}
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	s := config.Default()
	s.Evolution.PopulationSize = 0
	if _, err := New(Options{Settings: s}); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected invalid settings, got %v", err)
	}
}

func TestClientRunPersistsAndQueries(t *testing.T) {
	settings := testSettings(t)
	settings.Artifacts.Snapshots = true
	c := newTestClient(t, settings)
	ctx := context.Background()

	var generations []evo.GenerationResult
	summary, err := c.Run(ctx, RunRequest{
		RunID:        "run-a",
		OnGeneration: func(g evo.GenerationResult) { generations = append(generations, g) },
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.RunID != "run-a" || len(summary.BestByGeneration) != 2 || summary.Cancelled {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(generations) != 2 {
		t.Fatalf("expected 2 generation callbacks, got %d", len(generations))
	}

	for _, name := range []string{"config.json", "fitness_series.csv", "top_genomes.json", "lineage.json", "fitness.png"} {
		mustExist(t, filepath.Join(summary.ArtifactsDir, name))
	}
	for _, g := range generations {
		if g.Report.Best != nil {
			mustExist(t, filepath.Join(summary.ArtifactsDir, "snapshots", fmt.Sprintf("gen-%04d.png", g.Report.Generation)))
		}
	}

	history, err := c.FitnessHistory(ctx, QueryRequest{RunID: "run-a"})
	if err != nil || len(history) != 2 {
		t.Fatalf("fitness history: %v %v", history, err)
	}
	diagnostics, err := c.Diagnostics(ctx, QueryRequest{Latest: true})
	if err != nil || len(diagnostics) != 2 || diagnostics[0].Evaluated != 4 {
		t.Fatalf("diagnostics: %+v %v", diagnostics, err)
	}
	top, err := c.TopGenomes(ctx, QueryRequest{RunID: "run-a", Limit: 2})
	if err != nil || len(top) != 2 || top[0].Rank != 1 {
		t.Fatalf("top genomes: %+v %v", top, err)
	}
	lineage, err := c.Lineage(ctx, QueryRequest{RunID: "run-a"})
	if err != nil || len(lineage) == 0 || lineage[0].Operation != "seed" {
		t.Fatalf("lineage: %+v %v", lineage, err)
	}

	runs, err := c.Runs(ctx, RunsRequest{})
	if err != nil || len(runs) != 1 || runs[0].RunID != "run-a" || runs[0].Population != 4 {
		t.Fatalf("runs: %+v %v", runs, err)
	}
	stored, err := c.Runs(ctx, RunsRequest{Stored: true})
	if err != nil || len(stored) != 1 || stored[0].Generations != 2 {
		t.Fatalf("stored runs: %+v %v", stored, err)
	}

	exported, err := c.Export(ctx, ExportRequest{Latest: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	mustExist(t, filepath.Join(exported.Directory, "config.json"))

	plotPath := filepath.Join(t.TempDir(), "curve.png")
	written, err := c.Plot(ctx, PlotRequest{RunID: "run-a", Out: plotPath})
	if err != nil || written != plotPath {
		t.Fatalf("plot: %s %v", written, err)
	}
	mustExist(t, plotPath)

	best, ok := c.Best()
	if !ok || best.RunID != "run-a" || best.Fitness != summary.ChampionFitness {
		t.Fatalf("unexpected champion: %+v ok=%t", best, ok)
	}
}

func TestClientQueriesFallBackToArtifacts(t *testing.T) {
	settings := testSettings(t)
	first := newTestClient(t, settings)
	ctx := context.Background()
	summary, err := first.Run(ctx, RunRequest{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// A fresh memory store knows nothing about the earlier run.
	second := newTestClient(t, settings)
	history, err := second.FitnessHistory(ctx, QueryRequest{Latest: true})
	if err != nil || len(history) != len(summary.BestByGeneration) {
		t.Fatalf("fitness history: %v %v", history, err)
	}
	if history[len(history)-1] != summary.BestByGeneration[len(summary.BestByGeneration)-1] {
		t.Fatalf("history mismatch: %v vs %v", history, summary.BestByGeneration)
	}
	top, err := second.TopGenomes(ctx, QueryRequest{RunID: summary.RunID})
	if err != nil || len(top) != 4 {
		t.Fatalf("top genomes: %d %v", len(top), err)
	}
	lineage, err := second.Lineage(ctx, QueryRequest{RunID: summary.RunID})
	if err != nil || len(lineage) == 0 {
		t.Fatalf("lineage: %d %v", len(lineage), err)
	}
	if _, err := second.Diagnostics(ctx, QueryRequest{RunID: "missing"}); err == nil {
		t.Fatal("expected missing run error")
	}
}

func TestClientRunFailsOnUnreadableSprite(t *testing.T) {
	settings := testSettings(t)
	settings.Track.Sprite = filepath.Join(t.TempDir(), "missing.png")
	c, err := New(Options{
		Settings: settings,
		Track:    track.Filled(settings.Track.Width, settings.Track.Height, track.RoadColor),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if _, err := c.Run(context.Background(), RunRequest{RunID: "no-sprite"}); err == nil {
		t.Fatal("expected run to fail on a missing sprite")
	}
	runs, err := c.Runs(context.Background(), RunsRequest{})
	if err != nil || len(runs) != 0 {
		t.Fatalf("failed run must not be indexed: %+v %v", runs, err)
	}
}

func TestClientQuitCancelsRun(t *testing.T) {
	c := newTestClient(t, testSettings(t))
	ctx := context.Background()
	if err := c.Quit(); err != nil {
		t.Fatalf("quit: %v", err)
	}

	summary, err := c.Run(ctx, RunRequest{RunID: "quit"})
	if !errors.Is(err, scape.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if !summary.Cancelled || len(summary.BestByGeneration) != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	runs, err := c.Runs(ctx, RunsRequest{})
	if err != nil || len(runs) != 1 || !runs[0].Cancelled {
		t.Fatalf("runs: %+v %v", runs, err)
	}
	if _, ok := c.Best(); ok {
		t.Fatal("cancelled empty run must not set a champion")
	}
}

func TestClientContinueFromPopulation(t *testing.T) {
	c := newTestClient(t, testSettings(t))
	ctx := context.Background()
	if _, err := c.Run(ctx, RunRequest{RunID: "base"}); err != nil {
		t.Fatalf("base run: %v", err)
	}
	summary, err := c.Run(ctx, RunRequest{RunID: "next", ContinueFrom: "base"})
	if err != nil {
		t.Fatalf("continued run: %v", err)
	}
	if len(summary.BestByGeneration) != 2 {
		t.Fatalf("unexpected continued summary: %+v", summary)
	}
	if _, err := c.Run(ctx, RunRequest{ContinueFrom: "missing"}); err == nil {
		t.Fatal("expected missing population error")
	}
}

func TestClientSQLiteStore(t *testing.T) {
	settings := testSettings(t)
	settings.Store.Kind = "sqlite"
	settings.Store.Path = filepath.Join(t.TempDir(), "carsim.db")
	settings.Evolution.Generations = 1
	c := newTestClient(t, settings)
	ctx := context.Background()

	summary, err := c.Run(ctx, RunRequest{RunID: "sql"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	stored, err := c.Runs(ctx, RunsRequest{Stored: true})
	if err != nil || len(stored) != 1 || stored[0].RunID != summary.RunID {
		t.Fatalf("stored runs: %+v %v", stored, err)
	}
}

func TestRunIDResolution(t *testing.T) {
	c := newTestClient(t, testSettings(t))
	ctx := context.Background()
	if _, err := c.FitnessHistory(ctx, QueryRequest{RunID: "a", Latest: true}); err == nil {
		t.Fatal("expected run id + latest conflict")
	}
	if _, err := c.Diagnostics(ctx, QueryRequest{}); err == nil {
		t.Fatal("expected missing run id error")
	}
	if _, err := c.TopGenomes(ctx, QueryRequest{Latest: true}); err == nil {
		t.Fatal("expected no runs error")
	}
	if _, err := c.Export(ctx, ExportRequest{}); err == nil {
		t.Fatal("expected export without run id to fail")
	}
	if _, err := c.Lineage(ctx, QueryRequest{RunID: "a", Limit: -1}); err == nil {
		t.Fatal("expected negative limit error")
	}
}
