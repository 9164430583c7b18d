// Package carsim is the embedding API behind carsimctl: it wires the track,
// the race scape, the population monitor, persistence and run artifacts
// into one Client.
package carsim

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"carsim/internal/agent"
	"carsim/internal/assets"
	"carsim/internal/config"
	"carsim/internal/evo"
	"carsim/internal/genotype"
	"carsim/internal/model"
	"carsim/internal/platform"
	"carsim/internal/scape"
	"carsim/internal/stats"
	"carsim/internal/storage"
	"carsim/internal/telemetry"
	"carsim/internal/track"
)

const (
	defaultBenchmarksDir = "benchmarks"
	defaultExportsDir    = "exports"
)

type Options struct {
	Settings config.Settings

	// Track and Sprite replace the assets named in Settings.Track when set.
	Track  *track.Track
	Sprite image.Image

	// Factory builds the driving policy; nil uses agent.Factory.
	Factory scape.PolicyFactory
	// Observer receives frames alongside the telemetry hub.
	Observer   scape.Observer
	ExportsDir string
	Logger     *slog.Logger
}

type Client struct {
	settings config.Settings
	opts     Options
	log      *slog.Logger

	store storage.Store
	hub   *telemetry.Hub

	mu     sync.Mutex
	polis  *platform.Polis
	race   *scape.RaceScape
	sprite image.Image
	best   *Champion

	benchmarksDir string
	exportsDir    string
}

type RunRequest struct {
	RunID string
	// Seed zero uses Settings.Evolution.Seed.
	Seed int64
	// ContinueFrom seeds the run from a persisted population instead of a
	// fresh random one.
	ContinueFrom string
	OnGeneration func(evo.GenerationResult)
}

type RunSummary struct {
	RunID              string
	ArtifactsDir       string
	BestByGeneration   []float64
	FinalBestFitness   float64
	ChampionFitness    float64
	ChampionGeneration int
	Cancelled          bool
}

// Champion is the best genome seen by this client across all runs.
type Champion struct {
	RunID      string
	Generation int
	Fitness    float64
	Genome     model.Genome
}

type RunsRequest struct {
	Limit int
	// Stored lists runs from the store instead of the artifact index.
	Stored bool
}

type RunItem struct {
	RunID            string
	CreatedAtUTC     string
	Track            string
	Seed             int64
	Population       int
	Generations      int
	FinalBestFitness float64
	Cancelled        bool
}

type QueryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type PlotRequest struct {
	RunID  string
	Latest bool
	// Out defaults to fitness.png inside the run's artifact directory.
	Out string
}

func New(opts Options) (*Client, error) {
	if err := opts.Settings.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store, err := storage.NewStore(opts.Settings.Store.Kind, opts.Settings.Store.Path)
	if err != nil {
		return nil, err
	}
	benchmarksDir := opts.Settings.Artifacts.Dir
	if benchmarksDir == "" {
		benchmarksDir = defaultBenchmarksDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	c := &Client{
		settings:      opts.Settings,
		opts:          opts,
		log:           logger,
		store:         store,
		sprite:        opts.Sprite,
		benchmarksDir: benchmarksDir,
		exportsDir:    exportsDir,
	}
	if opts.Settings.Telemetry.Enabled {
		c.hub = telemetry.NewHub(logger)
	}
	return c, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensurePolis(ctx)
	return err
}

// Telemetry returns the live hub, or nil when telemetry is disabled. The
// caller serves it with Hub.Serve.
func (c *Client) Telemetry() *telemetry.Hub { return c.hub }

// Quit cancels the current generation and every later one.
func (c *Client) Quit() error {
	race, err := c.ensureScape(context.Background())
	if err != nil {
		return err
	}
	return race.Submit(scape.Quit{})
}

// Best returns the best genome seen across this client's runs.
func (c *Client) Best() (Champion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.best == nil {
		return Champion{}, false
	}
	return *c.best, true
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	evoSettings := c.settings.Evolution
	seed := req.Seed
	if seed == 0 {
		seed = evoSettings.Seed
	}
	selector, err := evo.SelectorFromName(evoSettings.Selection)
	if err != nil {
		return RunSummary{}, err
	}

	p, err := c.ensurePolis(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	race, err := c.ensureScape(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	initial, err := c.initialPopulation(ctx, req.ContinueFrom, race.Shape(), seed)
	if err != nil {
		return RunSummary{}, err
	}

	now := time.Now().UTC()
	runID := req.RunID
	if runID == "" {
		runID = fmt.Sprintf("race-%d-%s", seed, uuid.NewString()[:8])
	}
	runDir := filepath.Join(c.benchmarksDir, runID)

	rng := rand.New(rand.NewSource(seed + 1000))
	result, runErr := p.RunEvolution(ctx, platform.EvolutionConfig{
		RunID:             runID,
		ScapeName:         race.Name(),
		PopulationSize:    evoSettings.PopulationSize,
		Generations:       evoSettings.Generations,
		EliteCount:        evoSettings.EliteCount,
		MutationsPerChild: evoSettings.MutationsPerChild,
		Seed:              seed,
		FitnessTarget:     evoSettings.FitnessTarget,
		Mutation:          &evo.PerturbRandomWeight{Rand: rng, MaxDelta: evoSettings.MaxWeightDelta},
		MutationPolicy:    evo.DefaultMutationPolicy(rng, evoSettings.MaxWeightDelta),
		Selector:          selector,
		Initial:           initial,
		OnGeneration: func(gen evo.GenerationResult) error {
			if c.hub != nil {
				c.hub.PublishReport(gen.Report)
			}
			if c.settings.Artifacts.Snapshots {
				if err := c.writeSnapshot(runDir, race, gen.Report); err != nil {
					return err
				}
			}
			if req.OnGeneration != nil {
				req.OnGeneration(gen)
			}
			return nil
		},
	})
	if runErr != nil && !result.Cancelled {
		return RunSummary{}, runErr
	}

	if err := c.writeArtifacts(runID, seed, now, result); err != nil {
		return RunSummary{}, errors.Join(runErr, err)
	}
	c.recordChampion(result)

	c.log.Info("run finished",
		"run", runID,
		"generations", len(result.BestByGeneration),
		"champion", result.Champion.Fitness,
		"cancelled", result.Cancelled,
	)
	return RunSummary{
		RunID:              runID,
		ArtifactsDir:       filepath.Clean(runDir),
		BestByGeneration:   append([]float64(nil), result.BestByGeneration...),
		FinalBestFitness:   result.BestFinalFitness,
		ChampionFitness:    result.Champion.Fitness,
		ChampionGeneration: result.ChampionGeneration,
		Cancelled:          result.Cancelled,
	}, runErr
}

func (c *Client) initialPopulation(ctx context.Context, continueFrom string, shape scape.NetworkShape, seed int64) ([]model.Genome, error) {
	size := c.settings.Evolution.PopulationSize
	if continueFrom != "" {
		_, genomes, err := genotype.LoadPopulationSnapshot(ctx, c.store, continueFrom)
		if err != nil {
			return nil, err
		}
		if len(genomes) != size {
			return nil, fmt.Errorf("population %s has %d genomes, want %d", continueFrom, len(genomes), size)
		}
		return genomes, nil
	}
	seedPopulation, err := genotype.ConstructSeedPopulation(genotype.SeedSpec{
		Sensors:          shape.Sensors,
		Actions:          shape.Actions,
		Hidden:           c.settings.Evolution.Hidden,
		Activation:       c.settings.Evolution.Activation,
		OutputActivation: c.settings.Evolution.OutputActivation,
	}, size, seed)
	if err != nil {
		return nil, err
	}
	return seedPopulation.Genomes, nil
}

func (c *Client) writeArtifacts(runID string, seed int64, startedAt time.Time, result platform.EvolutionResult) error {
	top := make([]stats.TopGenome, 0, len(result.TopFinal))
	for i, scored := range result.TopFinal {
		top = append(top, stats.TopGenome{
			Rank:       i + 1,
			Generation: len(result.BestByGeneration),
			Fitness:    scored.Fitness,
			Genome:     scored.Genome,
		})
	}
	lineage := make([]stats.LineageEntry, 0, len(result.Lineage))
	for _, record := range result.Lineage {
		lineage = append(lineage, stats.LineageEntry{
			GenomeID:   record.GenomeID,
			ParentID:   record.ParentID,
			Generation: record.Generation,
			Operation:  record.Operation,
		})
	}

	evoSettings := c.settings.Evolution
	runDir, err := stats.WriteRunArtifacts(c.benchmarksDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:          runID,
			Track:          c.settings.Track.Path,
			TrackWidth:     c.settings.Track.Width,
			TrackHeight:    c.settings.Track.Height,
			PopulationSize: evoSettings.PopulationSize,
			Generations:    evoSettings.Generations,
			EliteCount:     evoSettings.EliteCount,
			Selection:      evoSettings.Selection,
			Hidden:         evoSettings.Hidden,
			Seed:           seed,
			TickRate:       c.settings.Generation.TickRate,
			MaxTicks:       c.settings.Generation.MaxTicks,
			Workers:        c.settings.Generation.Workers,
			FitnessTarget:  evoSettings.FitnessTarget,
		},
		BestByGeneration:      result.BestByGeneration,
		GenerationDiagnostics: result.GenerationDiagnostics,
		FinalBestFitness:      result.BestFinalFitness,
		Cancelled:             result.Cancelled,
		TopGenomes:            top,
		Lineage:               lineage,
	})
	if err != nil {
		return err
	}
	if c.settings.Artifacts.Plot && len(result.GenerationDiagnostics) > 0 {
		if err := stats.WriteFitnessPlot(filepath.Join(runDir, "fitness.png"), runID, result.GenerationDiagnostics); err != nil {
			return err
		}
	}
	return stats.AppendRunIndex(c.benchmarksDir, stats.RunIndexEntry{
		RunID:            runID,
		Track:            c.settings.Track.Path,
		PopulationSize:   evoSettings.PopulationSize,
		Generations:      len(result.BestByGeneration),
		Seed:             seed,
		FinalBestFitness: result.BestFinalFitness,
		Cancelled:        result.Cancelled,
		CreatedAtUTC:     startedAt.Format(time.RFC3339Nano),
	})
}

func (c *Client) recordChampion(result platform.EvolutionResult) {
	if result.ChampionGeneration < 0 || len(result.BestByGeneration) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.best != nil && c.best.Fitness >= result.Champion.Fitness {
		return
	}
	c.best = &Champion{
		RunID:      result.RunID,
		Generation: result.ChampionGeneration,
		Fitness:    result.Champion.Fitness,
		Genome:     genotype.CloneGenome(result.Champion.Genome),
	}
}

func (c *Client) writeSnapshot(runDir string, race *scape.RaceScape, report scape.Report) error {
	if report.Best == nil {
		return nil
	}
	sprite, err := c.ensureSprite()
	if err != nil {
		return err
	}
	params := race.Params()
	path := filepath.Join(runDir, "snapshots", fmt.Sprintf("gen-%04d.png", report.Generation))
	return assets.WriteSnapshot(path, race.Track().Image(), sprite, []assets.Pose{{
		X:       report.Best.Position.X,
		Y:       report.Best.Position.Y,
		Width:   params.Width,
		Height:  params.Height,
		Heading: report.Best.Heading,
	}})
}

func (c *Client) ensureSprite() (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadSpriteLocked()
}

func (c *Client) loadSpriteLocked() (image.Image, error) {
	if c.sprite != nil {
		return c.sprite, nil
	}
	params := c.settings.CarParams()
	sprite, err := assets.LoadSprite(c.settings.Track.Sprite, int(params.Width), int(params.Height))
	if err != nil {
		return nil, err
	}
	c.sprite = sprite
	return sprite, nil
}

func (c *Client) ensurePolis(ctx context.Context) (*platform.Polis, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.polis != nil {
		return c.polis, nil
	}
	p := platform.NewPolis(platform.Config{Store: c.store, Logger: c.log})
	if err := p.Init(ctx); err != nil {
		return nil, err
	}
	c.polis = p
	return c.polis, nil
}

// ensureScape builds the race scape once. It outlives single runs so operator
// state such as quit and the speed ceiling carries across them.
func (c *Client) ensureScape(ctx context.Context) (*scape.RaceScape, error) {
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.race != nil {
		return c.race, nil
	}

	tr := c.opts.Track
	if tr == nil {
		tr, err = assets.LoadTrack(c.settings.Track.Path, c.settings.Track.Width, c.settings.Track.Height)
		if err != nil {
			return nil, err
		}
	}
	if _, err := c.loadSpriteLocked(); err != nil {
		return nil, err
	}
	factory := c.opts.Factory
	if factory == nil {
		factory = agent.Factory()
	}
	var observers scape.Observers
	if c.hub != nil {
		observers = append(observers, c.hub)
	}
	if c.opts.Observer != nil {
		observers = append(observers, c.opts.Observer)
	}
	var observer scape.Observer
	if len(observers) > 0 {
		observer = observers
	}

	gen := c.settings.Generation
	race, err := scape.NewRaceScape(scape.Config{
		Track:         tr,
		Car:           c.settings.CarParams(),
		Factory:       factory,
		TickRate:      gen.TickRate,
		MaxTicks:      gen.MaxTicks,
		Workers:       gen.Workers,
		CommandBuffer: gen.CommandBuffer,
		Observer:      observer,
		FrameEvery:    gen.FrameEvery,
		Logger:        c.log,
	})
	if err != nil {
		return nil, err
	}
	if err := p.RegisterScape(race); err != nil {
		return nil, err
	}
	if c.hub != nil {
		c.hub.Attach(race)
	}
	c.race = race
	return race, nil
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	var out []RunItem
	if req.Stored {
		if _, err := c.ensurePolis(ctx); err != nil {
			return nil, err
		}
		runs, err := c.store.ListRuns(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range runs {
			out = append(out, RunItem{
				RunID:            r.ID,
				CreatedAtUTC:     r.StartedAt,
				Generations:      r.Generations,
				FinalBestFitness: r.BestFitness,
				Cancelled:        r.Cancelled,
			})
		}
	} else {
		entries, err := stats.ListRunIndex(c.benchmarksDir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			out = append(out, RunItem{
				RunID:            e.RunID,
				CreatedAtUTC:     e.CreatedAtUTC,
				Track:            e.Track,
				Seed:             e.Seed,
				Population:       e.PopulationSize,
				Generations:      e.Generations,
				FinalBestFitness: e.FinalBestFitness,
				Cancelled:        e.Cancelled,
			})
		}
	}
	if len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

func (c *Client) resolveRunID(runID string, latest bool, what string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if latest {
		entries, err := stats.ListRunIndex(c.benchmarksDir)
		if err != nil {
			return "", err
		}
		if len(entries) == 0 {
			return "", errors.New("no runs available")
		}
		return entries[0].RunID, nil
	}
	if runID == "" {
		return "", fmt.Errorf("%s requires run id or latest", what)
	}
	return runID, nil
}

// The read queries prefer the store and fall back to the run's artifact
// directory, so a memory store still answers for runs from earlier processes.

func (c *Client) FitnessHistory(ctx context.Context, req QueryRequest) ([]float64, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "fitness history")
	if err != nil {
		return nil, err
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetFitnessHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		history, ok, err = stats.ReadFitnessSeries(c.benchmarksDir, runID)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("fitness history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return append([]float64(nil), history...), nil
}

func (c *Client) Diagnostics(ctx context.Context, req QueryRequest) ([]model.GenerationDiagnostics, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "diagnostics")
	if err != nil {
		return nil, err
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return nil, err
	}
	diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		diagnostics, ok, err = stats.ReadGenerationDiagnostics(c.benchmarksDir, runID)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	out := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(out, diagnostics)
	return out, nil
}

func (c *Client) TopGenomes(ctx context.Context, req QueryRequest) ([]model.TopGenomeRecord, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "top genomes")
	if err != nil {
		return nil, err
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return nil, err
	}
	top, ok, err := c.store.GetTopGenomes(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		artifacts, found, err := stats.ReadTopGenomes(c.benchmarksDir, runID)
		if err != nil {
			return nil, err
		}
		ok = found
		for _, item := range artifacts {
			top = append(top, model.TopGenomeRecord{
				VersionedRecord: storage.Versioned(),
				Rank:            item.Rank,
				Generation:      item.Generation,
				Fitness:         item.Fitness,
				Genome:          item.Genome,
			})
		}
	}
	if !ok {
		return nil, fmt.Errorf("top genomes not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(top) > req.Limit {
		top = top[:req.Limit]
	}
	out := make([]model.TopGenomeRecord, len(top))
	copy(out, top)
	return out, nil
}

func (c *Client) Lineage(ctx context.Context, req QueryRequest) ([]model.LineageRecord, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "lineage")
	if err != nil {
		return nil, err
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return nil, err
	}
	lineage, ok, err := c.store.GetLineage(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		entries, found, err := stats.ReadLineage(c.benchmarksDir, runID)
		if err != nil {
			return nil, err
		}
		ok = found
		for _, e := range entries {
			lineage = append(lineage, model.LineageRecord{
				VersionedRecord: storage.Versioned(),
				GenomeID:        e.GenomeID,
				ParentID:        e.ParentID,
				Generation:      e.Generation,
				Operation:       e.Operation,
			})
		}
	}
	if !ok {
		return nil, fmt.Errorf("lineage not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(lineage) > req.Limit {
		lineage = lineage[:req.Limit]
	}
	out := make([]model.LineageRecord, len(lineage))
	copy(out, lineage)
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "export")
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	exportedDir, err := stats.ExportRunArtifacts(c.benchmarksDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// Plot renders a run's best and mean fitness curves and returns the file
// written.
func (c *Client) Plot(ctx context.Context, req PlotRequest) (string, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest, "plot")
	if err != nil {
		return "", err
	}
	diagnostics, err := c.Diagnostics(ctx, QueryRequest{RunID: runID})
	if err != nil {
		return "", err
	}
	out := req.Out
	if out == "" {
		out = filepath.Join(c.benchmarksDir, runID, "fitness.png")
	}
	if err := stats.WriteFitnessPlot(out, runID, diagnostics); err != nil {
		return "", err
	}
	return filepath.Clean(out), nil
}
