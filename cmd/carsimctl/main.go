package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"carsim/internal/config"
	"carsim/internal/evo"
	"carsim/internal/scape"
	"carsim/pkg/carsim"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "fitness":
		return runFitness(ctx, args[1:])
	case "diagnostics":
		return runDiagnostics(ctx, args[1:])
	case "top":
		return runTop(ctx, args[1:])
	case "lineage":
		return runLineage(ctx, args[1:])
	case "plot":
		return runPlot(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: carsimctl <init|run|runs|fitness|diagnostics|top|lineage|plot|export> [flags]", msg)
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openClient(fs *flag.FlagSet, common commonFlags, extra map[string]any, logger *slog.Logger) (*carsim.Client, config.Settings, error) {
	values := common.values()
	for k, v := range extra {
		values[k] = v
	}
	settings, err := loadSettings(*common.configPath, setFlagNames(fs), values)
	if err != nil {
		return nil, config.Settings{}, err
	}
	client, err := carsim.New(carsim.Options{
		Settings:   settings,
		ExportsDir: *common.exportsDir,
		Logger:     logger,
	})
	if err != nil {
		return nil, config.Settings{}, err
	}
	return client, settings, nil
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, _, err := openClient(fs, common, nil, newLogger(false))
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}
	fmt.Printf("initialized store=%s\n", *common.storeKind)
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	runID := fs.String("run-id", "", "explicit run id (optional; suffixed per run when -runs != 1)")
	continuePopID := fs.String("continue-pop-id", "", "seed the first run from a persisted population")
	trackPath := fs.String("track", "", "track PNG path")
	spritePath := fs.String("sprite", "", "car sprite PNG path")
	width := fs.Int("width", 0, "track width in pixels")
	height := fs.Int("height", 0, "track height in pixels")
	population := fs.Int("pop", 0, "population size")
	generations := fs.Int("gens", 0, "generations per run")
	elite := fs.Int("elite", 0, "elite count")
	hidden := fs.Int("hidden", 0, "hidden neurons in seed genomes")
	selection := fs.String("selection", "", "parent selection: elite|tournament")
	fitnessTarget := fs.Float64("fitness-target", 0, "stop a run once best fitness reaches this (0 disables)")
	seed := fs.Int64("seed", 0, "rng seed of the first run")
	runs := fs.Int("runs", 1, "number of runs (0 repeats until cancelled)")
	workers := fs.Int("workers", 0, "goroutines stepping cars per tick")
	tickRate := fs.Float64("tick-rate", 0, "ticks per second (0 runs unpaced)")
	maxTicks := fs.Int("max-ticks", 0, "tick budget per generation")
	telemetryOn := fs.Bool("telemetry", false, "serve the live websocket feed")
	telemetryAddr := fs.String("telemetry-addr", "", "telemetry listen address")
	plotOn := fs.Bool("plot", true, "write a fitness plot per run")
	snapshots := fs.Bool("snapshots", false, "write a best-car snapshot per generation")
	verbose := fs.Bool("v", false, "log generation progress to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, settings, err := openClient(fs, common, map[string]any{
		"track":          *trackPath,
		"sprite":         *spritePath,
		"width":          *width,
		"height":         *height,
		"pop":            *population,
		"gens":           *generations,
		"elite":          *elite,
		"hidden":         *hidden,
		"selection":      *selection,
		"fitness-target": *fitnessTarget,
		"seed":           *seed,
		"runs":           *runs,
		"workers":        *workers,
		"tick-rate":      *tickRate,
		"max-ticks":      *maxTicks,
		"telemetry":      *telemetryOn,
		"telemetry-addr": *telemetryAddr,
		"plot":           *plotOn,
		"snapshots":      *snapshots,
	}, newLogger(*verbose))
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if hub := client.Telemetry(); hub != nil {
		go func() {
			if err := hub.Serve(ctx, settings.Telemetry.Addr); err != nil {
				fmt.Fprintf(os.Stderr, "telemetry: %v\n", err)
			}
		}()
		fmt.Printf("telemetry addr=%s\n", settings.Telemetry.Addr)
	}

	totalRuns := settings.Evolution.Runs
	for i := 0; totalRuns == 0 || i < totalRuns; i++ {
		req := carsim.RunRequest{
			RunID: *runID,
			Seed:  settings.Evolution.Seed + int64(i),
			OnGeneration: func(g evo.GenerationResult) {
				d := g.Diagnostics
				fmt.Printf("generation=%d state=%s ticks=%d best=%.6f mean=%.6f std=%.6f survivors=%d\n",
					d.Generation, d.State, d.Ticks, d.BestFitness, d.MeanFitness, d.StdFitness, d.Survivors)
			},
		}
		if *runID != "" && totalRuns != 1 {
			req.RunID = fmt.Sprintf("%s-%d", *runID, i+1)
		}
		if i == 0 {
			req.ContinueFrom = *continuePopID
		}

		summary, err := client.Run(ctx, req)
		cancelled := errors.Is(err, scape.ErrCancelled)
		if err != nil && !cancelled {
			return err
		}
		fmt.Printf("run completed run_id=%s run=%d seed=%d generations=%d cancelled=%t\n",
			summary.RunID, i+1, req.Seed, len(summary.BestByGeneration), summary.Cancelled)
		fmt.Printf("final_best_fitness=%.6f champion_fitness=%.6f champion_generation=%d\n",
			summary.FinalBestFitness, summary.ChampionFitness, summary.ChampionGeneration)
		fmt.Printf("artifacts_dir=%s\n", summary.ArtifactsDir)
		if cancelled {
			break
		}
	}

	if best, ok := client.Best(); ok {
		fmt.Printf("overall_best_fitness=%.6f run_id=%s generation=%d genome_id=%s\n",
			best.Fitness, best.RunID, best.Generation, best.Genome.ID)
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	stored := fs.Bool("stored", false, "list runs from the store instead of the artifact index")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, _, err := openClient(fs, common, nil, newLogger(false))
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, carsim.RunsRequest{Limit: *limit, Stored: *stored})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	if *jsonOut {
		type runsItem struct {
			RunID            string  `json:"run_id"`
			CreatedAtUTC     string  `json:"created_at_utc"`
			Track            string  `json:"track,omitempty"`
			Seed             int64   `json:"seed"`
			Population       int     `json:"population_size"`
			Generations      int     `json:"generations"`
			FinalBestFitness float64 `json:"final_best_fitness"`
			Cancelled        bool    `json:"cancelled"`
		}
		out := make([]runsItem, 0, len(items))
		for _, item := range items {
			out = append(out, runsItem(item))
		}
		return writeJSON(out)
	}

	for _, item := range items {
		fmt.Printf("run_id=%s created_at=%s track=%s seed=%d pop=%d gens=%d final_best=%.6f cancelled=%t\n",
			item.RunID,
			item.CreatedAtUTC,
			item.Track,
			item.Seed,
			item.Population,
			item.Generations,
			item.FinalBestFitness,
			item.Cancelled,
		)
	}
	return nil
}

type queryFlags struct {
	runID   *string
	latest  *bool
	limit   *int
	jsonOut *bool
}

func registerQueryFlags(fs *flag.FlagSet, what string, limit int) queryFlags {
	return queryFlags{
		runID:   fs.String("run-id", "", "run id"),
		latest:  fs.Bool("latest", false, fmt.Sprintf("show %s for the most recent run from run index", what)),
		limit:   fs.Int("limit", limit, "max rows to print (<=0 for all)"),
		jsonOut: fs.Bool("json", false, fmt.Sprintf("emit %s as JSON", what)),
	}
}

func (q queryFlags) request(command string) (carsim.QueryRequest, error) {
	if *q.runID != "" && *q.latest {
		return carsim.QueryRequest{}, errors.New("use either --run-id or --latest, not both")
	}
	if *q.runID == "" && !*q.latest {
		return carsim.QueryRequest{}, fmt.Errorf("%s requires --run-id or --latest", command)
	}
	limit := *q.limit
	if limit < 0 {
		limit = 0
	}
	return carsim.QueryRequest{RunID: *q.runID, Latest: *q.latest, Limit: limit}, nil
}

func runFitness(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fitness", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	query := registerQueryFlags(fs, "fitness history", 0)
	if err := fs.Parse(args); err != nil {
		return err
	}
	req, err := query.request("fitness")
	if err != nil {
		return err
	}

	client, _, err := openClient(fs, common, nil, newLogger(false))
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.FitnessHistory(ctx, req)
	if err != nil {
		return err
	}
	if *query.jsonOut {
		return writeJSON(history)
	}
	for i, best := range history {
		fmt.Printf("generation=%d best_fitness=%.6f\n", i+1, best)
	}
	return nil
}

func runDiagnostics(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("diagnostics", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	query := registerQueryFlags(fs, "generation diagnostics", 50)
	if err := fs.Parse(args); err != nil {
		return err
	}
	req, err := query.request("diagnostics")
	if err != nil {
		return err
	}

	client, _, err := openClient(fs, common, nil, newLogger(false))
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	diagnostics, err := client.Diagnostics(ctx, req)
	if err != nil {
		return err
	}
	if len(diagnostics) == 0 {
		fmt.Println("no diagnostics")
		return nil
	}
	if *query.jsonOut {
		return writeJSON(diagnostics)
	}
	for _, d := range diagnostics {
		fmt.Printf("generation=%d state=%s ticks=%d evaluated=%d skipped=%d survivors=%d best=%.6f mean=%.6f std=%.6f min=%.6f\n",
			d.Generation,
			d.State,
			d.Ticks,
			d.Evaluated,
			d.Skipped,
			d.Survivors,
			d.BestFitness,
			d.MeanFitness,
			d.StdFitness,
			d.MinFitness,
		)
	}
	return nil
}

func runTop(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("top", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	query := registerQueryFlags(fs, "top genomes", 5)
	if err := fs.Parse(args); err != nil {
		return err
	}
	req, err := query.request("top")
	if err != nil {
		return err
	}

	client, _, err := openClient(fs, common, nil, newLogger(false))
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	top, err := client.TopGenomes(ctx, req)
	if err != nil {
		return err
	}
	if len(top) == 0 {
		fmt.Println("no top genomes")
		return nil
	}
	if *query.jsonOut {
		return writeJSON(top)
	}
	for _, item := range top {
		fmt.Printf("rank=%d fitness=%.6f genome_id=%s neurons=%d synapses=%d\n",
			item.Rank,
			item.Fitness,
			item.Genome.ID,
			len(item.Genome.Neurons),
			len(item.Genome.Synapses),
		)
	}
	return nil
}

func runLineage(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("lineage", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	query := registerQueryFlags(fs, "lineage", 100)
	if err := fs.Parse(args); err != nil {
		return err
	}
	req, err := query.request("lineage")
	if err != nil {
		return err
	}

	client, _, err := openClient(fs, common, nil, newLogger(false))
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	lineage, err := client.Lineage(ctx, req)
	if err != nil {
		return err
	}
	if *query.jsonOut {
		return writeJSON(lineage)
	}
	for _, rec := range lineage {
		fmt.Printf("generation=%d genome_id=%s parent_id=%s operation=%s\n",
			rec.Generation, rec.GenomeID, rec.ParentID, rec.Operation)
	}
	return nil
}

func runPlot(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("plot", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "plot the most recent run from run index")
	out := fs.String("out", "", "output image path (png|svg|pdf); defaults to the run directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, _, err := openClient(fs, common, nil, newLogger(false))
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	path, err := client.Plot(ctx, carsim.PlotRequest{RunID: *runID, Latest: *latest, Out: *out})
	if err != nil {
		return err
	}
	fmt.Printf("plot=%s\n", path)
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	runID := fs.String("run-id", "", "run id to export")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}

	client, _, err := openClient(fs, common, nil, newLogger(false))
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, carsim.ExportRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s dir=%s\n", exported.RunID, exported.Directory)
	return nil
}

func writeJSON(value any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
