package main

import (
	"flag"
	"fmt"

	"carsim/internal/config"
)

// commonFlags are accepted by every subcommand that opens a client.
type commonFlags struct {
	configPath   *string
	storeKind    *string
	dbPath       *string
	artifactsDir *string
	exportsDir   *string
}

func registerCommonFlags(fs *flag.FlagSet) commonFlags {
	def := config.Default()
	return commonFlags{
		configPath:   fs.String("config", "", "optional settings JSON path"),
		storeKind:    fs.String("store", def.Store.Kind, "store backend: memory|sqlite"),
		dbPath:       fs.String("db-path", def.Store.Path, "sqlite database path"),
		artifactsDir: fs.String("artifacts-dir", def.Artifacts.Dir, "run artifacts directory"),
		exportsDir:   fs.String("exports-dir", "exports", "export destination directory"),
	}
}

func (c commonFlags) values() map[string]any {
	return map[string]any{
		"store":         *c.storeKind,
		"db-path":       *c.dbPath,
		"artifacts-dir": *c.artifactsDir,
	}
}

func setFlagNames(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

// loadSettings reads the optional config file and lays explicitly set flags
// over it. Flags left at their defaults never override the file.
func loadSettings(path string, set map[string]bool, flagValue map[string]any) (config.Settings, error) {
	settings := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Settings{}, err
		}
		settings = loaded
	}
	if err := overrideFromFlags(&settings, set, flagValue); err != nil {
		return config.Settings{}, err
	}
	if err := settings.Validate(); err != nil {
		return config.Settings{}, err
	}
	return settings, nil
}

func overrideFromFlags(s *config.Settings, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "store":
			s.Store.Kind = v.(string)
		case "db-path":
			s.Store.Path = v.(string)
		case "artifacts-dir":
			s.Artifacts.Dir = v.(string)
		case "track":
			s.Track.Path = v.(string)
		case "sprite":
			s.Track.Sprite = v.(string)
		case "width":
			s.Track.Width = v.(int)
		case "height":
			s.Track.Height = v.(int)
		case "pop":
			s.Evolution.PopulationSize = v.(int)
		case "gens":
			s.Evolution.Generations = v.(int)
		case "elite":
			s.Evolution.EliteCount = v.(int)
		case "hidden":
			s.Evolution.Hidden = v.(int)
		case "selection":
			s.Evolution.Selection = v.(string)
		case "fitness-target":
			s.Evolution.FitnessTarget = v.(float64)
		case "seed":
			s.Evolution.Seed = v.(int64)
		case "runs":
			s.Evolution.Runs = v.(int)
		case "workers":
			s.Generation.Workers = v.(int)
		case "tick-rate":
			s.Generation.TickRate = v.(float64)
		case "max-ticks":
			s.Generation.MaxTicks = v.(int)
		case "telemetry":
			s.Telemetry.Enabled = v.(bool)
		case "telemetry-addr":
			s.Telemetry.Addr = v.(string)
		case "plot":
			s.Artifacts.Plot = v.(bool)
		case "snapshots":
			s.Artifacts.Snapshots = v.(bool)
		default:
			return fmt.Errorf("unsupported override flag: %s", name)
		}
	}
	return nil
}
