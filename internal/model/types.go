package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Genome is a feed-forward network description. Neurons are listed in
// evaluation order; input neurons carry no incoming synapses.
type Genome struct {
	VersionedRecord
	ID       string    `json:"id"`
	ParentID string    `json:"parent_id,omitempty"`
	Neurons  []Neuron  `json:"neurons"`
	Synapses []Synapse `json:"synapses"`
}

type Neuron struct {
	ID         string  `json:"id"`
	Activation string  `json:"activation"`
	Bias       float64 `json:"bias"`
}

type Synapse struct {
	ID      string  `json:"id"`
	From    string  `json:"from"`
	To      string  `json:"to"`
	Weight  float64 `json:"weight"`
	Enabled bool    `json:"enabled"`
}

type Population struct {
	VersionedRecord
	ID         string   `json:"id"`
	GenomeIDs  []string `json:"genome_ids"`
	Generation int      `json:"generation"`
}

// GenerationDiagnostics summarizes one evaluated generation.
type GenerationDiagnostics struct {
	Generation  int     `json:"generation"`
	State       string  `json:"state"`
	Ticks       int     `json:"ticks"`
	Evaluated   int     `json:"evaluated"`
	Skipped     int     `json:"skipped"`
	Survivors   int     `json:"survivors"`
	BestFitness float64 `json:"best_fitness"`
	MeanFitness float64 `json:"mean_fitness"`
	StdFitness  float64 `json:"std_fitness"`
	MinFitness  float64 `json:"min_fitness"`
}

type TopGenomeRecord struct {
	VersionedRecord
	Rank       int     `json:"rank"`
	Generation int     `json:"generation"`
	Fitness    float64 `json:"fitness"`
	Genome     Genome  `json:"genome"`
}

// RunRecord is the persisted index entry for one evolution run.
type RunRecord struct {
	VersionedRecord
	ID           string  `json:"id"`
	PopulationID string  `json:"population_id"`
	StartedAt    string  `json:"started_at"`
	Generations  int     `json:"generations"`
	BestFitness  float64 `json:"best_fitness"`
	Cancelled    bool    `json:"cancelled"`
}

// LineageRecord links a genome to the parent it was derived from.
type LineageRecord struct {
	VersionedRecord
	GenomeID   string `json:"genome_id"`
	ParentID   string `json:"parent_id,omitempty"`
	Generation int    `json:"generation"`
	Operation  string `json:"operation"`
}
