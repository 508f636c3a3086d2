package app

import "errors"

// Defaults applied by NewConfig when the corresponding field is zero.
const (
	DefaultTemplate       = "fmriprep"
	DefaultMaxMemoryBytes = 32_000_000_000
	DefaultMemoryFactor   = 2.0
)

// Config holds everything one run needs.
type Config struct {
	InputRoot  string
	OutputRoot string

	// Template names the task template; TemplatesPath optionally points at a
	// directory of additional *.hcl template manifests.
	Template      string
	TemplatesPath string

	// Image overrides the template's container image when non-empty.
	Image string

	// Level is the analysis level; empty uses the template's default.
	Level string

	// ChunkBytes switches discovery to byte-size chunk packing when positive;
	// zero means per-entry (or collective) discovery.
	ChunkBytes int64

	// Collective discovers the whole input root as a single unit.
	Collective bool

	// Transfer selects transfer staging; the default is shared staging.
	Transfer bool

	// License is a host path staged at the template's license mount.
	License string

	// Repeat runs every discovered unit N times; 1 means once.
	Repeat int

	// MemoryBytes is the initial memory request; zero uses the template
	// default. MemoryFactor and MaxMemoryBytes parameterize escalation.
	MemoryBytes    int64
	MaxMemoryBytes int64
	MemoryFactor   float64

	// SessionPath enables the SQLite session store when non-empty.
	SessionPath string

	// GatewayURL selects the remote socket.io scheduler; empty runs locally.
	GatewayURL string

	// Runtime is the local container runtime ("" executes argv directly,
	// "docker" composes docker run). Ignored when GatewayURL is set.
	Runtime string

	// RemoveStaged deletes per-unit staging directories after aggregation.
	RemoveStaged bool

	LogFormat string
	LogLevel  string
}

// NewConfig validates a Config and fills in defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.InputRoot == "" {
		return nil, errors.New("input root is required")
	}
	if cfg.OutputRoot == "" {
		return nil, errors.New("output root is required")
	}
	if cfg.ChunkBytes > 0 && cfg.Collective {
		return nil, errors.New("chunked and collective discovery are mutually exclusive")
	}
	if cfg.ChunkBytes < 0 {
		return nil, errors.New("chunk size must not be negative")
	}
	if cfg.Repeat < 0 {
		return nil, errors.New("repeat count must not be negative")
	}

	if cfg.Template == "" {
		cfg.Template = DefaultTemplate
	}
	if cfg.Repeat == 0 {
		cfg.Repeat = 1
	}
	if cfg.MaxMemoryBytes == 0 {
		cfg.MaxMemoryBytes = DefaultMaxMemoryBytes
	}
	if cfg.MemoryFactor == 0 {
		cfg.MemoryFactor = DefaultMemoryFactor
	}
	return &cfg, nil
}
