package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/vk/gridfan/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("gridfan", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
gridfan - A batch fan-out front-end for containerized analyses.

Usage:
  gridfan [options] INPUT_ROOT OUTPUT_ROOT

Arguments:
  INPUT_ROOT
    Directory holding the input dataset (one entry per unit, or a file
    collection when using -chunk).
  OUTPUT_ROOT
    Directory receiving per-unit staging output and the merged results.

Options:
`)
		flagSet.PrintDefaults()
	}

	templateFlag := flagSet.String("template", "", "Task template name. Defaults to the built-in 'fmriprep'.")
	templatesPathFlag := flagSet.String("templates-path", "", "Directory with additional *.hcl template manifests.")
	imageFlag := flagSet.String("image", "", "Override the template's container image.")
	levelFlag := flagSet.String("level", "", "Analysis level. Defaults to the template's first declared level.")
	chunkFlag := flagSet.String("chunk", "", "Pack input files into units of at most this size (e.g. '1GiB'). Empty selects one unit per entry.")
	collectiveFlag := flagSet.Bool("collective", false, "Run the whole input root as a single unit.")
	transferFlag := flagSet.Bool("transfer", false, "Copy inputs to staging instead of mounting them in place.")
	licenseFlag := flagSet.String("license", "", "Host path of a license file to stage at the template's license mount.")
	repeatFlag := flagSet.Int("repeat", 1, "Run every unit N times.")
	memoryFlag := flagSet.String("memory", "", "Initial memory request per task (e.g. '8GB'). Defaults to the template's declared value.")
	maxMemoryFlag := flagSet.String("max-memory", "32GB", "Memory escalation ceiling.")
	memFactorFlag := flagSet.Float64("mem-factor", 2, "Memory multiplier applied after an out-of-memory kill.")
	sessionFlag := flagSet.String("session", "", "Path of the SQLite session file recording run state.")
	gatewayFlag := flagSet.String("gateway", "", "URL of a scheduler gateway. Empty runs tasks locally.")
	runtimeFlag := flagSet.String("runtime", "", "Local container runtime: 'docker' or empty to execute argv directly.")
	rmStagedFlag := flagSet.Bool("rm-staged", false, "Remove per-unit staging directories after a successful merge.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	if flagSet.NArg() == 0 {
		slog.Debug("No input root provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}
	if flagSet.NArg() != 2 {
		return nil, false, &ExitError{Code: 2, Message: "expected exactly two arguments: INPUT_ROOT OUTPUT_ROOT"}
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	runtime := strings.ToLower(*runtimeFlag)
	if runtime != "" && runtime != "docker" {
		return nil, false, &ExitError{Code: 2, Message: "invalid runtime: must be 'docker' or empty"}
	}

	chunkBytes, err := parseSize("chunk", *chunkFlag)
	if err != nil {
		return nil, false, err
	}
	memoryBytes, err := parseSize("memory", *memoryFlag)
	if err != nil {
		return nil, false, err
	}
	maxMemoryBytes, err := parseSize("max-memory", *maxMemoryFlag)
	if err != nil {
		return nil, false, err
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		InputRoot:      flagSet.Arg(0),
		OutputRoot:     flagSet.Arg(1),
		Template:       *templateFlag,
		TemplatesPath:  *templatesPathFlag,
		Image:          *imageFlag,
		Level:          *levelFlag,
		ChunkBytes:     chunkBytes,
		Collective:     *collectiveFlag,
		Transfer:       *transferFlag,
		License:        *licenseFlag,
		Repeat:         *repeatFlag,
		MemoryBytes:    memoryBytes,
		MaxMemoryBytes: maxMemoryBytes,
		MemoryFactor:   *memFactorFlag,
		SessionPath:    *sessionFlag,
		GatewayURL:     *gatewayFlag,
		Runtime:        runtime,
		RemoveStaged:   *rmStagedFlag,
		LogFormat:      logFormat,
		LogLevel:       logLevel,
	})

	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.")
	return config, false, nil
}

// parseSize converts a humanized size flag ("1GiB", "8GB") to bytes; the
// empty string is zero.
func parseSize(name, value string) (int64, error) {
	if value == "" {
		return 0, nil
	}
	size, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, &ExitError{Code: 2, Message: fmt.Sprintf("invalid %s: %v", name, err)}
	}
	return int64(size), nil
}
