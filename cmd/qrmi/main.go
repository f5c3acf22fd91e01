// Package main is the qrmi command. It runs one task on a quantum resource
// from start to finish: probe, acquire, submit, poll with a deadline,
// fetch result and logs, release.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qiskit-community/qrmi/internal/config"
	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/resource"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	resource    string
	kind        string
	backend     string
	shots       int
	format      string
	program     string
	input       string
	inputFile   string
	poll        time.Duration
	timeout     time.Duration
	logLevel    string
	logFormat   string
	metricsAddr string
	watch       bool
	showVersion bool
}

func main() {
	flags, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	if flags.showVersion {
		printVersion(os.Stdout)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "qrmi: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses command line flags. Environment variables provide
// defaults for the settings that are usually fixed per host.
func parseFlags(args []string, output io.Writer) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("qrmi", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&f.configPath, "config", getEnvOrDefault("QRMI_CONFIG", ""),
		"Path to configuration file")
	fs.StringVar(&f.resource, "resource", getEnvOrDefault("QRMI_RESOURCE", ""),
		"Resource name; looked up in the configuration file when one is given")
	fs.StringVar(&f.kind, "kind", "",
		"Resource kind (ionq-cloud, ionq-mock, pasqal-cloud, pasqal-local, direct-access)")
	fs.StringVar(&f.backend, "backend", "", "Backend or device name")
	fs.IntVar(&f.shots, "shots", 100, "Number of shots, or job runs for Pasqal resources")
	fs.StringVar(&f.format, "format", resource.FormatQASM2, "Circuit format (qasm2, qasm3, qir)")
	fs.StringVar(&f.program, "program", "sampler", "Primitive for Direct Access (sampler, estimator)")
	fs.StringVar(&f.input, "input", "", "Program text")
	fs.StringVar(&f.inputFile, "input-file", "", "Read program text from a file")
	fs.DurationVar(&f.poll, "poll", 0, "Poll interval; defaults to the resource poll_interval")
	fs.DurationVar(&f.timeout, "timeout", 3*time.Minute, "Time to wait for the task to finish")
	fs.StringVar(&f.logLevel, "log-level", getEnvOrDefault("QRMI_LOG_LEVEL", ""),
		"Log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", getEnvOrDefault("QRMI_LOG_FORMAT", ""),
		"Log format (json, console)")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "",
		"Serve metrics and health on this address while the task runs")
	fs.BoolVar(&f.watch, "watch", false, "Reload secret sources when the configuration file changes")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if f.input != "" && f.inputFile != "" {
		err := errors.New("-input and -input-file are mutually exclusive")
		fmt.Fprintln(output, err)
		return f, err
	}
	if f.watch && f.configPath == "" {
		err := errors.New("-watch requires -config")
		fmt.Fprintln(output, err)
		return f, err
	}
	return f, nil
}

// printVersion prints version information.
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "qrmi version %s\n", version)
	fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// run executes one task and writes its report to out.
func run(ctx context.Context, flags cliFlags, out io.Writer) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	rc, err := selectResource(cfg, flags)
	if err != nil {
		return err
	}
	payload, err := buildPayload(rc, flags, logger)
	if err != nil {
		return err
	}

	logger.Info("starting qrmi",
		observability.String("version", version),
		observability.String("resource", rc.Name),
		observability.String("kind", rc.Kind),
	)

	app, err := initApplication(ctx, cfg, flags, logger)
	if err != nil {
		return err
	}
	defer app.shutdown(logger)

	if flags.watch {
		app.watcher = startConfigWatcher(ctx, app, flags.configPath, logger)
	}
	if flags.metricsAddr != "" {
		startMetricsServer(app, flags.metricsAddr, logger)
	}

	r, err := app.newResource(ctx, rc)
	if err != nil {
		return err
	}

	rep, err := runTask(ctx, r, payload, taskOptions{
		name:     rc.Name,
		interval: pollInterval(rc, flags),
		timeout:  flags.timeout,
		logger:   logger,
	})
	if rep != nil {
		if werr := rep.write(out); werr != nil {
			logger.Error("failed to write report", observability.Error(werr))
		}
	}
	return err
}

// loadConfig reads the configuration file, or starts from defaults when
// none is given. Flags override the file's logging settings.
func loadConfig(flags cliFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}
	return cfg, nil
}

// selectResource picks the resource to run on. A -resource found in the
// configuration is used as configured, with -kind and -backend applied on
// top. Otherwise a resource is described by the flags alone, defaulting to
// the IonQ mock so the command works offline.
func selectResource(cfg *config.Config, flags cliFlags) (*config.ResourceConfig, error) {
	name := flags.resource
	if name == "" && len(cfg.Resources) == 1 && flags.kind == "" {
		name = cfg.Resources[0].Name
	}

	var rc config.ResourceConfig
	if found, ok := cfg.Resource(name); ok {
		rc = *found
	} else {
		if name == "" {
			name = flags.backend
		}
		if name == "" {
			name = "simulator"
		}
		rc = config.ResourceConfig{Name: name, Kind: string(resource.KindIonQMock)}
	}
	if flags.kind != "" {
		rc.Kind = flags.kind
	}
	if flags.backend != "" {
		rc.Backend = flags.backend
	}

	single := &config.Config{Resources: []config.ResourceConfig{rc}}
	single.ApplyDefaults()
	if err := config.Validate(single); err != nil {
		return nil, err
	}
	return &single.Resources[0], nil
}

func pollInterval(rc *config.ResourceConfig, flags cliFlags) time.Duration {
	if flags.poll > 0 {
		return flags.poll
	}
	return rc.PollInterval.Duration()
}
