// Package main runs a local emulator of the IonQ and Pasqal Cloud REST
// APIs, for exercising resources without provider accounts.
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

	"github.com/gin-gonic/gin"

	"github.com/qiskit-community/qrmi/internal/emulator"
	"github.com/qiskit-community/qrmi/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const shutdownTimeout = 30 * time.Second

// cliFlags holds command line flags.
type cliFlags struct {
	address        string
	port           int
	ionqAPIKey     string
	pasqalToken    string
	pasqalUser     string
	pasqalPassword string
	stepPolls      int
	logLevel       string
	logFormat      string
	showVersion    bool
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
		fmt.Printf("qrmi-emulator version %s\n", version)
		fmt.Printf("  Build time: %s\n", buildTime)
		fmt.Printf("  Git commit: %s\n", gitCommit)
		return
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
		Output: "stderr",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	gin.SetMode(gin.ReleaseMode)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags, logger, nil); err != nil {
		logger.Error("emulator failed", observability.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// parseFlags parses command line flags.
func parseFlags(args []string, output io.Writer) (cliFlags, error) {
	def := emulator.DefaultServerConfig()

	var f cliFlags
	fs := flag.NewFlagSet("qrmi-emulator", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&f.address, "address", getEnvOrDefault("QRMI_EMULATOR_ADDRESS", def.Address), "Listen address")
	fs.IntVar(&f.port, "port", def.Port, "Listen port")
	fs.StringVar(&f.ionqAPIKey, "ionq-api-key", os.Getenv("QRMI_EMULATOR_IONQ_API_KEY"),
		"API key required on IonQ routes; empty accepts any caller")
	fs.StringVar(&f.pasqalToken, "pasqal-token", os.Getenv("QRMI_EMULATOR_PASQAL_TOKEN"),
		"Bearer token required on Pasqal routes; empty accepts any caller")
	fs.StringVar(&f.pasqalUser, "pasqal-user", "", "Username accepted by the Pasqal token route")
	fs.StringVar(&f.pasqalPassword, "pasqal-password", "", "Password accepted by the Pasqal token route")
	fs.IntVar(&f.stepPolls, "step-polls", emulator.DefaultStepPolls, "Status reads per job stage")
	fs.StringVar(&f.logLevel, "log-level", getEnvOrDefault("QRMI_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", getEnvOrDefault("QRMI_LOG_FORMAT", "console"),
		"Log format (json, console)")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if f.stepPolls <= 0 {
		err := errors.New("-step-polls must be positive")
		fmt.Fprintln(output, err)
		return f, err
	}
	return f, nil
}

// run serves the emulator until ctx ends. ready, when set, receives the
// bound address once the listener is open.
func run(ctx context.Context, flags cliFlags, logger observability.Logger, ready func(addr string)) error {
	emu := emulator.New(
		emulator.WithLogger(logger),
		emulator.WithStepPolls(flags.stepPolls),
		emulator.WithIonQAPIKey(flags.ionqAPIKey),
		emulator.WithPasqalToken(flags.pasqalToken),
		emulator.WithPasqalUser(flags.pasqalUser, flags.pasqalPassword),
	)

	cfg := emulator.DefaultServerConfig()
	cfg.Address = flags.address
	cfg.Port = flags.port
	server := emulator.NewServer(emu, cfg, logger)
	if err := server.Listen(); err != nil {
		return err
	}
	if ready != nil {
		ready(server.Addr())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("received shutdown signal")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil {
		return err
	}
	logger.Info("emulator stopped")
	return nil
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
