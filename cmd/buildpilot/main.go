// ABOUTME: CLI entrypoint for the buildpilot build client with TUI, headless, project, preview, history, and demo modes.
// ABOUTME: Wires together config, logging, telemetry, the backend client, the project registry, and the session controller.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/buildpilot/backend"
	"github.com/2389-research/buildpilot/config"
	"github.com/2389-research/buildpilot/fakebackend"
	"github.com/2389-research/buildpilot/logging"
	"github.com/2389-research/buildpilot/project"
	"github.com/2389-research/buildpilot/session"
	"github.com/2389-research/buildpilot/telemetry"
	"github.com/2389-research/buildpilot/tui"
)

var version = "dev"

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// cliConfig holds all CLI configuration parsed from flags.
type cliConfig struct {
	configPath string
	envFile    string
	server     string
	logLevel   string
	logFile    string
	telemetry  bool

	projectName string
	prompt      string
	attach      stringList

	list          bool
	runProject    string
	stopPreview   bool
	exportHistory string
	snapshots     bool
	revert        string

	demo        bool
	demoAddr    string
	demoStep    time.Duration
	showVersion bool
}

func main() {
	cli, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if cli.showVersion {
		fmt.Printf("buildpilot %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(cli, os.Stdin, os.Stdout, os.Stderr))
}

// parseFlags parses command-line flags and returns a populated cliConfig.
func parseFlags(args []string) (cliConfig, error) {
	var cli cliConfig

	fs := flag.NewFlagSet("buildpilot", flag.ContinueOnError)
	fs.StringVar(&cli.configPath, "config", "", "Config file (default: $XDG_CONFIG_HOME/buildpilot/config.yaml)")
	fs.StringVar(&cli.envFile, "env-file", "", "Environment file loaded before BUILDPILOT_* variables (default: .env)")
	fs.StringVar(&cli.server, "server", "", "Build backend URL")
	fs.StringVar(&cli.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&cli.logFile, "log-file", "", "Log file (TUI mode always logs to a file)")
	fs.BoolVar(&cli.telemetry, "telemetry", false, "Export traces and metrics to the telemetry directory")

	fs.StringVar(&cli.projectName, "project", "", "Project to build into")
	fs.StringVar(&cli.prompt, "prompt", "", "Run one build without the TUI")
	fs.Var(&cli.attach, "attach", "Attach a file to the build (repeatable, headless only)")

	fs.BoolVar(&cli.list, "list", false, "List projects and exit")
	fs.StringVar(&cli.runProject, "run", "", "Start the preview server for a project")
	fs.BoolVar(&cli.stopPreview, "stop-preview", false, "Stop the preview server")
	fs.StringVar(&cli.exportHistory, "export-history", "", "Write the project's build history as HTML to a file (- for stdout)")
	fs.BoolVar(&cli.snapshots, "snapshots", false, "List the project's snapshots")
	fs.StringVar(&cli.revert, "revert", "", "Revert the project to a snapshot id")

	fs.BoolVar(&cli.demo, "demo", false, "Run against a local in-memory backend")
	fs.StringVar(&cli.demoAddr, "demo-addr", "127.0.0.1:0", "Listen address for the demo backend")
	fs.DurationVar(&cli.demoStep, "demo-step", 700*time.Millisecond, "Delay between demo build steps")
	fs.BoolVar(&cli.showVersion, "version", false, "Print version and exit")

	fs.Usage = func() {
		printHelp(os.Stderr, version)
	}

	if err := fs.Parse(args); err != nil {
		return cli, err
	}
	if fs.NArg() > 0 {
		return cli, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if len(cli.attach) > 0 && cli.prompt == "" {
		return cli, errors.New("-attach requires -prompt")
	}
	return cli, nil
}

// headless reports whether the invocation runs without the TUI.
func (c cliConfig) headless() bool {
	return c.prompt != "" || c.list || c.runProject != "" || c.stopPreview ||
		c.exportHistory != "" || c.snapshots || c.revert != ""
}

// resolveConfig layers flags over the loaded configuration.
func resolveConfig(cli cliConfig) (*config.Config, error) {
	cfg, err := config.Load(cli.configPath, cli.envFile)
	if err != nil {
		return nil, err
	}
	if cli.server != "" {
		cfg.Server = cli.server
	}
	if cli.logLevel != "" {
		cfg.Log.Level = cli.logLevel
	}
	if cli.logFile != "" {
		cfg.Log.File = cli.logFile
	}
	if cli.telemetry {
		cfg.Telemetry.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app bundles the collaborators every mode uses.
type app struct {
	cfg      *config.Config
	client   *backend.Client
	registry *project.Registry
	preview  *project.Preview
}

// run dispatches to the appropriate mode based on the flags.
// Returns an exit code: 0 for success, 1 for failure.
func run(cli cliConfig, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := resolveConfig(cli)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	logOpts := logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Console:    true,
	}
	if !cli.headless() && logOpts.File == "" {
		// Bubble Tea owns the terminal.
		logOpts.File = config.DefaultLogFile()
	}
	closeLog, err := logging.Setup(logOpts)
	if err != nil {
		fmt.Fprintf(stderr, "error: logging: %v\n", err)
		return 1
	}
	defer closeLog()

	// Set up context with signal handling for graceful cancellation.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Options{
		Enabled: cfg.Telemetry.Enabled,
		Dir:     cfg.Telemetry.Dir,
		Version: version,
	})
	if err != nil {
		fmt.Fprintf(stderr, "warning: %v\n", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logging.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	if cli.demo {
		addr, err := startDemoBackend(ctx, cli)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		cfg.Server = "http://" + addr
		if cli.headless() {
			fmt.Fprintf(stderr, "demo backend on %s\n", cfg.Server)
		}
	}

	client := backend.New(cfg.Server, backend.WithTimeout(cfg.RequestTimeout))
	registry := project.NewRegistry(client, project.WithRefreshInterval(cfg.RefreshInterval))
	a := &app{
		cfg:      cfg,
		client:   client,
		registry: registry,
		preview:  project.NewPreview(client, registry),
	}
	logging.Info().Str("server", cfg.Server).Str("version", version).Msg("buildpilot starting")

	switch {
	case cli.list:
		return a.listProjects(ctx, stdout, stderr)
	case cli.runProject != "":
		return a.startPreview(ctx, cli.runProject, stdout, stderr)
	case cli.stopPreview:
		return a.stopPreview(ctx, stdout, stderr)
	case cli.exportHistory != "":
		return a.exportHistory(ctx, cli.projectName, cli.exportHistory, stdout, stderr)
	case cli.snapshots:
		return a.listSnapshots(ctx, cli.projectName, stdout, stderr)
	case cli.revert != "":
		return a.revertSnapshot(ctx, cli.projectName, cli.revert, stdout, stderr)
	case cli.prompt != "":
		atts, err := loadAttachments(cli.attach)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		ctrl := session.NewController(client, session.WithRegistry(registry))
		defer ctrl.Close()
		return runHeadless(ctx, ctrl, cli.projectName, cli.prompt, atts, stdin, stdout, stderr)
	}

	return a.runTUI(ctx, cli.projectName, stderr)
}

// runTUI starts the interactive terminal client.
func (a *app) runTUI(ctx context.Context, projectName string, stderr io.Writer) int {
	ctrl := session.NewController(a.client, session.WithRegistry(a.registry))
	defer ctrl.Close()

	if projectName != "" {
		if _, err := ctrl.SelectProject(ctx, projectName); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
	}

	model := tui.NewAppModel(ctx, ctrl, tui.WithProjects(a.registry), tui.WithPreview(a.preview))
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	// Wire the event bridge so controller changes reach the TUI.
	unbind := tui.NewEventBridge(p.Send).Bind(ctrl)
	defer unbind()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// startDemoBackend serves the in-memory backend with the demo script and
// returns its address. It stops when ctx ends.
func startDemoBackend(ctx context.Context, cli cliConfig) (string, error) {
	ln, err := net.Listen("tcp", cli.demoAddr)
	if err != nil {
		return "", fmt.Errorf("demo backend: %w", err)
	}
	srv := fakebackend.New(
		fakebackend.WithScript(fakebackend.DemoScript(cli.demoStep)),
		fakebackend.WithProjects(backend.ProjectInfo{Name: "space_quiz", Tech: "React"}),
		fakebackend.WithStaticProject("landing_page"),
	)
	go func() {
		if err := srv.Serve(ctx, ln); err != nil {
			logging.Error().Err(err).Msg("demo backend stopped")
		}
	}()
	return ln.Addr().String(), nil
}

func loadAttachments(paths []string) ([]session.Attachment, error) {
	var q session.Attachments
	for _, p := range paths {
		if _, err := q.AddFile(p); err != nil {
			return nil, err
		}
	}
	return q.Take(), nil
}

// notifyInterrupt calls onFirst on the first SIGINT/SIGTERM and cancel on
// the second. The returned function stops listening.
func notifyInterrupt(onFirst func(), cancel context.CancelFunc) func() {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigChan:
			onFirst()
		case <-done:
			return
		}
		select {
		case <-sigChan:
			cancel()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}
