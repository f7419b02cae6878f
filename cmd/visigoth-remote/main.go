// ABOUTME: CLI entrypoint for the visigoth remote console that monitors a running experiment.
// ABOUTME: Dials the experiment with backoff, then runs the Bubble Tea console over the client queues.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/2389-research/visigoth/clientserver"
	"github.com/2389-research/visigoth/remote"

	tea "github.com/charmbracelet/bubbletea"
)

var version = "dev"

// config holds the console's CLI configuration.
type config struct {
	host        string
	port        string
	localhost   bool
	step        float64
	attempts    int
	logFile     string
	showVersion bool
}

func main() {
	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Printf("visigoth-remote %s\n", version)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, cfg)
	stop()
	os.Exit(code)
}

// parseFlags parses args into a config.
func parseFlags(args []string, stderr io.Writer) (config, error) {
	var cfg config

	fs := flag.NewFlagSet("visigoth-remote", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.host, "host", "", "Experiment host")
	fs.StringVar(&cfg.port, "port", clientserver.DefaultPort, "Experiment streaming port")
	fs.BoolVar(&cfg.localhost, "localhost", false, "Connect to an experiment on this machine")
	fs.Float64Var(&cfg.step, "step", 0.1, "Offset and window edit step in degrees")
	fs.IntVar(&cfg.attempts, "attempts", 0, "Connection attempts before giving up (0 = until interrupted)")
	fs.StringVar(&cfg.logFile, "log", "visigoth-remote.log", "Log file")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "visigoth-remote %s - experiment monitoring console\n\n", version)
		fmt.Fprintln(stderr, "Usage:")
		fmt.Fprintln(stderr, "  visigoth-remote -host <addr> [-port 50001]")
		fmt.Fprintln(stderr, "  visigoth-remote -localhost")
		fmt.Fprintln(stderr)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.localhost {
		cfg.host = "127.0.0.1"
	}
	if cfg.host == "" {
		fmt.Fprintln(stderr, "error: -host or -localhost is required")
		return cfg, fmt.Errorf("no host")
	}
	if cfg.step <= 0 {
		fmt.Fprintln(stderr, "error: -step must be positive")
		return cfg, fmt.Errorf("bad step %v", cfg.step)
	}
	return cfg, nil
}

func (cfg config) addr() string {
	return net.JoinHostPort(cfg.host, cfg.port)
}

// run connects and runs the console until the user quits. Returns an exit code.
func run(ctx context.Context, cfg config) int {
	if cfg.logFile != "" {
		f, err := os.OpenFile(cfg.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: open log: %v\n", err)
			return 1
		}
		defer func() { _ = f.Close() }()
		log.SetOutput(f)
	} else {
		log.SetOutput(io.Discard)
	}

	q := clientserver.NewConsoleQueues(0)
	ccfg := clientserver.DefaultClientConfig(cfg.addr())
	ccfg.MaxDialAttempts = cfg.attempts

	fmt.Fprintf(os.Stderr, "waiting for experiment at %s...\n", cfg.addr())
	client, err := clientserver.Dial(ctx, ccfg, q)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = client.Close() }()
	log.Printf("component=remote action=connected addr=%s client=%s", cfg.addr(), client.ID())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := remote.NewModel(ctx, remote.Config{Addr: cfg.addr(), Step: cfg.step}, q, client)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if m, ok := final.(remote.Model); ok {
		fmt.Fprintf(os.Stderr, "%d trials received\n", len(m.Trials()))
		if err := m.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "connection ended: %v\n", err)
		}
	}
	return 0
}
