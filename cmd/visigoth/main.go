// ABOUTME: CLI entrypoint for the visigoth experiment runner.
// ABOUTME: Wires params, the terminal display, tracker, keyboard, persistence, console streaming, and the status API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/2389-research/visigoth/display"
	"github.com/2389-research/visigoth/experiment"
	"github.com/2389-research/visigoth/keyboard"
	"github.com/2389-research/visigoth/report"
	"github.com/2389-research/visigoth/store"
	"github.com/2389-research/visigoth/tracker"
	"github.com/2389-research/visigoth/web"

	"gopkg.in/yaml.v3"
)

var version = "dev"

// config holds all CLI configuration parsed from flags and positional arguments.
type config struct {
	study        string
	paramsFile   string
	paramSet     string
	sets         []string
	subject      string
	session      string
	run          int
	displayName  string
	refreshError *float64
	calibrate    bool
	demo         bool
	gazeNoise    float64
	blinkRate    float64
	headless     bool
	dataDir      string
	nosave       bool
	serverAddr   string
	httpAddr     string
	debug        bool
	showVersion  bool
}

func main() {
	loadDotEnv(".env")

	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Printf("visigoth %s\n", version)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, cfg)
	stop()
	os.Exit(code)
}

// parseFlags parses args into a config. Usage goes to stderr.
func parseFlags(args []string, stderr io.Writer) (config, error) {
	var cfg config

	fs := flag.NewFlagSet("visigoth", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.study, "study", "dotmotion", "Study to run")
	fs.StringVar(&cfg.paramSet, "set", "", "Parameter set from the params file")
	fs.Func("p", "Override a parameter as key=value", func(s string) error {
		if _, _, err := parseOverride(s); err != nil {
			return err
		}
		cfg.sets = append(cfg.sets, s)
		return nil
	})
	fs.StringVar(&cfg.subject, "s", "", "Subject id")
	fs.StringVar(&cfg.session, "session", "", "Session id")
	fs.IntVar(&cfg.run, "r", 0, "Run number")
	fs.StringVar(&cfg.displayName, "display-name", "", "Display profile name")
	fs.Func("refresh-error", "Allowed refresh rate mismatch in Hz", func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		cfg.refreshError = &v
		return nil
	})
	fs.BoolVar(&cfg.calibrate, "calibrate", false, "Run tracker calibration first")
	fs.BoolVar(&cfg.demo, "demo", false, "Drive gaze from a simulated observer")
	fs.Float64Var(&cfg.gazeNoise, "gaze-noise", 0.1, "Demo gaze jitter SD in degrees")
	fs.Float64Var(&cfg.blinkRate, "blink-rate", 0, "Demo blink probability per sample")
	fs.BoolVar(&cfg.headless, "headless", false, "Do not draw to the terminal")
	fs.StringVar(&cfg.dataDir, "data-dir", envOr("VISIGOTH_DATA_DIR", ""), "Run data directory")
	fs.BoolVar(&cfg.nosave, "nosave", false, "Do not write run data")
	fs.StringVar(&cfg.serverAddr, "server", envOr("VISIGOTH_SERVER", ""), "Remote console listen address")
	fs.StringVar(&cfg.httpAddr, "http", envOr("VISIGOTH_HTTP", ""), "Status API listen address")
	fs.BoolVar(&cfg.debug, "debug", false, "Debug logging")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	fs.Usage = func() {
		printHelp(stderr, version)
	}

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 1 {
		fmt.Fprintf(stderr, "error: expected at most one params file, got %d arguments\n", fs.NArg())
		return cfg, fmt.Errorf("too many arguments")
	}
	if fs.NArg() == 1 {
		cfg.paramsFile = fs.Arg(0)
	}
	return cfg, nil
}

// parseOverride splits key=value and decodes value as YAML, so numbers,
// booleans, and lists keep their types.
func parseOverride(s string) (string, any, error) {
	key, raw, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, fmt.Errorf("override %q: want key=value", s)
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return "", nil, fmt.Errorf("override %q: %w", s, err)
	}
	if v == nil && strings.TrimSpace(raw) == "" {
		v = ""
	}
	return key, v, nil
}

// overrides collects the command-line parameter overrides. Dedicated flags
// win over -p for the same key.
func (cfg config) overrides() (map[string]any, error) {
	out := map[string]any{}
	for _, s := range cfg.sets {
		k, v, err := parseOverride(s)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	if cfg.subject != "" {
		out["subject"] = cfg.subject
	}
	if cfg.session != "" {
		out["session"] = cfg.session
	}
	if cfg.run > 0 {
		out["run"] = cfg.run
	}
	if cfg.displayName != "" {
		out["display_name"] = cfg.displayName
	}
	if cfg.refreshError != nil {
		out["refresh_error"] = *cfg.refreshError
	}
	return out, nil
}

// defaults layers the CLI's own defaults over the study's. A raw terminal
// swallows SIGINT, so ctrl+c also aborts.
func defaults(entry studyEntry, demo bool) map[string]any {
	d := entry.defaults()
	d["abort_keys"] = []any{"escape", "ctrl+c"}
	if demo {
		d["ack_timeout"] = 5.0
	}
	return d
}

// loadParams builds the merged run parameters.
func loadParams(cfg config, entry studyEntry) (*experiment.Params, error) {
	overrides, err := cfg.overrides()
	if err != nil {
		return nil, err
	}
	opts := experiment.LoadOptions{
		Defaults:  defaults(entry, cfg.demo),
		Set:       cfg.paramSet,
		Overrides: overrides,
	}
	if cfg.paramsFile != "" {
		return experiment.LoadParams(cfg.paramsFile, opts)
	}
	return experiment.BuildParams(nil, opts)
}

// demoSource adds measurement jitter and blinks to the simulated observer.
func demoSource(cfg config, observer tracker.Source, seed uint64) tracker.Source {
	if cfg.gazeNoise <= 0 && cfg.blinkRate <= 0 {
		return observer
	}
	return tracker.NewNoisy(observer, max(cfg.gazeNoise, 0), max(cfg.blinkRate, 0), seed+1)
}

// run builds and executes one experiment run. Returns an exit code.
func run(ctx context.Context, cfg config) int {
	entry, err := lookupStudy(cfg.study)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	p, err := loadParams(cfg, entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	dataDir, err := resolveDataDir(cfg.dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not resolve data dir: %v\n", err)
	}
	closeLog := setupLogging(cfg, dataDir)
	defer closeLog()

	runID := experiment.NewRunID()
	screen := io.Writer(os.Stdout)
	if cfg.headless {
		screen = nil
	}

	win, err := display.New(display.Config{RefreshHz: p.Display.RefreshHz, Out: screen})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	study := entry.build(win)

	tcfg := tracker.Config{CalibrationTime: 2 * time.Second}
	if cfg.demo {
		seed := uint64(time.Now().UnixNano())
		tcfg.Source = demoSource(cfg, entry.observer(study, p, seed), seed)
	} else {
		tcfg.Source = tracker.Fixed(experiment.Missing())
		if p.EyeFixation || p.EyeResponse {
			log.Printf("component=main action=no_gaze_source eye_fixation=%t eye_response=%t", p.EyeFixation, p.EyeResponse)
		}
	}
	if !cfg.nosave && dataDir != "" {
		tcfg.LogPath = filepath.Join(dataDir, "eyedata", runID+".csv")
	}
	eye := tracker.New(tcfg)

	kb, err := keyboard.Open(os.Stdin, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = kb.Close() }()

	persisters, idx, closeStore := buildPersisters(cfg, dataDir)
	defer closeStore()

	var exp *experiment.Experiment
	var status *web.Server
	if cfg.httpAddr != "" {
		wcfg := web.ServerConfig{
			Addr: cfg.httpAddr,
			Console: func() web.ConsoleStatus {
				link := exp.ConsoleLink()
				return web.ConsoleStatus{Connected: link.Connected, ConnectionID: link.ConnID, PendingTrials: link.PendingTrials}
			},
			Gaze: func() web.GazeStatus {
				gp := exp.GazeParams()
				return web.GazeStatus{XOffset: gp.XOffset, YOffset: gp.YOffset, FixWindow: gp.FixWindow}
			},
		}
		if idx != nil {
			wcfg.Index = idx
		}
		status = web.NewServer(wcfg)
	}

	exp, err = experiment.New(experiment.Config{
		Params:       p,
		Study:        study,
		Display:      win,
		Tracker:      eye,
		Keyboard:     kb,
		Feedback:     &display.Feedback{Out: screen},
		Presenter:    display.TextScreen{Out: screen},
		Persisters:   persisters,
		ServerAddr:   cfg.serverAddr,
		Calibrate:    cfg.calibrate,
		EventHandler: eventHandler(cfg, status),
		RunID:        runID,
		Debug:        cfg.debug,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if status != nil {
		srv := status.HTTPServer()
		go func() {
			log.Printf("component=main action=http_listen addr=%s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("component=main action=http_failed err=%v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	data, err := exp.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "\r\nerror: %v\r\n", err)
		return 1
	}
	if data.Summary != nil {
		for _, line := range data.Summary.Lines() {
			fmt.Fprintf(os.Stderr, "%s\r\n", line)
		}
	}
	reportAccuracy(context.Background(), os.Stderr, idx, data.Study, p.Subject)
	if data.Err != "" {
		fmt.Fprintf(os.Stderr, "run %s failed: %s\r\n", data.ID, data.Err)
		return 1
	}
	if data.Aborted {
		fmt.Fprintf(os.Stderr, "run %s aborted after %d trials\r\n", data.ID, len(data.Trials))
	}
	return 0
}

// buildPersisters returns the run persisters, the run index when one could
// be opened, and a function closing any that hold resources. With -nosave
// nothing is persisted.
func buildPersisters(cfg config, dataDir string) ([]experiment.Persister, *store.SqliteIndex, func()) {
	if cfg.nosave || dataDir == "" {
		return nil, nil, func() {}
	}
	root := filepath.Join(dataDir, "data")
	persisters := []experiment.Persister{store.Files{Root: root}, report.Report{Root: root}}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Printf("component=main action=index_disabled err=%v", err)
		return persisters, nil, func() {}
	}
	idx, err := store.OpenSqlite(filepath.Join(dataDir, "index.db"))
	if err != nil {
		log.Printf("component=main action=index_disabled err=%v", err)
		return persisters, nil, func() {}
	}
	return append(persisters, idx), idx, func() { _ = idx.Close() }
}

// reportAccuracy prints the subject's accuracy over every indexed run of
// the study, the one just finished included.
func reportAccuracy(ctx context.Context, w io.Writer, idx *store.SqliteIndex, study, subject string) {
	if idx == nil {
		return
	}
	acc, n, err := idx.Accuracy(ctx, study, subject)
	if err != nil {
		log.Printf("component=main action=accuracy_failed study=%s subject=%s err=%v", study, subject, err)
		return
	}
	if n == 0 {
		return
	}
	fmt.Fprintf(w, "%s accuracy for %s across runs: %.1f%% (%d scored trials)\r\n", study, subject, 100*acc, n)
}

// eventHandler logs controller events in debug mode and feeds the status API.
func eventHandler(cfg config, status *web.Server) func(experiment.Event) {
	return func(evt experiment.Event) {
		if cfg.debug {
			log.Printf("component=main action=event type=%s trial=%d state=%s", evt.Type, evt.Trial, evt.State)
		}
		if status != nil {
			status.HandleEvent(evt)
		}
	}
}

// setupLogging sends logs to a file when the terminal is used for drawing.
func setupLogging(cfg config, dataDir string) func() {
	flags := log.LstdFlags | log.Lmicroseconds
	if cfg.debug {
		flags |= log.Lshortfile
	}
	log.SetFlags(flags)
	if cfg.headless || dataDir == "" {
		return func() {}
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.SetOutput(io.Discard)
		return func() {}
	}
	f, err := os.OpenFile(filepath.Join(dataDir, "visigoth.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.SetOutput(io.Discard)
		return func() {}
	}
	log.SetOutput(f)
	return func() {
		log.SetOutput(os.Stderr)
		_ = f.Close()
	}
}
