// ABOUTME: Help display for the visigoth CLI with grouped flags, examples, and environment defaults.
// ABOUTME: Lists the registered studies so operators can see what a binary can run.
package main

import (
	"fmt"
	"io"
	"strings"
)

// printHelp writes the usage message to w.
func printHelp(w io.Writer, ver string) {
	fmt.Fprintf(w, "visigoth %s - psychophysics experiment runner\n", ver)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  visigoth [flags] [params.yaml]")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Run Flags:")
	fmt.Fprintln(w, "  -study <name>          Study to run (default: dotmotion)")
	fmt.Fprintln(w, "  -set <name>            Parameter set from the params file (unique prefix allowed)")
	fmt.Fprintln(w, "  -p key=value           Override a parameter; value is parsed as YAML (repeatable)")
	fmt.Fprintln(w, "  -s <subject>           Subject id")
	fmt.Fprintln(w, "  -session <id>          Session id")
	fmt.Fprintln(w, "  -r <n>                 Run number")
	fmt.Fprintln(w, "  -display-name <name>   Display profile from the params file")
	fmt.Fprintln(w, "  -refresh-error <hz>    Allowed refresh rate mismatch")
	fmt.Fprintln(w, "  -calibrate             Run tracker calibration before the first trial")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Simulation:")
	fmt.Fprintln(w, "  -demo                  Drive gaze from a simulated observer")
	fmt.Fprintln(w, "  -gaze-noise <deg>      Demo gaze jitter SD (default: 0.1, 0 disables)")
	fmt.Fprintln(w, "  -blink-rate <p>        Demo blink probability per sample (default: 0)")
	fmt.Fprintln(w, "  -headless              Do not draw to the terminal")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Output:")
	fmt.Fprintln(w, "  -data-dir <dir>        Run data directory (default: $XDG_DATA_HOME/visigoth)")
	fmt.Fprintln(w, "  -nosave                Do not write run data")
	fmt.Fprintln(w, "  -server <addr>         Stream to a remote console on addr (e.g. :50001)")
	fmt.Fprintln(w, "  -http <addr>           Serve run status over HTTP on addr")
	fmt.Fprintln(w, "  -debug                 Log file and line, and per-frame timing")
	fmt.Fprintln(w, "  -version               Print version and exit")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Studies:")
	fmt.Fprintf(w, "  %s\n", strings.Join(studyNames(), ", "))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  visigoth -demo -s s01")
	fmt.Fprintln(w, "  visigoth -s s01 -r 2 -set train params.yaml")
	fmt.Fprintln(w, "  visigoth -demo -headless -p n_trials=5 -http 127.0.0.1:8321")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  VISIGOTH_SERVER        Default for -server")
	fmt.Fprintln(w, "  VISIGOTH_HTTP          Default for -http")
	fmt.Fprintln(w, "  VISIGOTH_DATA_DIR      Default for -data-dir")
}
