// ABOUTME: Registry of the studies the visigoth binary can run, keyed by name.
// ABOUTME: Each entry supplies parameter defaults, a constructor, and a simulated observer for demo runs.
package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/2389-research/visigoth/display"
	"github.com/2389-research/visigoth/experiment"
	"github.com/2389-research/visigoth/studies/dotmotion"
	"github.com/2389-research/visigoth/tracker"
)

// studyEntry describes one runnable study.
type studyEntry struct {
	defaults func() map[string]any
	build    func(win *display.Window) experiment.Study
	// observer simulates a subject for --demo runs.
	observer func(s experiment.Study, p *experiment.Params, seed uint64) tracker.Source
}

var registry = map[string]studyEntry{
	dotmotion.Name: {
		defaults: dotmotion.Defaults,
		build:    func(win *display.Window) experiment.Study { return dotmotion.New(win) },
		observer: func(s experiment.Study, p *experiment.Params, seed uint64) tracker.Source {
			return dotmotion.NewObserver(s.(*dotmotion.Study), p.FixPos, p.TargetPos, seed)
		},
	},
}

// lookupStudy returns the registry entry for name.
func lookupStudy(name string) (studyEntry, error) {
	entry, ok := registry[name]
	if !ok {
		return studyEntry{}, fmt.Errorf("unknown study %q (available: %s)", name, strings.Join(studyNames(), ", "))
	}
	return entry, nil
}

func studyNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
