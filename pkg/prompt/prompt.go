// Package prompt selects and assembles the instruction modules that make up
// the system prompt for one turn.
//
// Selection runs in two stages. SelectBase picks modules from a Matrix by
// conversation level, intensity gates and condition rules. ApplyFrontMatter
// then gates every candidate on its own YAML front matter, interpolates
// {{ DEC.<field> }} placeholders, orders, deduplicates and splits footers.
// Both stages are deterministic for identical inputs.
package prompt

import (
	"errors"
)

// Sentinel errors.
var (
	// ErrModuleNotFound is returned by a strict catalog for missing modules.
	ErrModuleNotFound = errors.New("prompt: module not found")
)

// Debug sources.
const (
	SourceBase        = "base"
	SourceIntensity   = "intensity"
	SourceRule        = "rule"
	SourceFrontMatter = "front_matter"
	SourceDedupe      = "dedupe"
	SourceIntent      = "intent"
	SourceFooter      = "footer"
)

// DebugEntry records why a module was activated or excluded.
type DebugEntry struct {
	ID        string   `json:"id"`
	Source    string   `json:"source"`
	Activated bool     `json:"activated"`
	Threshold *int     `json:"threshold,omitempty"`
	Rule      string   `json:"rule,omitempty"`
	Signals   []string `json:"signals,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Candidate is a module loaded from a Catalog.
type Candidate struct {
	Name   string      `msgpack:"name"`
	Text   string      `msgpack:"text"`
	Meta   FrontMatter `msgpack:"meta"`
	Tokens int         `msgpack:"tokens"`
}

// Prepared is a module that passed gating, with placeholders resolved.
type Prepared struct {
	Name string
	Text string
	Meta FrontMatter
}
