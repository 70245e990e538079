// Package config loads and validates the engine configuration.
//
// The file format is YAML, validated against an embedded CUE schema
// before unmarshalling so option typos and out-of-range values fail at
// startup rather than as silent misbehavior.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Duration is a time.Duration that unmarshals from YAML strings like
// "3s" or "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds every recognized option.
type Config struct {
	// OutputAt selects cousin or child output mode.
	OutputAt string `yaml:"outputAt"`
	// HighlightHeading seeds newly created cousin containers.
	HighlightHeading string `yaml:"highlightHeading"`
	// AppendHighlight appends new display nodes; false prepends.
	AppendHighlight bool `yaml:"appendHighlight"`
	// BreadcrumbAttribute names the attribute stamped on activated
	// affordances.
	BreadcrumbAttribute string `yaml:"breadcrumbAttribute"`
	// ColorHighlights enables color propagation on updated events.
	ColorHighlights bool `yaml:"colorHighlights"`
	// CopyBlockRef puts a node reference on the clipboard after an
	// added event; false copies the raw content.
	CopyBlockRef bool `yaml:"copyBlockRef"`
	// SortLabel is the sort-affordance label.
	SortLabel string `yaml:"sortLabel"`
	// AliasGlyph and TextGlyph enable the replacement affordances;
	// empty disables them.
	AliasGlyph string `yaml:"aliasGlyph"`
	TextGlyph  string `yaml:"textGlyph"`
	// MinViewerHeight is passed through to embedding hosts.
	MinViewerHeight int `yaml:"minViewerHeight"`
	// CitationFormat is a template with ${Citekey} and ${page}
	// placeholders; empty disables citations.
	CitationFormat string `yaml:"citationFormat"`
	// BlockquotePrefix is "", ">", or "[[>]]".
	BlockquotePrefix string `yaml:"blockquotePrefix"`

	// DisplayGrace and SurfaceGrace are the deletion-watcher waits.
	DisplayGrace Duration `yaml:"displayGrace"`
	SurfaceGrace Duration `yaml:"surfaceGrace"`
	// PanelCooldown coalesces repeated panel-open requests per target.
	PanelCooldown Duration `yaml:"panelCooldown"`

	// ActivationThreshold is the intersection ratio above which an
	// armed affordance activates; LookaheadMargin extends the viewing
	// region in the scroll direction.
	ActivationThreshold float64 `yaml:"activationThreshold"`
	LookaheadMargin     int     `yaml:"lookaheadMargin"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		OutputAt:            "cousin",
		HighlightHeading:    "**Highlights**",
		AppendHighlight:     true,
		BreadcrumbAttribute: "Title",
		ColorHighlights:     true,
		CopyBlockRef:        true,
		SortLabel:           "sort them all!",
		AliasGlyph:          "✳",
		TextGlyph:           "T",
		MinViewerHeight:     900,
		CitationFormat:      "",
		BlockquotePrefix:    "",
		DisplayGrace:        Duration(3 * time.Second),
		SurfaceGrace:        Duration(1 * time.Second),
		PanelCooldown:       Duration(500 * time.Millisecond),
		ActivationThreshold: 0.25,
		LookaheadMargin:     500,
	}
}

// Load reads, validates, and unmarshals a config file. An empty path
// returns Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := Validate(raw); err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks raw YAML against the embedded schema. An empty
// document is valid: every option has a default.
func Validate(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	if err := cueyaml.Validate(raw, schema); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}
