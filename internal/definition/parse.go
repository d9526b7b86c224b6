// Package definition loads gate and workflow-template definitions authored
// on disk.
//
// A definition file holds a Bundle: a list of gates and a list of
// templates. Files ending in .yaml or .yml are YAML; .json and .jsonc are
// JSON, where .jsonc may also carry // and /* */ comments and trailing
// commas.
//
// The typical flow:
//
//  1. ReadFile or ReadDir: file bytes -> Bundle
//  2. Validate: structural checks, returning human-readable issues
//  3. GateDef.Gate: a definition -> gate.Gate ready for gate.Manager.Create
package definition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/hookline/internal/gate"
	"github.com/Iron-Ham/hookline/internal/molecule"
)

// Format is the encoding of a definition file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Bundle is the content of one definition file.
type Bundle struct {
	Gates     []GateDef           `yaml:"gates" json:"gates"`
	Templates []molecule.Template `yaml:"templates" json:"templates"`
}

// GateDef describes a gate. Policy names a preset ("disabled",
// "auto_checks_only", "strict" or "lenient"); MinConfidence is the
// lenient threshold.
type GateDef struct {
	ID            string           `yaml:"id" json:"id"`
	Name          string           `yaml:"name" json:"name"`
	Description   string           `yaml:"description,omitempty" json:"description,omitempty"`
	OwnerRole     string           `yaml:"owner_role,omitempty" json:"owner_role,omitempty"`
	PipelineStage string           `yaml:"pipeline_stage,omitempty" json:"pipeline_stage,omitempty"`
	Criteria      []gate.Criterion `yaml:"criteria" json:"criteria"`
	Policy        string           `yaml:"policy,omitempty" json:"policy,omitempty"`
	MinConfidence float64          `yaml:"min_confidence,omitempty" json:"min_confidence,omitempty"`
	// TimeoutSeconds bounds a whole evaluation.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	// Notify overrides the preset's notify-on-auto-approve setting.
	Notify *bool `yaml:"notify_on_auto_approve,omitempty" json:"notify_on_auto_approve,omitempty"`
}

// Gate converts d into a gate ready to be created.
func (d GateDef) Gate() (gate.Gate, error) {
	p, err := gate.PolicyByName(d.Policy, d.MinConfidence)
	if err != nil {
		return gate.Gate{}, err
	}
	p.TimeoutSeconds = d.TimeoutSeconds
	if d.Notify != nil {
		p.NotifyOnAutoApprove = *d.Notify
	}
	return gate.Gate{
		ID:            d.ID,
		Name:          d.Name,
		Description:   d.Description,
		OwnerRole:     d.OwnerRole,
		PipelineStage: d.PipelineStage,
		Criteria:      slices.Clone(d.Criteria),
		Policy:        p,
	}, nil
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json", ".jsonc":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported definition file %s (want .yaml, .yml, .json or .jsonc)", path)
	}
}

// Parse decodes data in the given format. JSON input may be JSONC.
// Unknown fields are rejected.
func Parse(data []byte, format Format) (*Bundle, error) {
	var b Bundle
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&b); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing definition: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&b); err != nil {
			return nil, fmt.Errorf("parsing definition: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown definition format %q", format)
	}
	return &b, nil
}

// ReadFile reads and parses one definition file.
func ReadFile(path string) (*Bundle, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	b, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// ReadDir merges every definition file directly inside dir, in lexical
// order. Files with other extensions are ignored.
func ReadDir(dir string) (*Bundle, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	merged := &Bundle{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if _, err := FormatFromPath(path); err != nil {
			continue
		}
		b, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		merged.Gates = append(merged.Gates, b.Gates...)
		merged.Templates = append(merged.Templates, b.Templates...)
	}
	return merged, nil
}

// NameFromPath strips the directory and extension from path.
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
