package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/telemetry"
)

// Format is the syntax of a workspace description.
type Format string

const (
	FormatYAML     Format = "yaml"
	FormatCUE      Format = "cue"
	FormatStarlark Format = "starlark"
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	case ".star", ".starlark", ".bzl":
		return FormatStarlark, nil
	default:
		return "", core.NewValidationError("unsupported workspace file %s: expected .yaml, .cue or .star", path)
	}
}

// Diagnostic is a located problem in a workspace file.
type Diagnostic struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	switch {
	case d.File != "" && d.Line > 0:
		return fmt.Sprintf("%s:%d:%d: %s", d.File, d.Line, d.Column, d.Message)
	case d.File != "":
		return d.File + ": " + d.Message
	default:
		return d.Message
	}
}

// ParseError reports every diagnostic found while parsing a file.
type ParseError struct {
	Format      Format
	Diagnostics []Diagnostic
}

func (e *ParseError) Code() core.ErrorCode { return core.ErrCodeValidation }

func (e *ParseError) Error() string {
	parts := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		parts[i] = d.String()
	}
	return fmt.Sprintf("failed to parse %s workspace: %s", e.Format, strings.Join(parts, "; "))
}

// Parse decodes and validates a workspace description. filename is used in
// diagnostics only.
func Parse(ctx context.Context, format Format, filename string, data []byte) (*Workspace, error) {
	ws, err := decode(ctx, format, filename, data)
	if err != nil {
		return nil, err
	}
	if err := Validate(ws); err != nil {
		return nil, err
	}
	return ws, nil
}

// decode parses data without validating it.
func decode(ctx context.Context, format Format, filename string, data []byte) (*Workspace, error) {
	switch format {
	case FormatYAML:
		return parseYAML(filename, data)
	case FormatCUE:
		return parseCUE(filename, data)
	case FormatStarlark:
		return parseStarlark(ctx, filename, data)
	default:
		return nil, core.NewValidationError("unsupported workspace format %q", format)
	}
}

// ReadFile reads, parses and validates the workspace file at path.
func ReadFile(ctx context.Context, path string) (*Workspace, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace: %w", err)
	}
	return Parse(ctx, format, path, data)
}

// Load reads the workspace file at path and builds it. Member directories
// are resolved relative to the file.
func Load(ctx context.Context, path string) (*Loaded, error) {
	log := telemetry.FromContext(ctx).NewComponentLogger("manifest")

	ws, err := ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	root, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	loaded, err := Build(ws, root)
	if err != nil {
		return nil, err
	}
	log.WithFields(map[string]interface{}{
		"path":     path,
		"members":  len(loaded.Members),
		"registry": loaded.Registry.Len(),
	}).Debug("workspace loaded")
	return loaded, nil
}
