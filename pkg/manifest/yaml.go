package manifest

import (
	"bytes"
	"errors"
	"io"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

var yamlLineRe = regexp.MustCompile(`line (\d+)`)

func parseYAML(filename string, data []byte) (*Workspace, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var ws Workspace
	if err := dec.Decode(&ws); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ParseError{Format: FormatYAML, Diagnostics: []Diagnostic{{File: filename, Message: "empty workspace file"}}}
		}
		return nil, &ParseError{Format: FormatYAML, Diagnostics: yamlDiagnostics(filename, err)}
	}
	return &ws, nil
}

func yamlDiagnostics(filename string, err error) []Diagnostic {
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		out := make([]Diagnostic, 0, len(typeErr.Errors))
		for _, msg := range typeErr.Errors {
			out = append(out, Diagnostic{File: filename, Line: yamlLine(msg), Message: msg})
		}
		return out
	}
	return []Diagnostic{{File: filename, Line: yamlLine(err.Error()), Message: err.Error()}}
}

func yamlLine(msg string) int {
	m := yamlLineRe.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// MarshalYAML renders ws in the YAML workspace format.
func MarshalYAML(ws *Workspace) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(ws); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
