package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ReloadDelay debounces bursts of file events into one reload.
const ReloadDelay = 500 * time.Millisecond

// Loader reads policies from files. A .rego file is one policy named after
// the file; .json, .yaml and .yml files hold a policy definition with the
// Rego inline.
type Loader struct {
	logger zerolog.Logger

	mu    sync.Mutex
	files map[string]loadedFile
}

// loadedFile is a parsed policy file, reused while the file is unchanged.
type loadedFile struct {
	modTime time.Time
	size    int64
	policy  Policy
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		files:  make(map[string]loadedFile),
	}
}

// LoadFromPaths loads the policies of each file or directory. A directory
// contributes every policy file below it in lexical order; a broken file in
// a directory is skipped with a warning, a broken file named directly is an
// error. Two files defining the same policy name are an error.
func (l *Loader) LoadFromPaths(_ context.Context, paths []string) ([]Policy, error) {
	var policies []Policy
	origin := make(map[string]string)

	add := func(p Policy) error {
		if prev, dup := origin[p.Name]; dup {
			return fmt.Errorf("policy %s is defined in both %s and %s", p.Name, prev, p.Source)
		}
		origin[p.Name] = p.Source
		policies = append(policies, p)
		return nil
	}

	for _, path := range paths {
		files, err := policyFiles(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		direct := len(files) == 1 && files[0] == path

		for _, file := range files {
			p, err := l.load(file)
			if err != nil {
				if direct {
					return nil, err
				}
				l.logger.Warn().Err(err).Str("path", file).Msg("Skipping policy file")
				continue
			}
			if err := add(p); err != nil {
				return nil, err
			}
		}
	}

	l.logger.Debug().
		Int("policies", len(policies)).
		Strs("paths", paths).
		Msg("Policies loaded")
	return policies, nil
}

// policyFiles lists the policy files a path stands for.
func policyFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isPolicyFile(p) {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// load parses one file, or returns the cached policy when the file has not
// changed since.
func (l *Loader) load(path string) (Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Policy{}, err
	}

	l.mu.Lock()
	cached, ok := l.files[path]
	l.mu.Unlock()
	if ok && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		return cached.policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}

	var p Policy
	switch filepath.Ext(path) {
	case ".rego":
		p = parseRego(path, data)
	case ".json":
		p, err = parseDefinition(data, json.Unmarshal)
	case ".yaml", ".yml":
		p, err = parseDefinition(data, yaml.Unmarshal)
	default:
		err = fmt.Errorf("unsupported policy file type %q", filepath.Ext(path))
	}
	if err != nil {
		return Policy{}, fmt.Errorf("%s: %w", path, err)
	}
	p.Source = path

	l.mu.Lock()
	l.files[path] = loadedFile{modTime: info.ModTime(), size: info.Size(), policy: p}
	l.mu.Unlock()

	l.logger.Debug().Str("path", path).Str("policy", p.Name).Msg("Policy file parsed")
	return p, nil
}

// parseRego names the policy after the file. The leading comment block is
// the description, except "severity:" and "tags:" lines.
func parseRego(path string, data []byte) Policy {
	h := readHeader(string(data))
	return Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: h.description,
		Rego:        string(data),
		Severity:    h.severity,
		Enabled:     true,
		Tags:        h.tags,
	}
}

// definition is the JSON and YAML form of a policy.
type definition struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Rego        string   `json:"rego" yaml:"rego"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Enabled     *bool    `json:"enabled" yaml:"enabled"`
	Tags        []string `json:"tags" yaml:"tags"`
}

func parseDefinition(data []byte, unmarshal func([]byte, interface{}) error) (Policy, error) {
	var def definition
	if err := unmarshal(data, &def); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy definition: %w", err)
	}
	switch {
	case def.Name == "":
		return Policy{}, fmt.Errorf("policy definition has no name")
	case def.Rego == "":
		return Policy{}, fmt.Errorf("policy %s has no rego", def.Name)
	}

	severity := def.Severity
	switch severity {
	case "":
		severity = SeverityWarning
	case SeverityInfo, SeverityWarning, SeverityError:
	default:
		return Policy{}, fmt.Errorf("policy %s has unknown severity %q", def.Name, severity)
	}

	return Policy{
		Name:        def.Name,
		Description: def.Description,
		Rego:        def.Rego,
		Severity:    severity,
		Enabled:     def.Enabled == nil || *def.Enabled,
		Tags:        def.Tags,
	}, nil
}

type regoHeader struct {
	description string
	severity    Severity
	tags        []string
}

func readHeader(content string) regoHeader {
	h := regoHeader{severity: SeverityWarning}
	var lines []string

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		comment, ok := strings.CutPrefix(line, "#")
		if !ok {
			break
		}
		comment = strings.TrimSpace(comment)

		if v, ok := strings.CutPrefix(comment, "severity:"); ok {
			switch s := Severity(strings.TrimSpace(v)); s {
			case SeverityInfo, SeverityWarning, SeverityError:
				h.severity = s
			}
			continue
		}
		if v, ok := strings.CutPrefix(comment, "tags:"); ok {
			for _, tag := range strings.Split(v, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					h.tags = append(h.tags, tag)
				}
			}
			continue
		}
		if comment != "" {
			lines = append(lines, comment)
		}
	}

	h.description = strings.Join(lines, " ")
	return h
}

// Watch calls reloadFn with the freshly loaded policies after files below
// paths change. It returns once the watcher is running; watching stops when
// ctx is done.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, path := range paths {
		if err := watchTree(watcher, path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Cannot watch policy path")
		}
	}

	go l.watchLoop(ctx, watcher, paths, reloadFn)

	l.logger.Info().Strs("paths", paths).Msg("Watching policies")
	return nil
}

// watchTree adds path, or every directory below it, to w.
func watchTree(w *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.Add(path)
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		return w.Add(p)
	})
}

func (l *Loader) watchLoop(ctx context.Context, w *fsnotify.Watcher, paths []string, reloadFn func([]Policy) error) {
	defer w.Close()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	reload := func() {
		policies, err := l.LoadFromPaths(ctx, paths)
		if err == nil {
			err = reloadFn(policies)
		}
		if err != nil {
			l.logger.Error().Err(err).Msg("Policy reload failed")
			return
		}
		l.logger.Info().Int("policies", len(policies)).Msg("Policies reloaded")
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watchTree(w, event.Name)
					continue
				}
			}
			if !isPolicyFile(event.Name) || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Policy file changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(ReloadDelay, reload)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

// Names returns the names of policies, sorted.
func Names(policies []Policy) []string {
	out := make([]string, 0, len(policies))
	for _, p := range policies {
		out = append(out, p.Name)
	}
	sort.Strings(out)
	return out
}
