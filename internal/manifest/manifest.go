// Package manifest turns command-line inputs into the ordered payload list a
// run is seeded with.
package manifest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Sources names every place payloads can come from. They are combined in
// field order: Args, then Globs, then Files.
type Sources struct {
	Args  []string
	Globs []string
	Files []string
}

// Collect resolves every source and removes duplicates, keeping the first
// occurrence.
func Collect(src Sources) ([]string, error) {
	var all []string
	all = append(all, src.Args...)
	for _, pattern := range src.Globs {
		matches, err := Glob(pattern)
		if err != nil {
			return nil, err
		}
		all = append(all, matches...)
	}
	for _, path := range src.Files {
		items, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
	}
	return Dedupe(all), nil
}

// Glob returns the sorted matches of pattern.
func Glob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}

type yamlManifest struct {
	Items []string `yaml:"items"`
}

// LoadFile reads payloads from path. Files ending in .yaml or .yml hold
// either a list of strings or a mapping with an "items" list; anything else is
// read as one payload per line, skipping blank lines and # comments.
func LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read items file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		items, err := parseYAML(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return items, nil
	default:
		return parseLines(data)
	}
}

func parseYAML(data []byte) ([]string, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var items []string
		if err := root.Decode(&items); err != nil {
			return nil, err
		}
		return trimAll(items), nil
	case yaml.MappingNode:
		var m yamlManifest
		if err := root.Decode(&m); err != nil {
			return nil, err
		}
		return trimAll(m.Items), nil
	default:
		return nil, errors.New("expected a list of items or a mapping with an items key")
	}
}

func parseLines(data []byte) ([]string, error) {
	var items []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		items = append(items, line)
	}
	return items, scanner.Err()
}

func trimAll(items []string) []string {
	out := items[:0]
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Dedupe drops repeated payloads, keeping the first occurrence.
func Dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
