package scripting

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// annotation matches a leading-comment attribute line:
//
//	// @tool name="note.search" description="find notes"
//	// @hook event="FileChanged" pattern="*.md" priority=10
var annotationRe = regexp.MustCompile(`^//\s*@(tool|hook)\s+(.*)$`)
var attrRe = regexp.MustCompile(`(\w+)="([^"]*)"|(\w+)=(\d+)`)

// ParseManifest extracts tool/hook declarations from a script's leading
// annotation comments without compiling or executing the script body,
// per spec §4.11's "discovery parses attributes without executing the
// script body."
func ParseManifest(path, source string) (*Manifest, error) {
	m := &Manifest{Path: path, Source: source}
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		match := annotationRe.FindStringSubmatch(trimmed)
		if match == nil {
			continue
		}
		attrs := parseAttrs(match[2])
		switch match[1] {
		case "tool":
			m.Tools = append(m.Tools, ToolDecl{
				Name:        attrs["name"],
				Description: attrs["description"],
			})
		case "hook":
			priority, _ := strconv.Atoi(attrs["priority"])
			m.Hooks = append(m.Hooks, HookDecl{
				EventType: attrs["event"],
				Pattern:   attrs["pattern"],
				Priority:  priority,
			})
		}
	}
	return m, nil
}

func parseAttrs(s string) map[string]string {
	out := make(map[string]string)
	for _, m := range attrRe.FindAllStringSubmatch(s, -1) {
		if m[1] != "" {
			out[m[1]] = m[2]
		} else if m[3] != "" {
			out[m[3]] = m[4]
		}
	}
	return out
}

// LoadManifest reads path and parses its manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	m, err := ParseManifest(path, string(data))
	if err != nil {
		return nil, err
	}
	m.ModTime = info.ModTime()
	return m, nil
}

// DiscoverDir loads every *.script file directly under dir (spec.md's
// `.kiln/handlers` convention).
func DiscoverDir(dir string) ([]*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []*Manifest
	for _, ent := range entries {
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".script" {
			continue
		}
		m, err := LoadManifest(filepath.Join(dir, ent.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
