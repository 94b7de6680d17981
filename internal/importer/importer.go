// Package importer reads translation memory and glossary files. Files are
// YAML or JSON, chosen by extension, holding either a list of entries or an
// object with an "entries" list.
package importer

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"doc-translator/internal/translator"
)

const (
	// DefaultGlossaryPriority applies when an entry has no priority.
	DefaultGlossaryPriority = 1
	// DefaultExactMatchOnly applies when an entry does not say.
	DefaultExactMatchOnly = true
)

// tmRecord is the file form of a TM entry.
type tmRecord struct {
	Source         string   `json:"source" yaml:"source"`
	Target         string   `json:"target" yaml:"target"`
	SourceLanguage string   `json:"source_language" yaml:"source_language"`
	TargetLanguage string   `json:"target_language" yaml:"target_language"`
	Quality        *float64 `json:"quality" yaml:"quality"`
	Domain         string   `json:"domain" yaml:"domain"`
	ContextBefore  string   `json:"context_before" yaml:"context_before"`
	ContextAfter   string   `json:"context_after" yaml:"context_after"`
}

// glossaryRecord is the file form of a glossary entry. Pointer fields tell
// "absent" from an explicit zero.
type glossaryRecord struct {
	Term           string `json:"term" yaml:"term"`
	Translation    string `json:"translation" yaml:"translation"`
	SourceLanguage string `json:"source_language" yaml:"source_language"`
	TargetLanguage string `json:"target_language" yaml:"target_language"`
	CaseSensitive  bool   `json:"case_sensitive" yaml:"case_sensitive"`
	ExactMatchOnly *bool  `json:"exact_match_only" yaml:"exact_match_only"`
	Priority       *int   `json:"priority" yaml:"priority"`
	Definition     string `json:"definition" yaml:"definition"`
	Notes          string `json:"notes" yaml:"notes"`
	Domain         string `json:"domain" yaml:"domain"`
}

// Defaults fill language fields missing from a file.
type Defaults struct {
	SourceLanguage string
	TargetLanguage string
}

// LoadTM reads TM entries from path.
func LoadTM(path string, d Defaults) ([]translator.TMEntry, error) {
	var records []tmRecord
	if err := load(path, &records); err != nil {
		return nil, err
	}
	out := make([]translator.TMEntry, 0, len(records))
	for i, r := range records {
		if strings.TrimSpace(r.Source) == "" || r.Target == "" {
			return nil, errors.Errorf("%s: entry %d needs source and target", path, i+1)
		}
		e := translator.TMEntry{
			SourceText:     r.Source,
			TargetText:     r.Target,
			SourceLanguage: orDefault(r.SourceLanguage, d.SourceLanguage),
			TargetLanguage: orDefault(r.TargetLanguage, d.TargetLanguage),
			Domain:         r.Domain,
			ContextBefore:  r.ContextBefore,
			ContextAfter:   r.ContextAfter,
		}
		if r.Quality != nil {
			if *r.Quality <= 0 || *r.Quality > 1 {
				return nil, errors.Errorf("%s: entry %d has quality %v outside (0, 1]", path, i+1, *r.Quality)
			}
			e.QualityScore = *r.Quality
		}
		if e.TargetLanguage == "" {
			return nil, errors.Errorf("%s: entry %d has no target language", path, i+1)
		}
		out = append(out, e)
	}
	return out, nil
}

// LoadGlossary reads glossary entries from path.
func LoadGlossary(path string, d Defaults) ([]translator.GlossaryEntry, error) {
	var records []glossaryRecord
	if err := load(path, &records); err != nil {
		return nil, err
	}
	out := make([]translator.GlossaryEntry, 0, len(records))
	for i, r := range records {
		if r.Term == "" || r.Translation == "" {
			return nil, errors.Errorf("%s: entry %d needs term and translation", path, i+1)
		}
		e := translator.GlossaryEntry{
			SourceTerm:     r.Term,
			TargetTerm:     r.Translation,
			SourceLanguage: orDefault(r.SourceLanguage, d.SourceLanguage),
			TargetLanguage: orDefault(r.TargetLanguage, d.TargetLanguage),
			CaseSensitive:  r.CaseSensitive,
			ExactMatchOnly: DefaultExactMatchOnly,
			Priority:       DefaultGlossaryPriority,
			Definition:     r.Definition,
			Notes:          r.Notes,
			Domain:         r.Domain,
		}
		if r.ExactMatchOnly != nil {
			e.ExactMatchOnly = *r.ExactMatchOnly
		}
		if r.Priority != nil {
			e.Priority = *r.Priority
		}
		if e.TargetLanguage == "" {
			return nil, errors.Errorf("%s: entry %d has no target language", path, i+1)
		}
		out = append(out, e)
	}
	return out, nil
}

// load decodes path into v, a pointer to a slice.
func load(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.Errorf("%s is empty", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if data[0] == '{' {
			return errors.Wrapf(decodeJSONWrapper(data, v), "parse %s", path)
		}
		return errors.Wrapf(json.Unmarshal(data, v), "parse %s", path)
	case ".yaml", ".yml":
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return errors.Wrapf(err, "parse %s", path)
		}
		root := &node
		if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
			root = root.Content[0]
		}
		if root.Kind == yaml.MappingNode {
			var w struct {
				Entries yaml.Node `yaml:"entries"`
			}
			if err := root.Decode(&w); err != nil {
				return errors.Wrapf(err, "parse %s", path)
			}
			if w.Entries.Kind == 0 {
				return errors.Errorf(`parse %s: missing "entries" list`, path)
			}
			root = &w.Entries
		}
		return errors.Wrapf(root.Decode(v), "parse %s", path)
	default:
		return errors.Errorf("%s: unsupported file type, use .yaml, .yml or .json", path)
	}
}

func decodeJSONWrapper(data []byte, v interface{}) error {
	var w struct {
		Entries json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if len(w.Entries) == 0 {
		return errors.New(`missing "entries" list`)
	}
	return json.Unmarshal(w.Entries, v)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
