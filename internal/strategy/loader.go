package strategy

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// Definition is one rule-based strategy as declared in the strategies file.
type Definition struct {
	Name        string  `yaml:"name" json:"name"`
	Entry       string  `yaml:"entry" json:"entry"`
	Exit        string  `yaml:"exit" json:"exit"`
	StopPct     float64 `yaml:"stop_pct" json:"stop_pct"`
	TakePct     float64 `yaml:"take_pct" json:"take_pct"`
	TrailingPct float64 `yaml:"trailing_pct" json:"trailing_pct"`
	Confidence  float64 `yaml:"confidence" json:"confidence"`
	Enabled     *bool   `yaml:"enabled" json:"enabled"`
}

// IsEnabled defaults to true when the flag is omitted.
func (d Definition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

type definitionFile struct {
	Strategies []Definition `yaml:"strategies"`
}

const definitionSchema = `{
  "type": "object",
  "required": ["strategies"],
  "properties": {
    "strategies": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "entry", "exit"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "entry": {"type": "string", "minLength": 1},
          "exit": {"type": "string", "minLength": 1},
          "stop_pct": {"type": "number", "minimum": 0, "maximum": 1},
          "take_pct": {"type": "number", "minimum": 0},
          "trailing_pct": {"type": "number", "minimum": 0, "maximum": 1},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1},
          "enabled": {"type": "boolean"}
        }
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("strategies.schema.json", definitionSchema)

// LoadDefinitions reads and validates a YAML strategies file.
func LoadDefinitions(path string) ([]Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading strategies file: %w", err)
	}
	return ParseDefinitions(raw)
}

// ParseDefinitions validates the document against the schema before decoding.
func ParseDefinitions(raw []byte) ([]Definition, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("strategies file is not valid YAML: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("strategies file failed schema validation: %w", err)
	}
	var file definitionFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decoding strategies file: %w", err)
	}
	seen := make(map[string]struct{}, len(file.Strategies))
	for _, def := range file.Strategies {
		key := strings.ToLower(def.Name)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate strategy name %q", def.Name)
		}
		seen[key] = struct{}{}
	}
	return file.Strategies, nil
}

// LoadEvents reads an event calendar JSON of the form
// {"events":[{"name":"ELECTION","dates":["2024-04-10", ...]}, ...]}.
func LoadEvents(path string) (*EventTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading event calendar: %w", err)
	}
	return ParseEvents(raw)
}

// ParseEvents tolerates extra fields in the calendar document; only name and
// dates are read.
func ParseEvents(raw []byte) (*EventTable, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("event calendar is not valid JSON")
	}
	table := NewEventTable()
	var parseErr error
	gjson.GetBytes(raw, "events").ForEach(func(_, entry gjson.Result) bool {
		name := entry.Get("name").String()
		if name == "" {
			parseErr = fmt.Errorf("event calendar entry missing name")
			return false
		}
		for _, d := range entry.Get("dates").Array() {
			parsed, err := time.Parse("2006-01-02", d.String())
			if err != nil {
				parseErr = fmt.Errorf("event %s has invalid date %q", name, d.String())
				return false
			}
			table.Flag(name, parsed)
		}
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return table, nil
}
