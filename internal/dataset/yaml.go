package dataset

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Dataset is the on-disk YAML form of one annotated episode.
type Dataset struct {
	Username string   `yaml:"username,omitempty"`
	GUID     string   `yaml:"guid"`
	Title    string   `yaml:"title"`
	Hosts    []string `yaml:"hosts,omitempty"`
	Topics   []Topic  `yaml:"topics,omitempty"`
}

type Topic struct {
	Name      string    `yaml:"name"`
	Start     Timestamp `yaml:"start"`
	End       Timestamp `yaml:"end,omitempty"`
	Ad        Flag      `yaml:"ad"`
	Community Flag      `yaml:"community"`
	Subtopics []string  `yaml:"subtopics,omitempty"`
}

// Timestamp keeps the raw scalar text of a timecode. An unquoted 45 and a
// quoted "00:00:45" both arrive as text; parsing happens in the codec so
// errors carry the topic they belong to.
type Timestamp string

func (t *Timestamp) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: timecode must be a scalar", node.Line)
	}
	if node.Tag == "!!null" {
		*t = ""
		return nil
	}
	*t = Timestamp(strings.TrimSpace(node.Value))
	return nil
}

// Flag accepts YAML booleans and the strings "true"/"false"; an explicit
// null reads as false. It is written
// back as a string, matching datasets produced by earlier exports.
type Flag bool

func (f *Flag) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: flag must be a scalar", node.Line)
	}
	if node.Tag == "!!null" {
		*f = false
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(node.Value)) {
	case "true":
		*f = true
	case "false":
		*f = false
	default:
		return fmt.Errorf("line %d: invalid flag value %q", node.Line, node.Value)
	}
	return nil
}

func (f Flag) MarshalYAML() (any, error) {
	if f {
		return "true", nil
	}
	return "false", nil
}

// Parse decodes a single dataset document.
func Parse(data []byte) (Dataset, error) {
	var ds Dataset
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&ds); err != nil {
		return Dataset{}, fmt.Errorf("invalid dataset yaml: %w", err)
	}
	return ds, nil
}

// Marshal renders ds as a YAML document.
func Marshal(ds Dataset) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(ds); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
