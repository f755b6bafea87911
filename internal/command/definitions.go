package command

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Definition is one command descriptor as written in a device's
// command table.
//
// Missing optional keys take their documented defaults (read and write
// false, wire_type raw). Unknown keys in the YAML are ignored.
type Definition struct {
	// Name is the command's unique name, taken from the table key.
	Name string `yaml:"-"`

	// Opcode is the base payload token (a URL, a protocol code).
	Opcode string `yaml:"opcode"`

	// Read/Write declare the command's capabilities.
	Read  bool `yaml:"read"`
	Write bool `yaml:"write"`

	// PlatformType is the platform-side type tag, carried as metadata
	// with published values.
	PlatformType string `yaml:"platform_type"`

	// WireType selects the datatype converter (raw when empty).
	WireType string `yaml:"wire_type"`

	// ReadTemplate/WriteTemplate override the opcode for the
	// respective direction. Tokens: $C (opcode), $P:key: (device
	// parameter), $V (outgoing value).
	ReadTemplate  string `yaml:"read_template"`
	WriteTemplate string `yaml:"write_template"`

	// ReplyExtraction drills into structured replies before the
	// converter coerces the extracted leaf.
	ReplyExtraction []string `yaml:"reply_extraction"`

	// ExtraParams is a nested tree of additional payload fields.
	// String scalars receive value substitution.
	ExtraParams map[string]any `yaml:"extra_params"`

	// ValueBounds restricts write values; out-of-bounds writes are
	// aborted.
	ValueBounds *Bounds `yaml:"value_bounds"`

	// ReplyPattern is a regular expression used to attribute
	// unattributed push data to this command.
	ReplyPattern string `yaml:"reply_pattern"`

	// Kind overrides the device's default command variant.
	Kind string `yaml:"kind"`
}

// tableFile is the on-disk shape of a command table.
type tableFile struct {
	Commands map[string]Definition `yaml:"commands"`
}

// LoadDefinitions reads a device command table from a YAML file.
//
// The table maps command names to descriptors:
//
//	commands:
//	  temperature:
//	    opcode: "http://$P:host:/api/temp"
//	    read: true
//	    wire_type: number
//	    reply_extraction: [data, value]
//
// Definitions are returned sorted by name; registry order carries no
// semantics.
//
// Parameters:
//   - path: Path to the YAML command table
//
// Returns:
//   - []Definition: Parsed definitions with names filled in
//   - error: If the file cannot be read or parsed
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading command table: %w", err)
	}

	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing command table: %w", err)
	}

	defs := make([]Definition, 0, len(file.Commands))
	for name, def := range file.Commands {
		def.Name = name
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	return defs, nil
}
