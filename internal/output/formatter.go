// Package output provides formatters for displaying release channels,
// storages and provisioning results in various formats (table, YAML, JSON).
package output

import (
	"fmt"
)

// Format represents an output format type.
type Format string

const (
	// FormatTable is a human-readable table format.
	FormatTable Format = "table"
	// FormatYAML is a YAML format for scripts and configs.
	FormatYAML Format = "yaml"
	// FormatJSON is a JSON format for machine consumption.
	FormatJSON Format = "json"
)

// Formatter formats kiln views for output.
type Formatter interface {
	// FormatChannels formats the release channel overview.
	FormatChannels(channels []ChannelStatus) (string, error)

	// FormatPools formats the host's storages.
	FormatPools(pools []PoolView) (string, error)

	// FormatProfile formats the disk profile of a storage.
	FormatProfile(profile ProfileView) (string, error)

	// FormatRun formats the outcome of a provisioning run.
	FormatRun(run *RunReport) (string, error)
}

// Options contains options for formatting output.
type Options struct {
	// Format specifies the output format.
	Format Format
	// NoHeaders omits headers in table format.
	NoHeaders bool
}

// NewFormatter creates a new Formatter based on the specified format.
func NewFormatter(opts Options) (Formatter, error) {
	switch opts.Format {
	case FormatTable:
		return &TableFormatter{NoHeaders: opts.NoHeaders}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, yaml, json)", opts.Format)
	}
}

// ValidateFormat checks if a format string is valid.
func ValidateFormat(format string) error {
	f := Format(format)
	switch f {
	case FormatTable, FormatYAML, FormatJSON:
		return nil
	default:
		return fmt.Errorf("invalid format: %s (valid formats: table, yaml, json)", format)
	}
}
