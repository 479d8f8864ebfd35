package output

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// YAMLFormatter formats views as YAML.
type YAMLFormatter struct{}

// FormatChannels formats the channel overview as a YAML sequence.
func (f *YAMLFormatter) FormatChannels(channels []ChannelStatus) (string, error) {
	if len(channels) == 0 {
		return "", nil
	}
	return marshalYAML(channels, "channels")
}

// FormatPools formats storages as a YAML sequence.
func (f *YAMLFormatter) FormatPools(pools []PoolView) (string, error) {
	if len(pools) == 0 {
		return "", nil
	}
	return marshalYAML(pools, "storages")
}

// FormatProfile formats a storage profile as a YAML document.
func (f *YAMLFormatter) FormatProfile(profile ProfileView) (string, error) {
	return marshalYAML(profile, "profile")
}

// FormatRun formats a run report as a YAML document.
func (f *YAMLFormatter) FormatRun(run *RunReport) (string, error) {
	return marshalYAML(run, "run report")
}

func marshalYAML(v any, what string) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s to YAML: %w", what, err)
	}
	return string(data), nil
}
