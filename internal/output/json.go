package output

import (
	"encoding/json"
	"fmt"
)

// JSONFormatter formats views as JSON.
type JSONFormatter struct{}

// FormatChannels formats the channel overview as a JSON array.
func (f *JSONFormatter) FormatChannels(channels []ChannelStatus) (string, error) {
	if len(channels) == 0 {
		return "[]\n", nil
	}
	return marshalJSON(channels, "channels")
}

// FormatPools formats storages as a JSON array.
func (f *JSONFormatter) FormatPools(pools []PoolView) (string, error) {
	if len(pools) == 0 {
		return "[]\n", nil
	}
	return marshalJSON(pools, "storages")
}

// FormatProfile formats a storage profile as a JSON object.
func (f *JSONFormatter) FormatProfile(profile ProfileView) (string, error) {
	return marshalJSON(profile, "profile")
}

// FormatRun formats a run report as a JSON object.
func (f *JSONFormatter) FormatRun(run *RunReport) (string, error) {
	return marshalJSON(run, "run report")
}

func marshalJSON(v any, what string) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s to JSON: %w", what, err)
	}
	return string(data) + "\n", nil
}
