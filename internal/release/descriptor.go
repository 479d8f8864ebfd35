package release

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Default endpoint templates. {channel}, {version} and {file} are substituted.
const (
	DefaultMetadataPrimary  = "https://version.home-assistant.io/{channel}.json"
	DefaultMetadataFallback = "https://raw.githubusercontent.com/home-assistant/version/main/{channel}.json"
	DefaultReleaseURL       = "https://github.com/home-assistant/operating-system/releases/download/{version}/{file}"
	DefaultDevURL           = "https://os-artifacts.home-assistant.io/{version}/{file}"
)

// Endpoints holds the metadata and artifact URL templates.
type Endpoints struct {
	MetadataPrimary  string `yaml:"primary,omitempty"`
	MetadataFallback string `yaml:"fallback,omitempty"`
	ReleaseURL       string `yaml:"release,omitempty"`
	DevURL           string `yaml:"dev,omitempty"`
}

// DefaultEndpoints returns the vendor's published endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		MetadataPrimary:  DefaultMetadataPrimary,
		MetadataFallback: DefaultMetadataFallback,
		ReleaseURL:       DefaultReleaseURL,
		DevURL:           DefaultDevURL,
	}
}

// WithDefaults fills unset templates from DefaultEndpoints.
func (e Endpoints) WithDefaults() Endpoints {
	d := DefaultEndpoints()
	if e.MetadataPrimary == "" {
		e.MetadataPrimary = d.MetadataPrimary
	}
	if e.MetadataFallback == "" {
		e.MetadataFallback = d.MetadataFallback
	}
	if e.ReleaseURL == "" {
		e.ReleaseURL = d.ReleaseURL
	}
	if e.DevURL == "" {
		e.DevURL = d.DevURL
	}
	return e
}

// Descriptor identifies one downloadable artifact and where it is cached.
type Descriptor struct {
	Channel   Channel `json:"channel" yaml:"channel"`
	Version   string  `json:"version" yaml:"version"`
	URL       string  `json:"url" yaml:"url"`
	CachePath string  `json:"cachePath" yaml:"cachePath"`
}

// FileName returns the artifact basename, which is also the cache key.
func (d Descriptor) FileName() string {
	return filepath.Base(d.CachePath)
}

// ImageName returns the name of the decompressed image.
func (d Descriptor) ImageName() string {
	return strings.TrimSuffix(d.FileName(), ".xz")
}

// ArtifactFileName returns the compressed image basename for a version.
func ArtifactFileName(version string) string {
	return fmt.Sprintf("haos_ova-%s.qcow2.xz", version)
}

// NewDescriptor derives the descriptor for channel and version. The dev
// channel is served from the artifact host; stable and beta from release
// assets.
func NewDescriptor(endpoints Endpoints, channel Channel, version, cacheDir string) (Descriptor, error) {
	if err := ValidateVersion(version); err != nil {
		return Descriptor{}, err
	}
	if cacheDir == "" {
		return Descriptor{}, fmt.Errorf("cache directory is required")
	}
	endpoints = endpoints.WithDefaults()

	tmpl := endpoints.ReleaseURL
	if channel == ChannelDev {
		tmpl = endpoints.DevURL
	}

	file := ArtifactFileName(version)
	raw := expand(tmpl, channel, version, file)
	u, err := url.Parse(raw)
	if err != nil {
		return Descriptor{}, fmt.Errorf("invalid artifact URL %q: %w", raw, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return Descriptor{}, fmt.Errorf("artifact URL %q must be http(s)", raw)
	}

	return Descriptor{
		Channel:   channel,
		Version:   version,
		URL:       u.String(),
		CachePath: filepath.Join(cacheDir, file),
	}, nil
}

func expand(tmpl string, channel Channel, version, file string) string {
	r := strings.NewReplacer(
		"{channel}", string(channel),
		"{version}", version,
		"{file}", file,
	)
	return r.Replace(tmpl)
}
