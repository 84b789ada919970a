package adapters

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestEntry describes one adapter in the manifest file.
type ManifestEntry struct {
	ID          string  `yaml:"id"`
	Type        string  `yaml:"type"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	Source      string  `yaml:"source,omitempty"`
	Price       float64 `yaml:"price,omitempty"`
	Fingerprint string  `yaml:"fingerprint,omitempty"`
}

// Manifest is the adapter set a flora agrees on. The fingerprints are
// the registry entries committed to by every proof's state hash.
type Manifest struct {
	Entity   string          `yaml:"entity"`
	Adapters []ManifestEntry `yaml:"adapters"`
}

// LoadManifest reads the YAML adapter manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("adapters: read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes and validates manifest bytes.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("adapters: parse manifest: %w", err)
	}
	if m.Entity == "" {
		m.Entity = "HBAR-USD"
	}
	if len(m.Adapters) == 0 {
		return nil, fmt.Errorf("adapters: manifest lists no adapters")
	}
	seen := map[string]bool{}
	for _, e := range m.Adapters {
		if e.ID == "" || e.Type == "" {
			return nil, fmt.Errorf("adapters: manifest entry missing id/type")
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("adapters: duplicate adapter id %q", e.ID)
		}
		seen[e.ID] = true
	}
	return &m, nil
}

// Fingerprints returns the adapterId -> fingerprint map the proofs carry.
func (m *Manifest) Fingerprints() map[string]string {
	out := make(map[string]string, len(m.Adapters))
	for _, e := range m.Adapters {
		out[e.ID] = e.Fingerprint
	}
	return out
}

// Build instantiates the adapter set, in manifest order.
func (m *Manifest) Build(timeout time.Duration) ([]Adapter, error) {
	client := &http.Client{Timeout: timeout}
	out := make([]Adapter, 0, len(m.Adapters))
	for _, e := range m.Adapters {
		switch e.Type {
		case "binance":
			out = append(out, NewBinanceAdapter(e.ID, m.Entity, e.BaseURL, client))
		case "coingecko":
			out = append(out, NewCoinGeckoAdapter(e.ID, m.Entity, e.BaseURL, client))
		case "mirror-rate":
			out = append(out, NewMirrorRateAdapter(e.ID, m.Entity, e.BaseURL, client))
		case "fixed":
			source := e.Source
			if source == "" {
				source = e.ID
			}
			out = append(out, NewFixedAdapter(e.ID, m.Entity, source, e.Price))
		default:
			return nil, fmt.Errorf("adapters: unknown adapter type %q", e.Type)
		}
	}
	return out, nil
}
