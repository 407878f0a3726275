package scraper

import (
	"encoding/json"
	"fmt"
)

// decodeAuthConfig unmarshals a WebSource's AuthConfig into a flat string
// map. Both cookie and header auth configs are simple key/value pairs on
// the wire; basic auth stores "username"/"password" keys.
func decodeAuthConfig(raw json.RawMessage) (map[string]string, error) {
	if len(raw) == 0 {
		return map[string]string{}, nil
	}
	var cfg map[string]string
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("scraper: decode auth config: %w", err)
	}
	return cfg, nil
}
