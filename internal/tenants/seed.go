package tenants

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// ReadSeed decodes a JSON array of tenants. Unknown fields are rejected so a
// typo in a seed file does not silently drop configuration.
func ReadSeed(r io.Reader) ([]Tenant, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var out []Tenant
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("tenants: decode seed: %w", err)
	}
	for i, t := range out {
		if t.ID == "" {
			return nil, fmt.Errorf("%w: seed entry %d has no id", ErrInvalidInput, i)
		}
	}
	return out, nil
}

func LoadSeedFile(path string) ([]Tenant, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadSeed(f)
}
