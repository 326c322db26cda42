package duckdb

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Params holds DuckDB-specific configuration.
// Parsed from adapter.Config.Params using mapstructure.
type Params struct {
	// Threads caps DuckDB worker threads (0 leaves the engine default).
	Threads int `mapstructure:"threads"`

	// MemoryLimit such as "512MB".
	MemoryLimit string `mapstructure:"memory_limit"`

	// Settings applied at session level after connect.
	Settings map[string]string `mapstructure:"settings"`
}

func parseParams(raw map[string]any) (*Params, error) {
	p := &Params{}
	if len(raw) == 0 {
		return p, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           p,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid duckdb params: %w", err)
	}
	return p, nil
}

// statements returns the SET statements implied by the params, in a stable order.
func (p *Params) statements() []string {
	var out []string
	if p.Threads > 0 {
		out = append(out, fmt.Sprintf("SET threads = %d", p.Threads))
	}
	if p.MemoryLimit != "" {
		out = append(out, fmt.Sprintf("SET memory_limit = '%s'", escapeLiteral(p.MemoryLimit)))
	}
	for _, k := range sortedKeys(p.Settings) {
		out = append(out, fmt.Sprintf("SET %s = '%s'", k, escapeLiteral(p.Settings[k])))
	}
	return out
}
