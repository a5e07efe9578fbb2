package storage

import (
	"encoding/json"
	"fmt"
)

// SchemePlainJSON marks an envelope whose Data is an unencrypted JSON
// document.
const SchemePlainJSON = "plain-json"

// Envelope wraps a stored record with a format version and a scheme tag so
// the record layout can evolve without breaking older readers.
type Envelope struct {
	Ver     int    `json:"ver"`
	Scheme  string `json:"scheme"`
	Data    []byte `json:"data"`
	Version uint64 `json:"version,omitempty"`
}

// SealJSON marshals v into a plain-json envelope carrying the given
// record version.
func SealJSON(v any, version uint64) (*Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling record: %w", err)
	}
	return &Envelope{Ver: 1, Scheme: SchemePlainJSON, Data: data, Version: version}, nil
}

// OpenJSON unmarshals a plain-json envelope into v.
func OpenJSON(env *Envelope, v any) error {
	if env == nil {
		return fmt.Errorf("nil envelope")
	}
	if env.Scheme != SchemePlainJSON {
		return fmt.Errorf("unsupported envelope scheme %q", env.Scheme)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("unmarshaling record: %w", err)
	}
	return nil
}
