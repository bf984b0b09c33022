// Package codec encodes snapshots and views into the JSON wire format.
package codec

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"eidolon/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSON is the snapshot encoder used by the broadcaster and the HTTP API.
type JSON struct{}

// Encode renders a full snapshot.
func (JSON) Encode(s model.Snapshot) ([]byte, error) {
	return Marshal(FromSnapshot(s))
}

// Marshal renders any wire value.
func Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal %T: %w", v, err)
	}
	return b, nil
}

// DecodeSnapshot parses a wire snapshot, as received by subscribers.
func DecodeSnapshot(payload []byte) (SnapshotDTO, error) {
	var dto SnapshotDTO
	if err := json.Unmarshal(payload, &dto); err != nil {
		return SnapshotDTO{}, fmt.Errorf("codec: decode snapshot: %w", err)
	}
	return dto, nil
}
