package melody

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var errNull = errors.New("null value")

// decodeStrict unmarshals raw into v, rejecting JSON null, which
// encoding/json would otherwise silently accept as the zero value.
func decodeStrict[T any](raw json.RawMessage, v *T) error {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return errNull
	}
	return json.Unmarshal(raw, v)
}

// decodeTuple splits a JSON array into exactly n raw elements.
func decodeTuple(raw json.RawMessage, n int) ([]json.RawMessage, error) {
	var parts []json.RawMessage
	if err := decodeStrict(raw, &parts); err != nil {
		return nil, err
	}
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d fields, got %d", n, len(parts))
	}
	return parts, nil
}
