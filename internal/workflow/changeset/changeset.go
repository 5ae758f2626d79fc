// Package changeset decides whether a freshly fetched workflow definition
// differs from the last stored snapshot.
package changeset

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/flowvault/flowvault/internal/workflow/domain/model"
)

// Changed reports whether the fresh definition differs from the latest stored
// version. A nil latest always reports changed (bootstrap). Comparison is
// structural and insensitive to object key ordering, so upstream key
// reordering never triggers a false snapshot.
func Changed(latest *model.WorkflowVersion, fresh json.RawMessage) (bool, error) {
	if latest == nil {
		return true, nil
	}

	stored, err := decode(latest.Payload)
	if err != nil {
		return false, fmt.Errorf("failed to decode stored payload: %w", err)
	}

	incoming, err := decode(fresh)
	if err != nil {
		return false, fmt.Errorf("failed to decode fetched payload: %w", err)
	}

	return !reflect.DeepEqual(stored, incoming), nil
}

// Checksum returns the hex SHA-256 of the canonical encoding of a payload.
// Two payloads that differ only in key order share a checksum.
func Checksum(payload json.RawMessage) (string, error) {
	value, err := decode(payload)
	if err != nil {
		return "", fmt.Errorf("failed to decode payload: %w", err)
	}

	canonical, err := encodeCanonical(value)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// decode unmarshals into the generic JSON value tree. json.Unmarshal maps
// objects to map[string]interface{}, which erases key order.
func decode(raw json.RawMessage) (interface{}, error) {
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// encodeCanonical renders a decoded JSON value with object keys sorted so the
// encoding is stable across key orderings.
func encodeCanonical(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			valJSON, err := encodeCanonical(v[k])
			if err != nil {
				return nil, err
			}
			out = append(out, keyJSON...)
			out = append(out, ':')
			out = append(out, valJSON...)
		}
		return append(out, '}'), nil
	case []interface{}:
		out := []byte{'['}
		for i, item := range v {
			if i > 0 {
				out = append(out, ',')
			}
			itemJSON, err := encodeCanonical(item)
			if err != nil {
				return nil, err
			}
			out = append(out, itemJSON...)
		}
		return append(out, ']'), nil
	default:
		return json.Marshal(v)
	}
}
