// Package canonical implements canonical JSON encoding used for digest
// computation: object keys are sorted recursively, arrays keep their
// given order, and the result is byte-stable across re-encodings of the
// same logical value.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

// Marshal produces the canonical JSON encoding of v. v is first passed
// through encoding/json so arbitrary structs and maps are accepted, then
// recursively re-sorted and re-encoded with no insignificant whitespace.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "canonical: marshal input")
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, errors.Wrap(err, "canonical: decode to generic value")
	}
	var buf bytes.Buffer
	if err := encode(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Digest returns the SHA-256 digest of the canonical encoding of v.
func Digest(v interface{}) ([32]byte, error) {
	canon, err := Marshal(v)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(canon), nil
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return errors.Wrap(err, "canonical: encode key")
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return errors.Wrap(err, "canonical: encode scalar")
		}
		buf.Write(b)
	}
	return nil
}
