// Package fpcache implements the Fingerprint Value Cache: a content-addressed
// cache that lets the engine deduplicate identical committed values across
// keys and across processes, keyed by a canonical-JSON fingerprint rather
// than by the originating Key (spec.md section 4.5).
package fpcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Fingerprint is a content hash of a value's canonical JSON encoding,
// namespaced by a Distinguisher. Equal values with equal distinguishers
// always produce equal fingerprints, regardless of map key order or which
// node produced them.
type Fingerprint string

// Compute canonicalizes value's JSON encoding (sorted object keys,
// independent of encoding/json's incidental map order) and returns its
// fingerprint along with the canonical bytes, so callers can reuse them as
// the payload to store without re-marshaling.
func Compute(value any, dist Distinguisher) (Fingerprint, []byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", nil, fmt.Errorf("fpcache: marshal value: %w", err)
	}
	canon, err := canonicalize(raw)
	if err != nil {
		return "", nil, err
	}
	h := sha256.New()
	h.Write([]byte(dist))
	h.Write([]byte{0})
	h.Write(canon)
	return Fingerprint(hex.EncodeToString(h.Sum(nil))), canon, nil
}

// canonicalize re-serializes raw JSON with every object's keys sorted, so
// the byte representation depends only on content, never on map
// iteration order. Arrays keep their order, since element order is
// semantically significant.
func canonicalize(raw []byte) ([]byte, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("fpcache: invalid JSON payload")
	}
	return canonicalizeValue(gjson.ParseBytes(raw))
}

func canonicalizeValue(v gjson.Result) ([]byte, error) {
	switch {
	case v.IsArray():
		out := []byte("[]")
		idx := 0
		var err error
		v.ForEach(func(_, elem gjson.Result) bool {
			var child []byte
			child, err = canonicalizeValue(elem)
			if err != nil {
				return false
			}
			out, err = sjson.SetRawBytes(out, strconv.Itoa(idx), child)
			idx++
			return err == nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil

	case v.IsObject():
		keys := make([]string, 0)
		children := make(map[string][]byte)
		var err error
		v.ForEach(func(k, elem gjson.Result) bool {
			child, childErr := canonicalizeValue(elem)
			if childErr != nil {
				err = childErr
				return false
			}
			name := k.String()
			keys = append(keys, name)
			children[name] = child
			return true
		})
		if err != nil {
			return nil, err
		}
		sort.Strings(keys)
		out := []byte("{}")
		for _, name := range keys {
			out, err = sjson.SetRawBytes(out, name, children[name])
			if err != nil {
				return nil, err
			}
		}
		return out, nil

	default:
		// Scalar (string, number, bool, null): gjson's raw text is already
		// canonical for our purposes.
		return []byte(v.Raw), nil
	}
}
