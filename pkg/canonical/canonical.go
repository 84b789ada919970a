// Package canonical provides deterministic serialization and hashing for
// oracle state. Proof state hashes and adapter source fingerprints are
// SHA-384 digests over the RFC 8785 canonical JSON form of their inputs.
package canonical

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/gowebpki/jcs"
)

// Canonicalize returns the canonical JSON representation of v.
//
// Rules:
// 1. Object keys are sorted by UTF-16 code units, as RFC 8785 specifies.
// 2. Array order is preserved.
// 3. Non-finite numbers (NaN, ±Inf) in maps, slices and scalars become 0.
// 4. No insignificant whitespace, no HTML escaping.
//
// Struct fields are not rewritten by rule 3: a non-finite number held in
// a struct makes Canonicalize return an error.
func Canonicalize(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(sanitize(reflect.ValueOf(v)))
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	out, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return out, nil
}

// Hash returns the lowercase hex SHA-384 digest of the canonical form of v.
func Hash(v interface{}) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the SHA-384 hash of raw bytes as a lowercase hex string.
func HashBytes(data []byte) string {
	sum := sha512.Sum384(data)
	return hex.EncodeToString(sum[:])
}

// sanitize rebuilds maps, slices and floats so that non-finite numbers
// become 0 before marshaling. json.Marshal rejects NaN/Inf outright, and
// the oracle needs a total function over anything an adapter hands back.
// Structs and remaining scalars pass through to json.Marshal untouched.
func sanitize(rv reflect.Value) interface{} {
	if !rv.IsValid() {
		return nil
	}
	switch rv.Kind() {
	case reflect.Interface, reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		return sanitize(rv.Elem())
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return float64(0)
		}
		return f
	case reflect.Map:
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprintf("%v", iter.Key().Interface())] = sanitize(iter.Value())
		}
		return out
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = sanitize(rv.Index(i))
		}
		return out
	default:
		return rv.Interface()
	}
}
