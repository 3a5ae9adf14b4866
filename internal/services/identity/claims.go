package identity

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
)

// DecodeClaims decodes a JWT payload, keeping numbers as json.Number so
// large numeric subjects survive unchanged.
func DecodeClaims(payload []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var claims map[string]any
	if err := dec.Decode(&claims); err != nil {
		return nil, err
	}
	if claims == nil {
		return nil, errors.New("payload is not a JSON object")
	}
	return claims, nil
}

// NumericDate reads a NumericDate claim as whole seconds.
func NumericDate(claims map[string]any, name string) (int64, bool) {
	switch v := claims[name].(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
		f, err := v.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return int64(f), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
