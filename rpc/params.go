package rpc

import (
	"bytes"
	"encoding/json"
)

// jsonUnmarshalStrict decodes params while rejecting unknown fields, so a
// typoed parameter fails loudly instead of silently defaulting.
func jsonUnmarshalStrict(data []byte, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
