package models

import "encoding/json"

// DecodeEnvelope unmarshals a response body into out, accepting both envelope
// forms the API is known to produce: `{"data": T}` and bare `T`.
func DecodeEnvelope(body []byte, out interface{}) error {
	var wrapped struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped.Data) > 0 && string(wrapped.Data) != "null" {
		return json.Unmarshal(wrapped.Data, out)
	}
	return json.Unmarshal(body, out)
}
