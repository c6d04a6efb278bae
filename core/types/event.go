package types

// Event is the wire shape consumed by downstream indexers. Attribute values
// are pre-rendered strings so the payload stays stable across encoders.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
