package types

// Event is the wire representation of a state change, carried to RPC
// subscribers and off-chain indexers as a type tag plus string attributes.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
