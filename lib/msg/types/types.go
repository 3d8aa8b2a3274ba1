// Package types defines the messages exchanged between the provider and its host.
package types

import "encoding/json"

// OutboundMessage is a provider request forwarded to the host. Its JSON encoding is the unit crossing the boundary.
type OutboundMessage struct {
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ChainID string        `json:"chainId"` // chain selected when the request was sent
}

// Host call operations.
const (
	OpResolve    = "resolve"
	OpReject     = "reject"
	OpInitialize = "initialize"
	OpEvent      = "event"
)

// HostCall is a host to provider invocation travelling over a broker or HTTP.
type HostCall struct {
	Op      string          `json:"op"`
	ID      string          `json:"id,omitempty"`      // resolve, reject
	Result  json.RawMessage `json:"result,omitempty"`  // resolve
	Error   string          `json:"error,omitempty"`   // reject
	ChainID string          `json:"chainId,omitempty"` // initialize
	Address string          `json:"address,omitempty"` // initialize
	Event   string          `json:"event,omitempty"`   // event
	Payload json.RawMessage `json:"payload,omitempty"` // event
}
