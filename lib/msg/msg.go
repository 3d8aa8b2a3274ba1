// Package msg defines the interface for different message brokers carrying provider requests to the host and host
// calls back to the provider.
package msg

import (
	"sync"

	"github.com/tarancss/dappbridge/lib/msg/types"
)

// Outbound is the one-way channel from the provider to the host. It takes a serialized OutboundMessage.
type Outbound interface {
	PostMessage(msg string) error
}

// MsgBroker is a message broker able to serve both sides of the bridge.
type MsgBroker interface {
	Setup(interface{}) error
	Close() error

	// methods for provider service
	PostMessage(msg string) error
	SendLog(line string) error
	GetCalls(mut *sync.Mutex) (<-chan types.HostCall, <-chan error, error)

	// methods for host service
	GetRequests(mut *sync.Mutex) (<-chan types.OutboundMessage, <-chan error, error)
	GetLogs(mut *sync.Mutex) (<-chan string, error)
	SendCall(c types.HostCall) error
}
