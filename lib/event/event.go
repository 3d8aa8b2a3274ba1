// Package event implements the provider event dispatcher: named event channels holding ordered listener lists, with
// replay of the current state to new subscribers of some event kinds.
//
// Listener invocations never happen inside Subscribe or Publish: they are posted to a Scheduler (the page loop), so
// they run one at a time and in posting order.
package event

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/tarancss/dappbridge/lib/metrics"
	"github.com/tarancss/dappbridge/lib/state"
	"github.com/tarancss/dappbridge/lib/util"
)

// Kind names an event channel.
type Kind string

// Event kinds recognised by the provider.
const (
	AccountsChanged Kind = "accountsChanged"
	ChainChanged    Kind = "chainChanged"
	Connect         Kind = "connect"
	Disconnect      Kind = "disconnect"
	RequestError    Kind = "requestError"
)

var kinds = []string{ //nolint:gochecknoglobals // fixed set
	string(AccountsChanged), string(ChainChanged), string(Connect), string(Disconnect), string(RequestError),
}

// ParseKind returns the Kind for name and whether it is recognised.
func ParseKind(name string) (Kind, bool) {
	if !util.In(kinds, name) {
		return "", false
	}

	return Kind(name), true
}

// ConnectInfo is the payload of connect events.
type ConnectInfo struct {
	ChainID string `json:"chainId"`
}

// Listener is a subscriber callback. Listeners are compared by pointer, so the same *Listener subscribed twice is
// called twice and removed one registration at a time.
type Listener struct {
	fn func(payload interface{})
}

// NewListener wraps fn in a Listener.
func NewListener(fn func(payload interface{})) *Listener {
	return &Listener{fn: fn}
}

// sub is one registration of a listener.
type sub struct {
	l *Listener
}

// Scheduler runs tasks later, in posting order.
type Scheduler interface {
	Post(f func()) error
}

// StateReader gives access to the current provider state.
type StateReader interface {
	Get() state.State
}

// Dispatcher keeps the listeners of each event kind.
type Dispatcher struct {
	mu    sync.Mutex
	subs  map[Kind][]*sub
	sched Scheduler
	st    StateReader
	log   zerolog.Logger
}

// New returns a dispatcher with an empty listener list for every kind.
func New(sched Scheduler, st StateReader, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		subs:  make(map[Kind][]*sub, len(kinds)),
		sched: sched,
		st:    st,
		log:   log,
	}
	for _, k := range kinds {
		d.subs[Kind(k)] = nil
	}

	return d
}

// Subscribe appends l to the listeners of kind; unknown kinds are ignored. New chainChanged listeners always get the
// current chain id replayed on the next tick; accountsChanged and connect listeners only when an address is
// selected.
func (d *Dispatcher) Subscribe(kind Kind, l *Listener) {
	if l == nil {
		return
	}

	d.mu.Lock()
	list, ok := d.subs[kind]
	if !ok {
		d.mu.Unlock()
		d.log.Debug().Str("event", string(kind)).Msg("ignoring subscription to unknown event")

		return
	}
	s := &sub{l: l}
	d.subs[kind] = append(list, s)
	d.mu.Unlock()

	switch kind {
	case ChainChanged:
		d.replay(kind, s)
	case AccountsChanged, Connect:
		if d.st.Get().Connected() {
			d.replay(kind, s)
		}
	case Disconnect, RequestError:
	}
}

// Unsubscribe removes the first registration of l for kind.
func (d *Dispatcher) Unsubscribe(kind Kind, l *Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.subs[kind]
	for i, s := range list {
		if s.l == l {
			d.subs[kind] = append(list[:i:i], list[i+1:]...)

			return
		}
	}
}

// Publish schedules the delivery of payload to the current listeners of kind, in registration order. A listener
// that panics is logged and skipped; the others still run.
func (d *Dispatcher) Publish(kind Kind, payload interface{}) {
	d.mu.Lock()
	list, ok := d.subs[kind]
	snapshot := make([]*Listener, 0, len(list))

	for _, s := range list {
		snapshot = append(snapshot, s.l)
	}
	d.mu.Unlock()

	if !ok {
		return
	}

	metrics.RecordEvent(string(kind))
	d.log.Debug().Str("event", string(kind)).Interface("payload", payload).Int("listeners", len(snapshot)).
		Msg("publishing event")

	if len(snapshot) == 0 {
		return
	}

	if err := d.sched.Post(func() {
		for _, l := range snapshot {
			d.invoke(kind, l, payload)
		}
	}); err != nil {
		d.log.Warn().Err(err).Str("event", string(kind)).Msg("cannot schedule event delivery")
	}
}

// Count returns the number of registrations for kind.
func (d *Dispatcher) Count(kind Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.subs[kind])
}

// replay schedules one delivery of the current state to the registration s. Membership and state are read when the
// task runs: a registration removed in between gets nothing.
func (d *Dispatcher) replay(kind Kind, s *sub) {
	if err := d.sched.Post(func() {
		if !d.subscribed(kind, s) {
			return
		}

		st := d.st.Get()

		var payload interface{}

		switch kind {
		case ChainChanged:
			payload = st.ChainID
		case AccountsChanged:
			if !st.Connected() {
				return
			}
			payload = []string{st.SelectedAddress}
		case Connect:
			if !st.Connected() {
				return
			}
			payload = ConnectInfo{ChainID: st.ChainID}
		case Disconnect, RequestError:
			return
		}

		d.invoke(kind, s.l, payload)
	}); err != nil {
		d.log.Warn().Err(err).Str("event", string(kind)).Msg("cannot schedule event replay")
	}
}

func (d *Dispatcher) subscribed(kind Kind, s *sub) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, x := range d.subs[kind] {
		if x == s {
			return true
		}
	}

	return false
}

func (d *Dispatcher) invoke(kind Kind, l *Listener, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordListenerPanic(string(kind))
			d.log.Error().Interface("panic", r).Str("event", string(kind)).Msg("event listener failed")
		}
	}()

	l.fn(payload)
}
