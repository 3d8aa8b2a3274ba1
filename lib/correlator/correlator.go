// Package correlator matches requests forwarded to the host with the completions the host sends back later.
//
// Each forwarded request is kept in a pending table under a fresh id until the host calls Resolve or Reject for that
// id. There is no cancellation: a request the host never completes stays pending, unless a timeout was configured
// with WithTimeout. The table is unbounded.
package correlator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tarancss/dappbridge/lib/metrics"
	"github.com/tarancss/dappbridge/lib/msg"
	"github.com/tarancss/dappbridge/lib/msg/types"
	"github.com/tarancss/dappbridge/lib/state"
)

// Errors delivered to callers.
var (
	ErrChannelUnavailable = errors.New("outbound channel unavailable")
	ErrBadResult          = errors.New("host result could not be decoded")
	ErrRequestTimeout     = errors.New("request timed out waiting for host")
	ErrClosed             = errors.New("correlator closed")
)

// HostError is a failure reported by the host for a request.
type HostError struct {
	ID      string
	Message string
}

func (e *HostError) Error() string {
	return e.Message
}

// Result is the eventual outcome of a request.
type Result struct {
	Value interface{}
	Err   error
}

// StateReader gives access to the current provider state.
type StateReader interface {
	Get() state.State
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithTimeout expires pending requests after d with ErrRequestTimeout. Zero or negative keeps them forever.
func WithTimeout(d time.Duration) Option {
	return func(c *Correlator) {
		c.timeout = d
	}
}

// WithClock replaces the clock ids are derived from.
func WithClock(now func() time.Time) Option {
	return func(c *Correlator) {
		c.now = now
	}
}

type request struct {
	id     string
	method string
	res    chan Result
	timer  *time.Timer
}

// Correlator forwards requests through an outbound channel and resolves them on host completion.
type Correlator struct {
	mu      sync.Mutex
	out     msg.Outbound
	st      StateReader
	pending map[string]*request
	last    int64
	now     func() time.Time
	timeout time.Duration
	log     zerolog.Logger
}

// New returns a correlator posting to out. out may be nil, in which case every request fails with
// ErrChannelUnavailable.
func New(out msg.Outbound, st StateReader, log zerolog.Logger, opts ...Option) *Correlator {
	c := &Correlator{
		out:     out,
		st:      st,
		pending: make(map[string]*request),
		now:     time.Now,
		log:     log,
	}
	for _, o := range opts {
		o(c)
	}

	return c
}

// Send forwards method and params to the host. The returned channel receives exactly one Result.
func (c *Correlator) Send(method string, params []interface{}) <-chan Result {
	res := make(chan Result, 1)

	if c.out == nil {
		metrics.RecordCompletion(metrics.Unavailable)
		c.log.Error().Str("method", method).Msg("outbound channel not defined")
		res <- Result{Err: ErrChannelUnavailable}

		return res
	}

	if params == nil {
		params = []interface{}{}
	}

	c.mu.Lock()
	r := &request{id: c.nextID(), method: method, res: res}
	c.pending[r.id] = r
	if c.timeout > 0 {
		id := r.id
		r.timer = time.AfterFunc(c.timeout, func() { c.expire(id) })
	}
	n := len(c.pending)
	c.mu.Unlock()
	metrics.SetPending(n)

	m := types.OutboundMessage{ID: r.id, Method: method, Params: params, ChainID: c.st.Get().ChainID}

	b, err := json.Marshal(m)
	if err == nil {
		err = c.out.PostMessage(string(b))
	}

	if err != nil {
		if c.take(r.id) != nil {
			metrics.RecordCompletion(metrics.Unavailable)
			c.log.Error().Err(err).Str("id", r.id).Str("method", method).Msg("cannot forward request to host")
			res <- Result{Err: fmt.Errorf("%w: %v", ErrChannelUnavailable, err)}
		}

		return res
	}

	c.log.Debug().Str("id", r.id).Str("method", method).Interface("params", params).Str("chainId", m.ChainID).
		Msg("request sent to host")

	return res
}

// Resolve completes request id with raw. A string, []byte or json.RawMessage is JSON decoded once first; other
// values are delivered as they are. Unknown or already completed ids are ignored and false is returned.
func (c *Correlator) Resolve(id string, raw interface{}) bool {
	r := c.take(id)
	if r == nil {
		metrics.RecordCompletion(metrics.Unknown)
		c.log.Debug().Str("id", id).Msg("resolve for unknown request")

		return false
	}

	v, err := decode(raw)
	if err != nil {
		metrics.RecordCompletion(metrics.BadResult)
		c.log.Warn().Err(err).Str("id", id).Str("method", r.method).Msg("cannot decode host result")
		r.res <- Result{Err: fmt.Errorf("%w: %v", ErrBadResult, err)}

		return true
	}

	metrics.RecordCompletion(metrics.Resolved)
	c.log.Debug().Str("id", id).Str("method", r.method).Msg("request resolved")
	r.res <- Result{Value: v}

	return true
}

// Reject fails request id with the host message. Unknown or already completed ids are ignored and false is returned.
func (c *Correlator) Reject(id, message string) bool {
	r := c.take(id)
	if r == nil {
		metrics.RecordCompletion(metrics.Unknown)
		c.log.Debug().Str("id", id).Msg("reject for unknown request")

		return false
	}

	metrics.RecordCompletion(metrics.Rejected)
	c.log.Debug().Str("id", id).Str("method", r.method).Str("error", message).Msg("request rejected")
	r.res <- Result{Err: &HostError{ID: id, Message: message}}

	return true
}

// Pending returns the number of outstanding requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// Close fails every outstanding request with ErrClosed.
func (c *Correlator) Close() {
	c.mu.Lock()
	all := c.pending
	c.pending = make(map[string]*request)
	c.mu.Unlock()

	for _, r := range all {
		if r.timer != nil {
			r.timer.Stop()
		}
		metrics.RecordCompletion(metrics.Closed)
		r.res <- Result{Err: ErrClosed}
	}
	metrics.SetPending(0)
}

// nextID derives an id from the nanosecond clock. Ids strictly increase, so an id is never shared by two outstanding
// requests even when the clock stalls. Must be called with mu held.
func (c *Correlator) nextID() string {
	n := c.now().UnixNano()
	if n <= c.last {
		n = c.last + 1
	}
	c.last = n

	return strconv.FormatInt(n, 10)
}

// take removes and returns request id, or nil if it is not pending.
func (c *Correlator) take(id string) *request {
	c.mu.Lock()
	r, ok := c.pending[id]
	delete(c.pending, id)
	n := len(c.pending)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	metrics.SetPending(n)

	return r
}

func (c *Correlator) expire(id string) {
	r := c.take(id)
	if r == nil {
		return
	}

	metrics.RecordCompletion(metrics.Timeout)
	c.log.Warn().Str("id", id).Str("method", r.method).Dur("timeout", c.timeout).Msg("request expired")
	r.res <- Result{Err: fmt.Errorf("%w: %s", ErrRequestTimeout, r.method)}
}

func decode(raw interface{}) (interface{}, error) {
	switch x := raw.(type) {
	case json.RawMessage:
		return decodeBytes(x)
	case []byte:
		return decodeBytes(x)
	case string:
		return decodeBytes([]byte(x))
	default:
		return raw, nil
	}
}

// decodeBytes decodes JSON text. Empty text stands for an absent result.
func decodeBytes(b []byte) (interface{}, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}

	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}

	return v, nil
}
