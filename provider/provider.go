// Package provider implements the provider service.
//
// The Provider is the wallet object dapp code talks to. A few read-only methods are answered from the local state;
// every other request is forwarded to the host and completed later, when the host calls ResolveRequest or
// RejectRequest. The host keeps the provider in sync with Initialize and TriggerEvent. The service exposes the
// provider over HTTP and consumes host calls from the message broker.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tarancss/dappbridge/lib/correlator"
	"github.com/tarancss/dappbridge/lib/event"
	"github.com/tarancss/dappbridge/lib/metrics"
	"github.com/tarancss/dappbridge/lib/msg"
	"github.com/tarancss/dappbridge/lib/msg/types"
	"github.com/tarancss/dappbridge/lib/state"
	"github.com/tarancss/dappbridge/lib/store"
)

// Errors returned by the provider.
var (
	ErrBadRequest     = errors.New("bad request")
	ErrBadCall        = errors.New("unknown host call")
	ErrUnknownRequest = errors.New("no pending request with this id")
	ErrUnknownEvent   = errors.New("unknown event")
)

// Request is a JSON-RPC style provider request.
type Request struct {
	ID      interface{}   `json:"id,omitempty"`
	JSONRPC string        `json:"jsonrpc,omitempty"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// Response is the JSON-RPC envelope given to SendAsync callbacks.
type Response struct {
	ID      interface{} `json:"id"`
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result"`
}

// MetaMaskFlags are the compatibility flags of an injected wallet.
type MetaMaskFlags struct {
	IsUnlocked bool `json:"isUnlocked"`
	IsEnabled  bool `json:"isEnabled"`
	IsApproved bool `json:"isApproved"`
}

// Web3 is the legacy object exposing the provider.
type Web3 struct {
	CurrentProvider *Provider
}

// Legacy returns existing if there is one, or a new Web3 exposing p.
func Legacy(existing *Web3, p *Provider) *Web3 {
	if existing != nil {
		return existing
	}

	return &Web3{CurrentProvider: p}
}

// Provider contains the data necessary to deliver the service
type Provider struct {
	st    *state.Store
	ev    *event.Dispatcher
	rc    *correlator.Correlator
	sched event.Scheduler
	db    store.DB // persisted flags, may be nil
	log   zerolog.Logger
	web3  *Web3         // legacy object exposing this provider
	s     *http.Server  // http server
	ss    *http.Server  // https server
	sc    chan struct{} // http server channel used for graceful shutdowns
	once  sync.Once
}

// New returns a pointer to a new Provider on chainID. Requests for the host are posted to out; listeners and
// SendAsync callbacks run on sched. db may be nil, in which case no flags are persisted.
func New(chainID string, out msg.Outbound, sched event.Scheduler, db store.DB, log zerolog.Logger,
	opts ...correlator.Option) *Provider {
	st := state.New(chainID)

	p := &Provider{
		st:    st,
		ev:    event.New(sched, st, log),
		rc:    correlator.New(out, st, log, opts...),
		sched: sched,
		db:    db,
		log:   log,
	}
	p.web3 = Legacy(p.web3, p)

	return p
}

// Web3 returns the legacy object exposing the provider.
func (p *Provider) Web3() *Web3 {
	return p.web3
}

// Request answers req locally when possible, otherwise forwards it to the host and waits for its completion. ctx only
// ends the wait of this caller; the forwarded request stays pending until the host completes it.
func (p *Provider) Request(ctx context.Context, req Request) (interface{}, error) {
	res := p.request(req)

	// answers already available win over a done ctx
	select {
	case r := <-res:
		return r.Value, r.Err
	default:
	}

	select {
	case r := <-res:
		return r.Value, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// request returns the channel delivering the result of req.
func (p *Provider) request(req Request) <-chan correlator.Result {
	p.log.Debug().Str("method", req.Method).Interface("params", req.Params).Msg("request")

	if v, ok := answer(ParseMethod(req.Method), p.st.Get()); ok {
		metrics.RecordRequest(req.Method, metrics.PathFast)

		res := make(chan correlator.Result, 1)
		res <- correlator.Result{Value: v}

		return res
	}

	metrics.RecordRequest(req.Method, metrics.PathHost)

	return p.rc.Send(req.Method, req.Params)
}

// Enable requests the accounts of the wallet.
func (p *Provider) Enable(ctx context.Context) (interface{}, error) {
	return p.Request(ctx, Request{Method: "eth_requestAccounts"})
}

// Send accepts either a method name with its params or a Request (params are then ignored).
func (p *Provider) Send(ctx context.Context, methodOrRequest interface{}, params []interface{}) (interface{}, error) {
	var req Request

	switch x := methodOrRequest.(type) {
	case string:
		req = Request{Method: x, Params: params}
	case Request:
		req = x
	case *Request:
		if x == nil {
			return nil, ErrBadRequest
		}
		req = *x
	default:
		return nil, fmt.Errorf("%w: cannot send %T", ErrBadRequest, methodOrRequest)
	}

	return p.Request(ctx, req)
}

// SendAsync runs req and calls cb once on the page loop: with a JSON-RPC envelope on success, or with the error.
func (p *Provider) SendAsync(req Request, cb func(error, *Response)) {
	res := p.request(req)

	go func() {
		r := <-res

		if err := p.sched.Post(func() {
			if r.Err != nil {
				cb(r.Err, nil)

				return
			}
			cb(nil, &Response{ID: req.ID, JSONRPC: "2.0", Result: r.Value})
		}); err != nil {
			p.log.Warn().Err(err).Str("method", req.Method).Msg("cannot schedule callback")
		}
	}()
}

// On subscribes l to the events of kind.
func (p *Provider) On(kind event.Kind, l *event.Listener) *Provider {
	p.ev.Subscribe(kind, l)

	return p
}

// RemoveListener removes the first subscription of l to kind.
func (p *Provider) RemoveListener(kind event.Kind, l *event.Listener) *Provider {
	p.ev.Unsubscribe(kind, l)

	return p
}

// IsConnected reports whether an address is selected.
func (p *Provider) IsConnected() bool {
	return p.st.Get().Connected()
}

// State returns the current provider state.
func (p *Provider) State() state.State {
	return p.st.Get()
}

// IsMetaMask is always true.
func (p *Provider) IsMetaMask() bool {
	return true
}

// MetaMask returns the flags of an unlocked, enabled and approved wallet.
func (p *Provider) MetaMask() MetaMaskFlags {
	return MetaMaskFlags{IsUnlocked: true, IsEnabled: true, IsApproved: true}
}

// Initialize sets the chain and selected address, saves the connection flags and, when an address is selected,
// publishes accountsChanged and then connect. Events are published on every call, changed or not.
func (p *Provider) Initialize(chainID, address string) {
	prev := p.st.Set(chainID, address)
	s := p.st.Get()
	p.log.Info().Str("chainId", s.ChainID).Str("networkVersion", s.NetworkVersion).Str("address", address).
		Str("prevChainId", prev.ChainID).Msg("initialize")

	p.persist(address)

	if address == "" {
		return
	}

	p.ev.Publish(event.AccountsChanged, []string{address})
	p.ev.Publish(event.Connect, event.ConnectInfo{ChainID: chainID})
}

// persist saves the flags dapp libraries check to detect a connected wallet. Failures are only logged.
func (p *Provider) persist(address string) {
	if p.db == nil {
		return
	}

	for _, it := range store.Flags(address) {
		if err := p.db.SetItem(it.Key, it.Value); err != nil {
			p.log.Error().Err(err).Str("key", it.Key).Msg("cannot save flag")
		}
	}
}

// ResolveRequest completes request id with result. It returns false if no such request is pending.
func (p *Provider) ResolveRequest(id string, result interface{}) bool {
	return p.rc.Resolve(id, result)
}

// RejectRequest fails request id with message. It returns false if no such request is pending.
func (p *Provider) RejectRequest(id, message string) bool {
	return p.rc.Reject(id, message)
}

// TriggerEvent publishes payload to the listeners of the event called name. Unknown events are ignored and false is
// returned.
func (p *Provider) TriggerEvent(name string, payload interface{}) bool {
	kind, ok := event.ParseKind(name)
	if !ok {
		p.log.Debug().Str("event", name).Msg("ignoring unknown event")

		return false
	}

	p.ev.Publish(kind, payload)

	return true
}

// Apply runs a host call received over the broker or HTTP.
func (p *Provider) Apply(c types.HostCall) error {
	switch c.Op {
	case types.OpResolve:
		if !p.ResolveRequest(c.ID, c.Result) {
			return fmt.Errorf("%w: %s", ErrUnknownRequest, c.ID)
		}
	case types.OpReject:
		if !p.RejectRequest(c.ID, c.Error) {
			return fmt.Errorf("%w: %s", ErrUnknownRequest, c.ID)
		}
	case types.OpInitialize:
		p.Initialize(c.ChainID, c.Address)
	case types.OpEvent:
		var payload interface{}
		if len(c.Payload) > 0 {
			if err := json.Unmarshal(c.Payload, &payload); err != nil {
				return fmt.Errorf("%w: payload of %s: %v", ErrBadCall, c.Event, err)
			}
		}

		if !p.TriggerEvent(c.Event, payload) {
			return fmt.Errorf("%w: %s", ErrUnknownEvent, c.Event)
		}
	default:
		return fmt.Errorf("%w: %q", ErrBadCall, c.Op)
	}

	return nil
}

// CallSource delivers host calls.
type CallSource interface {
	GetCalls(mut *sync.Mutex) (<-chan types.HostCall, <-chan error, error)
}

// ManageCalls starts go routines consuming host calls from src and applying them to the provider. A call is only
// acknowledged once it has been applied.
func (p *Provider) ManageCalls(src CallSource) error {
	var mut *sync.Mutex = new(sync.Mutex)

	mut.Lock()

	callCh, errCh, err := src.GetCalls(mut)
	if err != nil {
		return err
	}

	// launch call channel reader
	go func() {
		p.log.Info().Msg("start listening to host call channel")

		for c := range callCh {
			if err := p.Apply(c); err != nil {
				p.log.Warn().Err(err).Str("op", c.Op).Str("id", c.ID).Msg("host call not applied")
			}
			mut.Unlock()
		}
		p.log.Info().Msg("stop listening to host call channel")
	}()

	// launch error channel reader
	go func() {
		for e := range errCh {
			p.log.Warn().Err(e).Msg("received error from host call channel")
		}
	}()

	return nil
}

// StopProvider shuts down the http servers and fails every request still waiting for the host.
func (p *Provider) StopProvider() {
	// shutdown http servers
	if p.s != nil {
		if err := p.s.Shutdown(context.Background()); err != nil {
			p.log.Error().Err(err).Msg("error in http server shutdown")
		}
	}

	if p.ss != nil {
		if err := p.ss.Shutdown(context.Background()); err != nil {
			p.log.Error().Err(err).Msg("error in https server shutdown")
		}
	}

	// close server channel to indicate shutdowns have finished
	p.once.Do(func() {
		if p.sc != nil {
			close(p.sc)
		}
	})

	p.rc.Close()
}
