package provider

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tarancss/dappbridge/lib/correlator"
	"github.com/tarancss/dappbridge/lib/event"
	"github.com/tarancss/dappbridge/lib/loop"
	"github.com/tarancss/dappbridge/lib/msg"
	"github.com/tarancss/dappbridge/lib/msg/types"
	"github.com/tarancss/dappbridge/lib/store"
)

// outbox records the messages the provider posts to the host.
type outbox struct {
	msgs chan types.OutboundMessage
}

func newOutbox() *outbox {
	return &outbox{msgs: make(chan types.OutboundMessage, 16)}
}

func (o *outbox) PostMessage(m string) error {
	var om types.OutboundMessage
	if err := json.Unmarshal([]byte(m), &om); err != nil {
		return err
	}
	o.msgs <- om

	return nil
}

// next returns the next posted message.
func (o *outbox) next(t *testing.T) types.OutboundMessage {
	t.Helper()

	select {
	case m := <-o.msgs:
		return m
	case <-time.After(time.Second):
		t.Fatal("no message posted to the host")
	}

	return types.OutboundMessage{}
}

// flags is an in-memory flag store.
type flags struct {
	mu   sync.Mutex
	m    map[string]string
	fail bool
}

func newFlags() *flags {
	return &flags{m: map[string]string{}}
}

func (f *flags) SetItem(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return errors.New("quota exceeded")
	}
	f.m[key] = value

	return nil
}

func (f *flags) GetItem(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.m[key]
	if !ok {
		return "", store.ErrDataNotFound
	}

	return v, nil
}

func (f *flags) RemoveItem(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.m, key)

	return nil
}

// newProvider returns a provider on chain 0x1 whose page loop runs until the test ends.
func newProvider(t *testing.T, out msg.Outbound, db store.DB, opts ...correlator.Option) *Provider {
	t.Helper()

	lp := loop.New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	go func() { _ = lp.Run(ctx) }()

	p := New("0x1", out, lp, db, zerolog.Nop(), opts...)
	t.Cleanup(func() {
		p.StopProvider()
		cancel()
	})

	return p
}

// delivery is one listener invocation.
type delivery struct {
	kind    event.Kind
	payload interface{}
}

// listen subscribes to kinds and returns the channel receiving the deliveries.
func listen(p *Provider, kinds ...event.Kind) <-chan delivery {
	ch := make(chan delivery, 16)

	for _, k := range kinds {
		k := k
		p.On(k, event.NewListener(func(payload interface{}) { ch <- delivery{kind: k, payload: payload} }))
	}

	return ch
}

func receive(t *testing.T, ch <-chan delivery) delivery {
	t.Helper()

	select {
	case d := <-ch:
		return d
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	return delivery{}
}

// quiet checks nothing is delivered for a while.
func quiet(t *testing.T, ch <-chan delivery) {
	t.Helper()

	select {
	case d := <-ch:
		t.Errorf("unexpected delivery %+v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestFastPaths checks locally answered methods never reach the host.
func TestFastPaths(t *testing.T) {
	out := newOutbox()
	p := newProvider(t, out, nil)
	p.Initialize("0x5", "0xABC")

	perm := []Permission{{
		ParentCapability: "eth_accounts",
		Caveats:          []Caveat{{Type: "restrictReturnedAccounts", Value: []string{"0xABC"}}},
	}}

	cases := []struct {
		method string
		exp    interface{}
	}{
		{"eth_accounts", []string{"0xABC"}},
		{"eth_requestAccounts", []string{"0xABC"}},
		{"wallet_requestPermissions", perm},
		{"eth_chainId", "0x5"},
		{"net_version", "5"},
	}
	for _, tc := range cases {
		v, err := p.Request(context.Background(), Request{Method: tc.method})
		if err != nil || !reflect.DeepEqual(v, tc.exp) {
			t.Errorf("[%s] got %#v err:%v expected %#v", tc.method, v, err, tc.exp)
		}
	}

	if v, err := p.Enable(context.Background()); err != nil || !reflect.DeepEqual(v, []string{"0xABC"}) {
		t.Errorf("Enable got %#v err:%v", v, err)
	}

	if len(out.msgs) != 0 {
		t.Errorf("%d messages posted for local answers", len(out.msgs))
	}
}

// TestChainWithoutAddress checks chain queries stay local without a selected address.
func TestChainWithoutAddress(t *testing.T) {
	out := newOutbox()
	p := newProvider(t, out, nil)

	if v, _ := p.Request(context.Background(), Request{Method: "eth_chainId"}); v != "0x1" {
		t.Errorf("eth_chainId got %v", v)
	}
	if v, _ := p.Request(context.Background(), Request{Method: "net_version"}); v != "1" {
		t.Errorf("net_version got %v", v)
	}
	if len(out.msgs) != 0 || p.IsConnected() {
		t.Errorf("unexpected host round trip or connection")
	}
}

// TestRoundTrip checks a forwarded request completes once with the decoded host result.
func TestRoundTrip(t *testing.T) {
	out := newOutbox()
	p := newProvider(t, out, nil)

	type result struct {
		v   interface{}
		err error
	}

	done := make(chan result, 1)

	go func() {
		v, err := p.Request(context.Background(), Request{Method: "eth_getBalance", Params: []interface{}{"0xABC", "latest"}})
		done <- result{v, err}
	}()

	m := out.next(t)
	if m.Method != "eth_getBalance" || m.ChainID != "0x1" || len(m.Params) != 2 {
		t.Fatalf("unexpected outbound message %+v", m)
	}

	if !p.ResolveRequest(m.ID, `"0x10"`) {
		t.Fatalf("resolve ignored")
	}
	if p.ResolveRequest(m.ID, `"0x20"`) || p.RejectRequest(m.ID, "late") {
		t.Errorf("second completion should be ignored")
	}

	r := <-done
	if r.err != nil || r.v != "0x10" {
		t.Errorf("got %v err:%v", r.v, r.err)
	}
}

// TestGuardedFallThrough checks account methods go to the host without a selected address.
func TestGuardedFallThrough(t *testing.T) {
	out := newOutbox()
	p := newProvider(t, out, nil)

	for _, method := range []string{"eth_accounts", "eth_requestAccounts", "wallet_requestPermissions"} {
		go func(method string) {
			_, _ = p.Request(context.Background(), Request{Method: method})
		}(method)

		m := out.next(t)
		if m.Method != method {
			t.Errorf("posted %s expected %s", m.Method, method)
		}
		p.RejectRequest(m.ID, "no account")
	}
}

// TestReject checks the host message reaches the caller.
func TestReject(t *testing.T) {
	out := newOutbox()
	p := newProvider(t, out, nil)

	done := make(chan error, 1)

	go func() {
		_, err := p.Request(context.Background(), Request{Method: "personal_sign", Params: []interface{}{"0xdead"}})
		done <- err
	}()

	m := out.next(t)
	p.RejectRequest(m.ID, "User rejected the request.")

	var he *correlator.HostError
	if err := <-done; !errors.As(err, &he) || he.Message != "User rejected the request." {
		t.Errorf("expected a HostError, got %v", err)
	}
}

// TestChannelUnavailable checks requests fail immediately without an outbound channel.
func TestChannelUnavailable(t *testing.T) {
	p := newProvider(t, nil, nil)

	if _, err := p.Request(context.Background(), Request{Method: "eth_blockNumber"}); !errors.Is(err,
		correlator.ErrChannelUnavailable) {
		t.Errorf("expected ErrChannelUnavailable, got %v", err)
	}
}

// TestContextEndsWait checks ctx releases the caller but not the pending request.
func TestContextEndsWait(t *testing.T) {
	out := newOutbox()
	p := newProvider(t, out, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := p.Request(ctx, Request{Method: "eth_blockNumber"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}

	m := out.next(t)
	if !p.ResolveRequest(m.ID, `"0x1"`) {
		t.Errorf("request should still be pending after the caller gave up")
	}
}

// TestDoneContextFastPath checks local answers are returned even when ctx is already done.
func TestDoneContextFastPath(t *testing.T) {
	p := newProvider(t, newOutbox(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 100; i++ {
		if v, err := p.Request(ctx, Request{Method: "eth_chainId"}); err != nil || v != "0x1" {
			t.Fatalf("eth_chainId with a done context: %v %v", v, err)
		}
	}
}

// TestTimeout checks the optional timeout.
func TestTimeout(t *testing.T) {
	p := newProvider(t, newOutbox(), nil, correlator.WithTimeout(10*time.Millisecond))

	if _, err := p.Request(context.Background(), Request{Method: "eth_blockNumber"}); !errors.Is(err,
		correlator.ErrRequestTimeout) {
		t.Errorf("expected ErrRequestTimeout, got %v", err)
	}
}

// TestInitialize checks state, flags and events of an initialize call.
func TestInitialize(t *testing.T) {
	db := newFlags()
	p := newProvider(t, newOutbox(), db)
	ch := listen(p, event.AccountsChanged, event.Connect)

	p.Initialize("0x5", "0xABC")

	s := p.State()
	if s.ChainID != "0x5" || s.NetworkVersion != "5" || s.SelectedAddress != "0xABC" || !p.IsConnected() {
		t.Errorf("unexpected state %+v", s)
	}

	first, second := receive(t, ch), receive(t, ch)
	if first.kind != event.AccountsChanged || !reflect.DeepEqual(first.payload, []string{"0xABC"}) {
		t.Errorf("first delivery %+v", first)
	}
	if second.kind != event.Connect || second.payload != (event.ConnectInfo{ChainID: "0x5"}) {
		t.Errorf("second delivery %+v", second)
	}
	quiet(t, ch)

	for _, it := range store.Flags("0xABC") {
		if v, err := db.GetItem(it.Key); err != nil || v != it.Value {
			t.Errorf("flag %s = %q err:%v, expected %q", it.Key, v, err, it.Value)
		}
	}

	// same values again still publish
	p.Initialize("0x5", "0xABC")

	if d := receive(t, ch); d.kind != event.AccountsChanged {
		t.Errorf("expected accountsChanged again, got %+v", d)
	}
	if d := receive(t, ch); d.kind != event.Connect {
		t.Errorf("expected connect again, got %+v", d)
	}
}

// TestInitializeEmptyAddress checks no events are published without an address.
func TestInitializeEmptyAddress(t *testing.T) {
	db := newFlags()
	p := newProvider(t, newOutbox(), db)
	ch := listen(p, event.AccountsChanged, event.Connect)

	p.Initialize("0x89", "")

	if s := p.State(); s.ChainID != "0x89" || s.NetworkVersion != "137" || p.IsConnected() {
		t.Errorf("unexpected state %+v", s)
	}
	quiet(t, ch)

	if v, _ := db.GetItem(store.KeyConnected); v != "true" {
		t.Errorf("flags should be written on every initialize, got %q", v)
	}
}

// TestInitializeStoreFailure checks a failing store does not stop the state sync.
func TestInitializeStoreFailure(t *testing.T) {
	db := newFlags()
	db.fail = true
	p := newProvider(t, newOutbox(), db)
	ch := listen(p, event.AccountsChanged)

	p.Initialize("0x5", "0xABC")

	if d := receive(t, ch); !reflect.DeepEqual(d.payload, []string{"0xABC"}) {
		t.Errorf("unexpected delivery %+v", d)
	}
}

// TestReplayAfterInitialize checks subscribers registered after initialize get the current state.
func TestReplayAfterInitialize(t *testing.T) {
	p := newProvider(t, newOutbox(), nil)
	p.Initialize("0x5", "0xABC")

	chain := listen(p, event.ChainChanged)
	if d := receive(t, chain); d.payload != "0x5" {
		t.Errorf("chainChanged replay %+v", d)
	}

	acc := listen(p, event.AccountsChanged)
	if d := receive(t, acc); !reflect.DeepEqual(d.payload, []string{"0xABC"}) {
		t.Errorf("accountsChanged replay %+v", d)
	}
	quiet(t, acc)
}

// TestRemoveListener checks removed listeners stop receiving events.
func TestRemoveListener(t *testing.T) {
	p := newProvider(t, newOutbox(), nil)
	ch := make(chan interface{}, 4)
	l := event.NewListener(func(payload interface{}) { ch <- payload })

	if p.On(event.Disconnect, l).RemoveListener(event.Disconnect, l) != p {
		t.Errorf("On and RemoveListener should return the provider")
	}

	p.TriggerEvent("disconnect", nil)

	select {
	case v := <-ch:
		t.Errorf("removed listener called with %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestSend checks every form of Send reaches the same request path.
func TestSend(t *testing.T) {
	p := newProvider(t, newOutbox(), nil)
	ctx := context.Background()

	cases := []struct {
		name string
		arg  interface{}
		err  error
	}{
		{"name", "eth_chainId", nil},
		{"request", Request{Method: "eth_chainId"}, nil},
		{"pointer", &Request{Method: "eth_chainId"}, nil},
		{"nil pointer", (*Request)(nil), ErrBadRequest},
		{"number", 42, ErrBadRequest},
	}
	for _, tc := range cases {
		v, err := p.Send(ctx, tc.arg, nil)
		if !errors.Is(err, tc.err) {
			t.Errorf("[%s] err:%v expected %v", tc.name, err, tc.err)
		}
		if tc.err == nil && v != "0x1" {
			t.Errorf("[%s] got %v", tc.name, v)
		}
	}
}

// TestSendAsync checks the callback is called once with an envelope or the error.
func TestSendAsync(t *testing.T) {
	out := newOutbox()
	p := newProvider(t, out, nil)

	type call struct {
		err error
		res *Response
	}

	calls := make(chan call, 4)
	cb := func(err error, res *Response) { calls <- call{err, res} }

	p.SendAsync(Request{ID: 7, Method: "eth_chainId"}, cb)

	c := <-calls
	if c.err != nil || c.res == nil || c.res.ID != 7 || c.res.JSONRPC != "2.0" || c.res.Result != "0x1" {
		t.Errorf("unexpected callback %+v %+v", c.err, c.res)
	}

	p.SendAsync(Request{ID: 8, Method: "eth_sendTransaction"}, cb)
	p.RejectRequest(out.next(t).ID, "denied")

	c = <-calls
	if c.res != nil || c.err == nil || c.err.Error() != "denied" {
		t.Errorf("expected the bare error, got %+v %+v", c.err, c.res)
	}

	select {
	case c = <-calls:
		t.Errorf("callback called again %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestApply checks host calls are routed to the entry points.
func TestApply(t *testing.T) {
	out := newOutbox()
	p := newProvider(t, out, nil)
	ch := listen(p, event.Disconnect, event.ChainChanged)

	// chainChanged replay
	receive(t, ch)

	if err := p.Apply(types.HostCall{Op: types.OpInitialize, ChainID: "0xaa36a7", Address: "0xabc"}); err != nil ||
		p.State().NetworkVersion != "11155111" {
		t.Errorf("initialize err:%v state:%+v", err, p.State())
	}

	err := p.Apply(types.HostCall{Op: types.OpEvent, Event: "disconnect", Payload: json.RawMessage(`{"code":4900}`)})
	if d := receive(t, ch); err != nil || d.kind != event.Disconnect ||
		!reflect.DeepEqual(d.payload, map[string]interface{}{"code": float64(4900)}) {
		t.Errorf("event err:%v delivery:%+v", err, d)
	}

	cases := []struct {
		name string
		c    types.HostCall
		err  error
	}{
		{"unknown op", types.HostCall{Op: "ping"}, ErrBadCall},
		{"unknown event", types.HostCall{Op: types.OpEvent, Event: "message"}, ErrUnknownEvent},
		{"bad payload", types.HostCall{Op: types.OpEvent, Event: "disconnect", Payload: json.RawMessage(`{`)}, ErrBadCall},
		{"unknown resolve", types.HostCall{Op: types.OpResolve, ID: "1"}, ErrUnknownRequest},
		{"unknown reject", types.HostCall{Op: types.OpReject, ID: "1", Error: "no"}, ErrUnknownRequest},
	}
	for _, tc := range cases {
		if err := p.Apply(tc.c); !errors.Is(err, tc.err) {
			t.Errorf("[%s] err:%v expected %v", tc.name, err, tc.err)
		}
	}

	done := make(chan interface{}, 1)

	go func() {
		v, _ := p.Request(context.Background(), Request{Method: "eth_blockNumber"})
		done <- v
	}()

	if err := p.Apply(types.HostCall{Op: types.OpResolve, ID: out.next(t).ID, Result: json.RawMessage(`"0x29bf9b"`)}); err != nil {
		t.Errorf("resolve err:%v", err)
	}
	if v := <-done; v != "0x29bf9b" {
		t.Errorf("resolved with %v", v)
	}
}

// calls is a CallSource fed by the test.
type calls struct {
	ch   chan types.HostCall
	errs chan error
	mut  *sync.Mutex
}

func (c *calls) GetCalls(mut *sync.Mutex) (<-chan types.HostCall, <-chan error, error) {
	c.mut = mut

	return c.ch, c.errs, nil
}

// push sends hc and waits for it to be applied, like the broker does before acknowledging.
func (c *calls) push(hc types.HostCall) {
	c.ch <- hc
	c.mut.Lock()
}

// TestManageCalls checks host calls consumed from a broker are applied.
func TestManageCalls(t *testing.T) {
	p := newProvider(t, newOutbox(), nil)
	src := &calls{ch: make(chan types.HostCall), errs: make(chan error)}

	if err := p.ManageCalls(src); err != nil {
		t.Fatalf("ManageCalls err:%v", err)
	}

	src.push(types.HostCall{Op: types.OpInitialize, ChainID: "0x5", Address: "0xABC"})

	if s := p.State(); s.SelectedAddress != "0xABC" || s.ChainID != "0x5" {
		t.Errorf("initialize not applied, state %+v", s)
	}

	src.push(types.HostCall{Op: "ping"}) // logged and acknowledged
	src.errs <- errors.New("bad json")

	close(src.ch)
	close(src.errs)
}

func TestCompatibility(t *testing.T) {
	p := newProvider(t, nil, nil)

	if !p.IsMetaMask() || p.MetaMask() != (MetaMaskFlags{IsUnlocked: true, IsEnabled: true, IsApproved: true}) {
		t.Errorf("unexpected compatibility flags")
	}

	w := Legacy(nil, p)
	if w == nil || w.CurrentProvider != p {
		t.Fatalf("legacy object should expose the provider")
	}

	if Legacy(w, New("0x5", nil, loop.New(zerolog.Nop()), nil, zerolog.Nop())) != w {
		t.Errorf("an existing legacy object must be kept")
	}

	if p.Web3() == nil || p.Web3().CurrentProvider != p {
		t.Errorf("provider should expose itself through its legacy object")
	}
}
