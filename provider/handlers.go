package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tarancss/dappbridge/lib/correlator"
	"github.com/tarancss/dappbridge/lib/msg/types"
	"github.com/tarancss/dappbridge/lib/state"
)

const maxBody = 1 << 20

// Reply defines the data structure returned to the client making the http request.
type Reply struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

// stateView is the state as replied by /state, with the flags of the injected object.
type stateView struct {
	state.State
	IsConnected bool          `json:"isConnected"`
	IsMetaMask  bool          `json:"isMetaMask"`
	MetaMask    MetaMaskFlags `json:"_metamask"`
}

// reply writes res to rw with status code, logging the request.
func (p *Provider) reply(rw http.ResponseWriter, r *http.Request, res *Reply, err error, okStatus int) {
	code := okStatus
	if err != nil {
		res.Error = err.Error()
		code = status(err)
	}
	// log request
	p.log.Debug().Str("remote", r.RemoteAddr).Str("uri", r.RequestURI).Int("status", code).Err(err).Msg("httpreq")
	// reply
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(res)
}

// status maps an error to the http status code replied.
func status(err error) int {
	var he *correlator.HostError

	switch {
	case errors.Is(err, ErrUnknownRequest), errors.Is(err, ErrUnknownEvent):
		return http.StatusNotFound
	case errors.Is(err, correlator.ErrChannelUnavailable), errors.Is(err, correlator.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, correlator.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	case errors.Is(err, correlator.ErrBadResult), errors.As(err, &he):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

// homeHandler just replies a welcome message to the client.
func (p *Provider) homeHandler(rw http.ResponseWriter, r *http.Request) {
	p.reply(rw, r, &Reply{Body: "Hello, this is your dapp provider bridge!"}, nil, http.StatusOK)
}

// rpcHandler runs the JSON-RPC request in the body through SendAsync and replies the envelope given to the callback.
func (p *Provider) rpcHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Reply

	defer func() {
		p.reply(rw, r, &res, err, http.StatusOK)
	}()

	var req Request
	if err = json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		err = fmt.Errorf("%w: %v", ErrBadRequest, err)

		return
	}

	if req.Method == "" {
		err = fmt.Errorf("%w: missing method", ErrBadRequest)

		return
	}

	type outcome struct {
		err error
		env *Response
	}

	done := make(chan outcome, 1)

	p.SendAsync(req, func(e error, env *Response) {
		done <- outcome{err: e, env: env}
	})

	select {
	case o := <-done:
		if err = o.err; err == nil {
			tmp, _ := json.Marshal(o.env)
			res.Body = string(tmp)
		}
	case <-r.Context().Done():
		err = r.Context().Err()
	}
}

// stateHandler replies the provider state.
func (p *Provider) stateHandler(rw http.ResponseWriter, r *http.Request) {
	cp := p.Web3().CurrentProvider
	s := cp.State()
	tmp, _ := json.Marshal(stateView{State: s, IsConnected: s.Connected(), IsMetaMask: cp.IsMetaMask(),
		MetaMask: cp.MetaMask()})

	p.reply(rw, r, &Reply{Body: string(tmp)}, nil, http.StatusOK)
}

// resolveHandler completes the pending request in the uri with the JSON result in the body.
func (p *Provider) resolveHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Reply

	defer func() {
		p.reply(rw, r, &res, err, http.StatusOK)
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return
	}

	err = p.Apply(types.HostCall{Op: types.OpResolve, ID: mux.Vars(r)["id"], Result: body})
}

// rejectHandler fails the pending request in the uri with the error in the body ({"error":"..."}).
func (p *Provider) rejectHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Reply

	defer func() {
		p.reply(rw, r, &res, err, http.StatusOK)
	}()

	var c types.HostCall
	if err = json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&c); err != nil {
		err = fmt.Errorf("%w: %v", ErrBadCall, err)

		return
	}

	err = p.Apply(types.HostCall{Op: types.OpReject, ID: mux.Vars(r)["id"], Error: c.Error})
}

// initializeHandler sets the chain and address in the body ({"chainId":"0x1","address":"0x..."}).
func (p *Provider) initializeHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Reply

	defer func() {
		p.reply(rw, r, &res, err, http.StatusAccepted)
	}()

	var c types.HostCall
	if err = json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&c); err != nil {
		err = fmt.Errorf("%w: %v", ErrBadCall, err)

		return
	}

	if c.ChainID == "" {
		err = fmt.Errorf("%w: missing chainId", ErrBadCall)

		return
	}

	err = p.Apply(types.HostCall{Op: types.OpInitialize, ChainID: c.ChainID, Address: c.Address})
}

// eventHandler publishes the event in the uri with the JSON payload in the body.
func (p *Provider) eventHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Reply

	defer func() {
		p.reply(rw, r, &res, err, http.StatusAccepted)
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return
	}

	err = p.Apply(types.HostCall{Op: types.OpEvent, Event: mux.Vars(r)["kind"], Payload: body})
}
