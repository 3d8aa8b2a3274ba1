// Package host implements the reference host service. The host consumes the requests the provider forwards, answers
// them with resolve or reject calls and keeps the provider state in sync with initialize and event calls.
//
// Only a few read methods are served, through the configured chain clients. Anything else, signing included, is
// rejected.
package host

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tarancss/hd"

	"github.com/tarancss/dappbridge/lib/block"
	"github.com/tarancss/dappbridge/lib/block/types"
	"github.com/tarancss/dappbridge/lib/config"
	msgtypes "github.com/tarancss/dappbridge/lib/msg/types"
	"github.com/tarancss/dappbridge/lib/state"
	"github.com/tarancss/dappbridge/lib/util"
)

// Errors replied to the provider.
var (
	ErrNotSupported = errors.New("method not supported by host")
	ErrBadParams    = errors.New("invalid params")
	ErrUnknownChain = errors.New("unrecognized chain ID")
)

// Broker carries provider requests to the host and host calls back to the provider.
type Broker interface {
	GetRequests(mut *sync.Mutex) (<-chan msgtypes.OutboundMessage, <-chan error, error)
	GetLogs(mut *sync.Mutex) (<-chan string, error)
	SendCall(c msgtypes.HostCall) error
}

// Host implements a host service.
type Host struct {
	id      string
	mb      Broker
	bc      map[string]block.Chain // chain clients by chain id
	address string                 // account announced to the provider
	mu      sync.Mutex
	chainID string // chain selected by the provider
	log     zerolog.Logger
}

// New instantiates a new host service announcing address on chainID.
func New(mb Broker, bc map[string]block.Chain, address, chainID string, log zerolog.Logger) *Host {
	id := uuid.NewString()

	return &Host{
		id:      id,
		mb:      mb,
		bc:      bc,
		address: address,
		chainID: chainID,
		log:     log.With().Str("host", id[:8]).Logger(),
	}
}

// Address returns the HD wallet address selected by acc, hex encoded with 0x prefix.
func Address(hdw *hd.HdWallet, acc config.AccountConfig) (string, error) {
	addr, _, _, err := hdw.Address(acc.Wallet, acc.Change, acc.ID)
	if err != nil {
		return "", fmt.Errorf("cannot derive HD wallet address %d/%d/%d: %w", acc.Wallet, acc.Change, acc.ID, err)
	}

	return "0x" + hex.EncodeToString(addr), nil
}

// ChainID returns the chain currently selected.
func (h *Host) ChainID() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.chainID
}

// Start sends the initialize call announcing the account and chain to the provider.
func (h *Host) Start() error {
	c := h.initialize(h.ChainID())
	h.log.Info().Str("chainId", c.ChainID).Str("address", c.Address).Msg("initializing provider")

	return h.mb.SendCall(c)
}

// ManageRequests starts go routines to answer the provider requests consumed from the broker and to print the
// provider log lines. The returned channel receives a message when the request channel is closed.
func (h *Host) ManageRequests() (chan string, error) {
	var mut *sync.Mutex = new(sync.Mutex)

	mut.Lock()

	reqCh, errCh, err := h.mb.GetRequests(mut)
	if err != nil {
		return nil, fmt.Errorf("host: cannot get requests: %w", err)
	}

	var lmut *sync.Mutex = new(sync.Mutex)

	lmut.Lock()

	logCh, err := h.mb.GetLogs(lmut)
	if err != nil {
		return nil, fmt.Errorf("host: cannot get provider logs: %w", err)
	}

	ret := make(chan string, 1)

	// launch request channel reader
	go func() {
		h.log.Info().Msg("start listening to provider request channel")

		var n int

		for m := range reqCh {
			for _, c := range h.Handle(m) {
				if err := h.mb.SendCall(c); err != nil {
					h.log.Error().Err(err).Str("op", c.Op).Str("id", c.ID).Msg("cannot send call to provider")
				}
			}
			n++

			mut.Unlock()
		}

		ret <- fmt.Sprintf("stop listening to provider request channel after %d requests", n)
	}()

	// launch error channel reader
	go func() {
		for e := range errCh {
			h.log.Warn().Err(e).Msg("received error from provider request channel")
		}
	}()

	// launch provider log reader
	go func() {
		for line := range logCh {
			if json.Valid([]byte(line)) {
				h.log.Info().RawJSON("line", []byte(line)).Msg("provider")
			} else {
				h.log.Info().Str("line", line).Msg("provider")
			}

			lmut.Unlock()
		}
	}()

	return ret, nil
}

// Handle returns the calls answering the provider request m, in sending order.
func (h *Host) Handle(m msgtypes.OutboundMessage) []msgtypes.HostCall {
	h.log.Debug().Str("id", m.ID).Str("method", m.Method).Interface("params", m.Params).Str("chainId", m.ChainID).
		Msg("request")

	var (
		res interface{}
		err error
	)

	switch m.Method {
	case "eth_accounts", "eth_requestAccounts":
		res = []string{h.address}
	case "eth_chainId":
		res = h.ChainID()
	case "net_version":
		res = state.NetworkVersion(h.ChainID())
	case "wallet_switchEthereumChain":
		return h.switchChain(m)
	case "eth_getBalance":
		res, err = h.balance(m)
	case "eth_getBlockByNumber":
		res, err = h.getBlock(m)
	default:
		err = fmt.Errorf("%w: %s", ErrNotSupported, m.Method)
	}

	if err != nil {
		return []msgtypes.HostCall{reject(m.ID, err)}
	}

	c, err := resolve(m.ID, res)
	if err != nil {
		return []msgtypes.HostCall{reject(m.ID, err)}
	}

	return []msgtypes.HostCall{c}
}

// switchChain selects the chain in the first param and announces it to the provider.
func (h *Host) switchChain(m msgtypes.OutboundMessage) []msgtypes.HostCall {
	var p struct {
		ChainID string `json:"chainId"`
	}

	if err := param(m.Params, 0, &p); err != nil || p.ChainID == "" {
		return []msgtypes.HostCall{reject(m.ID, fmt.Errorf("%w: expected [{chainId}]", ErrBadParams))}
	}

	chainID := strings.ToLower(p.ChainID)
	if _, ok := h.bc[chainID]; !ok {
		return []msgtypes.HostCall{reject(m.ID, fmt.Errorf("%w: %s", ErrUnknownChain, p.ChainID))}
	}

	h.mu.Lock()
	h.chainID = chainID
	h.mu.Unlock()

	h.log.Info().Str("chainId", chainID).Msg("switched chain")

	payload, _ := json.Marshal(chainID)

	return []msgtypes.HostCall{
		{Op: msgtypes.OpResolve, ID: m.ID, Result: json.RawMessage("null")},
		h.initialize(chainID),
		{Op: msgtypes.OpEvent, Event: "chainChanged", Payload: payload},
	}
}

// balance returns the hex balance of the address in the first param on the chain the request was sent on.
func (h *Host) balance(m msgtypes.OutboundMessage) (interface{}, error) {
	var address string
	if err := param(m.Params, 0, &address); err != nil || address == "" {
		return nil, fmt.Errorf("%w: expected [address, block]", ErrBadParams)
	}

	c, err := h.chain(m.ChainID)
	if err != nil {
		return nil, err
	}

	bal, tokBal := new(big.Int), new(big.Int)
	if err = c.Balance(address, "", bal, tokBal); err != nil {
		return nil, err
	}

	return "0x" + bal.Text(16), nil //nolint:gomnd // hex
}

// getBlock returns the block numbered by the first param, with full transactions if the second param is true.
// Unknown blocks give a null result.
func (h *Host) getBlock(m msgtypes.OutboundMessage) (interface{}, error) {
	var (
		number string
		full   bool
	)

	if err := param(m.Params, 0, &number); err != nil {
		return nil, fmt.Errorf("%w: expected [number, full]", ErrBadParams)
	}

	if len(m.Params) > 1 {
		if err := param(m.Params, 1, &full); err != nil {
			return nil, fmt.Errorf("%w: expected [number, full]", ErrBadParams)
		}
	}

	n, err := util.HexUint(number)
	if err != nil {
		return nil, fmt.Errorf("%w: block number %q", ErrBadParams, number)
	}

	c, err := h.chain(m.ChainID)
	if err != nil {
		return nil, err
	}

	var b map[string]interface{}
	if err = c.GetBlock(n, full, &b); err != nil {
		if errors.Is(err, types.ErrNoBlock) {
			return nil, nil
		}

		return nil, err
	}

	if blk, err := c.DecodeBlock(b); err == nil {
		h.log.Debug().Str("number", blk.Number).Str("hash", blk.Hash).Msg("block")
	}

	return b, nil
}

func (h *Host) chain(chainID string) (block.Chain, error) {
	c, ok := h.bc[strings.ToLower(chainID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChain, chainID)
	}

	return c, nil
}

func (h *Host) initialize(chainID string) msgtypes.HostCall {
	return msgtypes.HostCall{Op: msgtypes.OpInitialize, ChainID: chainID, Address: h.address}
}

func resolve(id string, res interface{}) (msgtypes.HostCall, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return msgtypes.HostCall{}, err
	}

	return msgtypes.HostCall{Op: msgtypes.OpResolve, ID: id, Result: raw}, nil
}

func reject(id string, err error) msgtypes.HostCall {
	return msgtypes.HostCall{Op: msgtypes.OpReject, ID: id, Error: err.Error()}
}

// param decodes params[i] into v.
func param(params []interface{}, i int, v interface{}) error {
	if i >= len(params) {
		return ErrBadParams
	}

	b, err := json.Marshal(params[i])
	if err != nil {
		return err
	}

	return json.Unmarshal(b, v)
}
