// Package state holds the provider state: current chain, network version, selected address.
//
// A Store is created once at startup and changed only through Set; every other component reads it.
package state

import (
	"strconv"
	"strings"
	"sync"
)

// DefaultChainID is the chain announced before the host initializes the provider.
const DefaultChainID = "0x1"

// State is a snapshot of the provider state.
type State struct {
	ChainID         string `json:"chainId"`
	NetworkVersion  string `json:"networkVersion"`
	SelectedAddress string `json:"selectedAddress"`
}

// Connected reports whether an address is selected.
func (s State) Connected() bool {
	return s.SelectedAddress != ""
}

// Store is the single source of truth for the provider state.
type Store struct {
	mu sync.RWMutex
	s  State
}

// New returns a Store on chainID with no selected address.
func New(chainID string) *Store {
	if chainID == "" {
		chainID = DefaultChainID
	}

	return &Store{s: State{ChainID: chainID, NetworkVersion: NetworkVersion(chainID)}}
}

// Get returns the current state.
func (st *Store) Get() State {
	st.mu.RLock()
	defer st.mu.RUnlock()

	return st.s
}

// Set stores chainID, its network version and address, returning the previous state.
func (st *Store) Set(chainID, address string) State {
	st.mu.Lock()
	defer st.mu.Unlock()

	prev := st.s
	st.s = State{ChainID: chainID, NetworkVersion: NetworkVersion(chainID), SelectedAddress: address}

	return prev
}

// NetworkVersion decodes a hex chain id (ie. 0x89) into its decimal network version (137). A chain id that is not
// valid hex is returned with its 0x prefix stripped and otherwise untouched.
func NetworkVersion(chainID string) string {
	stripped := strings.Replace(chainID, "0x", "", 1)

	n, err := strconv.ParseUint(stripped, 16, 64)
	if err != nil {
		return stripped
	}

	return strconv.FormatUint(n, 10)
}
