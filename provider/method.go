package provider

import (
	"github.com/tarancss/dappbridge/lib/state"
)

// Method is the kind of a provider request, parsed once from its name.
type Method int

// Method kinds. Every name without a local answer is MethodHost.
const (
	MethodHost Method = iota
	MethodAccounts
	MethodRequestAccounts
	MethodRequestPermissions
	MethodChainID
	MethodNetVersion
)

var methods = map[string]Method{ //nolint:gochecknoglobals // lookup table
	"eth_accounts":              MethodAccounts,
	"eth_requestAccounts":       MethodRequestAccounts,
	"wallet_requestPermissions": MethodRequestPermissions,
	"eth_chainId":               MethodChainID,
	"net_version":               MethodNetVersion,
}

// ParseMethod returns the kind of the method name.
func ParseMethod(name string) Method {
	return methods[name]
}

// Permission is a wallet permission descriptor.
type Permission struct {
	ParentCapability string   `json:"parentCapability"`
	Caveats          []Caveat `json:"caveats"`
}

// Caveat restricts a permission.
type Caveat struct {
	Type  string   `json:"type"`
	Value []string `json:"value"`
}

// answer returns the local answer for m in state s, or false when the request must go to the host.
func answer(m Method, s state.State) (interface{}, bool) {
	switch m {
	case MethodAccounts, MethodRequestAccounts:
		if s.Connected() {
			return []string{s.SelectedAddress}, true
		}
	case MethodRequestPermissions:
		if s.Connected() {
			return []Permission{{
				ParentCapability: "eth_accounts",
				Caveats:          []Caveat{{Type: "restrictReturnedAccounts", Value: []string{s.SelectedAddress}}},
			}}, true
		}
	case MethodChainID:
		return s.ChainID, true
	case MethodNetVersion:
		return s.NetworkVersion, true
	case MethodHost:
	}

	return nil, false
}
