package store

import (
	"encoding/json"
)

// Keys of the flags written when the host initializes the provider. Dapp libraries look them up to detect an
// already connected injected wallet.
const (
	KeyConnected       = "metamask-is-connected"
	KeyUnlocked        = "metamask-is-unlocked"
	KeyConnectedWallet = "metamask-connected-wallet"
	KeyWalletConnect   = "walletconnect"
	KeyCachedProvider  = "WEB3_CONNECT_CACHED_PROVIDER"
)

// WalletConnect is the value saved under KeyWalletConnect.
type WalletConnect struct {
	Connected bool     `json:"connected"`
	Accounts  []string `json:"accounts"`
}

// Item is a key/value pair to save.
type Item struct {
	Key   string
	Value string
}

// Flags returns the items announcing address as the connected wallet, in writing order.
func Flags(address string) []Item {
	wc, _ := json.Marshal(WalletConnect{Connected: true, Accounts: []string{address}})

	return []Item{
		{Key: KeyConnected, Value: "true"},
		{Key: KeyUnlocked, Value: "true"},
		{Key: KeyConnectedWallet, Value: address},
		{Key: KeyWalletConnect, Value: string(wc)},
		{Key: KeyCachedProvider, Value: `"injected"`},
	}
}
