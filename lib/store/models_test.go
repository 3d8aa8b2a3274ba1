package store

import (
	"encoding/json"
	"testing"
)

func TestFlags(t *testing.T) {
	addr := "0x357dd3856d856197c1a000bbAb4aBCB97Dfc92c4"
	items := Flags(addr)

	exp := []string{KeyConnected, KeyUnlocked, KeyConnectedWallet, KeyWalletConnect, KeyCachedProvider}
	if len(items) != len(exp) {
		t.Fatalf("expected %d items, got %d", len(exp), len(items))
	}

	for i, it := range items {
		if it.Key != exp[i] {
			t.Errorf("item %d key %s expected %s", i, it.Key, exp[i])
		}
	}

	if items[2].Value != addr {
		t.Errorf("connected wallet %s expected %s", items[2].Value, addr)
	}

	var wc WalletConnect
	if err := json.Unmarshal([]byte(items[3].Value), &wc); err != nil || !wc.Connected || len(wc.Accounts) != 1 ||
		wc.Accounts[0] != addr {
		t.Errorf("bad walletconnect value %s err:%v", items[3].Value, err)
	}

	if items[4].Value != `"injected"` {
		t.Errorf("cached provider %s expected the JSON string \"injected\"", items[4].Value)
	}
}
