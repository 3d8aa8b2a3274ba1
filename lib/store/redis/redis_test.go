package redis

import (
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/tarancss/dappbridge/lib/store"
)

func TestRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	r, err := New(mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.CloseRedis()

	var db store.DB = r

	for _, it := range store.Flags("0xabc") {
		if err = db.SetItem(it.Key, it.Value); err != nil {
			t.Fatalf("SetItem %s: %v", it.Key, err)
		}
	}

	if got := mr.HGet(Key, store.KeyConnectedWallet); got != "0xabc" {
		t.Errorf("hash field = %q; want %q", got, "0xabc")
	}

	if v, err := db.GetItem(store.KeyCachedProvider); err != nil || v != `"injected"` {
		t.Errorf("GetItem = %q err:%v", v, err)
	}

	if err = db.RemoveItem(store.KeyConnected); err != nil {
		t.Errorf("RemoveItem: %v", err)
	}
	if _, err = db.GetItem(store.KeyConnected); !errors.Is(err, store.ErrDataNotFound) {
		t.Errorf("GetItem after remove err:%v", err)
	}
	if err = db.RemoveItem(store.KeyConnected); !errors.Is(err, store.ErrDataNotFound) {
		t.Errorf("RemoveItem twice err:%v", err)
	}

	// a new client sees the persisted flags
	r2, err := New("redis://" + mr.Addr() + "/0")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r2.CloseRedis()

	if v, err := r2.GetItem(store.KeyUnlocked); err != nil || v != "true" {
		t.Errorf("persisted flag = %q err:%v", v, err)
	}
}

func TestNewUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	if _, err = New(addr); err == nil {
		t.Errorf("expected an error connecting to a closed server")
	}
}

func TestParseRedisURL(t *testing.T) {
	tests := []struct {
		url    string
		addrs  int
		master string
		db     int
		tls    bool
		err    bool
	}{
		{"localhost:6379", 1, "", 0, false, false},
		{"redis://:pass@localhost:6379/1", 1, "", 1, false, false},
		{"redis://host1:6379,host2:6379/0", 2, "", 0, false, false},
		{"rediss://localhost:6380?db=3", 1, "", 3, true, false},
		{"redis-sentinel://s1:26379,s2:26379/mymaster?db=2", 2, "mymaster", 2, false, false},
		{"redis://localhost:6379/x", 0, "", 0, false, true},
		{"http://localhost:6379", 0, "", 0, false, true},
	}
	for _, tc := range tests {
		opts, err := parseRedisURL(tc.url)
		if tc.err {
			if err == nil {
				t.Errorf("[%s] expected an error", tc.url)
			}

			continue
		}
		if err != nil {
			t.Errorf("[%s] err:%v", tc.url, err)

			continue
		}
		if len(opts.Addrs) != tc.addrs || opts.MasterName != tc.master || opts.DB != tc.db ||
			(opts.TLSConfig != nil) != tc.tls {
			t.Errorf("[%s] got %+v", tc.url, opts)
		}
	}
}
