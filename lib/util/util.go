// Package util contains small helpers shared by the provider and host packages.
package util

import (
	"errors"
	"strconv"
	"strings"
)

// ErrNotHex is returned for quantities that are not 0x-prefixed hexadecimal numbers.
var ErrNotHex = errors.New("not a 0x-prefixed hex quantity")

// In reports whether s is one of names.
func In(names []string, s string) bool {
	for _, n := range names {
		if n == s {
			return true
		}
	}

	return false
}

// HexUint decodes a 0x-prefixed hex quantity (ie. "0x29bf9b") as used in JSON-RPC params.
func HexUint(q string) (uint64, error) {
	if !strings.HasPrefix(q, "0x") {
		return 0, ErrNotHex
	}

	n, err := strconv.ParseUint(q[2:], 16, 64) //nolint:gomnd // hex uint64
	if err != nil {
		return 0, ErrNotHex
	}

	return n, nil
}
