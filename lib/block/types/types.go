// Package types common blockchain types.
package types

import (
	"errors"
)

// Block contains a simplified list of block fields.
type Block struct {
	Hash   string `json:"hash"`
	PHash  string `json:"parentHash"`
	Number string `json:"number"`
	TS     string `json:"timestamp"`
}

// Error codes.
var (
	ErrBlockDecode   = errors.New("unable to decode block data into Block type")
	ErrNoBlockNumber = errors.New("block data does not contain a block number")
	ErrNoTS          = errors.New("block data does not contain a timestamp")
	ErrNoHash        = errors.New("block data does not contain a hash")
	ErrNoParentHash  = errors.New("block data does not contain a parenthash")
	ErrNoBlock       = errors.New("block not available yet")
	ErrUnknownChain  = errors.New("chain not configured")
)
