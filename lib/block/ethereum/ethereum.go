// Package ethereum implements the chain interface for ethereum networks.
package ethereum

import (
	"errors"
	"math/big"

	"github.com/tarancss/ethcli"

	"github.com/tarancss/dappbridge/lib/block/types"
)

// Ethereum implements a connection to an ethereum-type chain.
type Ethereum struct {
	c  *ethcli.EthCli
	id string
}

// Init returns a connection to the ethereum node serving chainID, using secret if necessary for authentication.
func Init(chainID, node, secret string) (*Ethereum, error) {
	var err error

	c := ethcli.Init(node, secret)
	if c == nil {
		err = errors.New("Cannot connect to ethereum blockchain in " + node)
	}

	return &Ethereum{c: c, id: chainID}, err
}

// ChainID returns the hex chain id served by the node.
func (e *Ethereum) ChainID() string {
	return e.id
}

// Close ends a connection
func (e *Ethereum) Close() {
	if e.c != nil {
		e.c.End()
	}
}

// Balance loads the ether balance, and the token balance if specified, onto the provided big.Int pointers, or error
// otherwise.
func (e *Ethereum) Balance(address, token string, ethBal, tokBal *big.Int) error {
	eb, tb, err := e.c.GetBalance(address, token)
	if err != nil {
		return err
	}

	if ethBal != nil {
		ethBal.Set(eb)
	}

	if tokBal != nil {
		tokBal.Set(tb)
	}

	return nil
}

// GetBlock returns in response the block number requested. If full, it provides all the details of the transactions.
func (e *Ethereum) GetBlock(block uint64, full bool, response interface{}) (err error) {
	m, ok := response.(*map[string]interface{})
	if !ok {
		return types.ErrBlockDecode
	}

	if err = e.c.GetBlockByNumber(block, full, m); errors.Is(err, ethcli.ErrNoBlock) {
		err = types.ErrNoBlock
	}

	return
}

// DecodeBlock returns a struct with the values from the block data. It is used after a call to GetBlock.
func (e *Ethereum) DecodeBlock(t interface{}) (b types.Block, err error) {
	m, ok := t.(map[string]interface{})
	if !ok {
		err = types.ErrBlockDecode

		return
	}

	if b.Hash, ok = m["hash"].(string); !ok {
		err = types.ErrNoHash

		return
	}

	if b.PHash, ok = m["parentHash"].(string); !ok {
		err = types.ErrNoParentHash

		return
	}

	if b.Number, ok = m["number"].(string); !ok {
		err = types.ErrNoBlockNumber

		return
	}

	if b.TS, ok = m["timestamp"].(string); !ok {
		err = types.ErrNoTS
	}

	return
}
