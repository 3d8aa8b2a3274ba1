// Package block defines the interface required for the chains the host answers requests for.
package block

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tarancss/dappbridge/lib/block/ethereum"
	"github.com/tarancss/dappbridge/lib/block/types"
	"github.com/tarancss/dappbridge/lib/config"
)

// Chain is an interface that contains the methods the host needs from a chain client.
type Chain interface {
	ChainID() string
	Close()
	Balance(account, token string, bal, tokBal *big.Int) error
	GetBlock(block uint64, full bool, response interface{}) error
	DecodeBlock(b interface{}) (types.Block, error)
}

// Init loads all the clients read from the config into a map keyed by lower case chain id.
func Init(bc []config.BlockConfig, log zerolog.Logger) (map[string]Chain, error) {
	m := make(map[string]Chain)

	for _, block := range bc {
		if block.ChainID == "" || block.Node == "" {
			log.Warn().Str("name", block.Name).Msg("chain without chainId or node. Ignoring...")

			continue
		}

		e, err := ethereum.Init(block.ChainID, block.Node, block.Secret)
		if err != nil {
			End(m)

			return nil, fmt.Errorf("cannot connect to %s: %w", block.Name, err)
		}

		m[strings.ToLower(block.ChainID)] = e
		log.Info().Str("name", block.Name).Str("chainId", block.ChainID).Msg("chain client ready")
	}

	return m, nil
}

// End closes gracefully all the blockchain clients opened.
func End(bc map[string]Chain) {
	for _, block := range bc {
		block.Close()
	}
}
