package entities

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Chain identifies a supported blockchain.
type Chain string

const (
	ChainBitcoin     Chain = "BTC"
	ChainBitcoinCash Chain = "BCH"
	ChainEthereum    Chain = "ETH"
	ChainOptimism    Chain = "OPTIMISM"
	ChainAvalanche   Chain = "AVAX"
	ChainKusama      Chain = "KSM"
	ChainPolkadot    Chain = "DOT"
	ChainEth2        Chain = "ETH2"
)

// AllChains is the fixed enumeration order used when querying every chain.
var AllChains = []Chain{
	ChainBitcoin,
	ChainBitcoinCash,
	ChainEthereum,
	ChainOptimism,
	ChainAvalanche,
	ChainKusama,
	ChainPolkadot,
	ChainEth2,
}

// EvmChains are the chains whose accounts are EVM addresses.
var EvmChains = []Chain{ChainEthereum, ChainOptimism, ChainAvalanche}

// IsValid reports whether the chain is one of the supported chains.
func (c Chain) IsValid() bool {
	for _, chain := range AllChains {
		if c == chain {
			return true
		}
	}
	return false
}

// IsBitcoin reports whether the chain is a UTXO bitcoin-style chain.
func (c Chain) IsBitcoin() bool {
	return c == ChainBitcoin || c == ChainBitcoinCash
}

// IsSubstrate reports whether the chain is a substrate chain.
func (c Chain) IsSubstrate() bool {
	return c == ChainKusama || c == ChainPolkadot
}

// IsEvm reports whether chain accounts are EVM addresses.
func (c Chain) IsEvm() bool {
	return c == ChainEthereum || c == ChainOptimism || c == ChainAvalanche
}

// NativeAsset returns the chain's gas/native asset.
func (c Chain) NativeAsset() Asset {
	switch c {
	case ChainBitcoin:
		return AssetBTC
	case ChainBitcoinCash:
		return AssetBCH
	case ChainEthereum, ChainOptimism:
		return AssetETH
	case ChainAvalanche:
		return AssetAVAX
	case ChainKusama:
		return AssetKSM
	case ChainPolkadot:
		return AssetDOT
	case ChainEth2:
		return AssetETH2
	}
	return Asset{}
}

// Account is a chain-qualified address in the chain's canonical format.
type Account struct {
	Chain   Chain  `json:"chain"`
	Address string `json:"address"`
}

// CanonicalAddress validates an address for the chain and returns its
// canonical form: EIP-55 checksummed for EVM chains, unchanged otherwise.
// Bitcoin Cash addresses keep the format they were supplied in; format
// differences are handled at comparison time via NormalizedAddress.
func (c Chain) CanonicalAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", NewInputError("empty address given")
	}
	if c.IsEvm() {
		if !common.IsHexAddress(address) {
			return "", NewInputError(fmt.Sprintf("%s is not a valid %s address", address, c))
		}
		return common.HexToAddress(address).Hex(), nil
	}
	return address, nil
}

// NormalizedAddress returns the form used for equality comparison. Chains
// with multiple valid encodings of the same key material collapse to one:
// Bitcoin Cash addresses are forced to the legacy base58 encoding and EVM
// addresses to the checksummed form.
func (c Chain) NormalizedAddress(address string) (string, error) {
	switch {
	case c == ChainBitcoinCash:
		return ForceToLegacyAddress(address)
	case c.IsEvm():
		return c.CanonicalAddress(address)
	default:
		return address, nil
	}
}
