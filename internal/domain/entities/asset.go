package entities

import (
	"strings"
)

// Asset identifies a crypto asset. EVM tokens carry their contract address
// and on-chain decimals; native assets leave those fields empty. Assets are
// used as map keys so instances must always come from the package-level
// definitions or the token registry to keep equality meaningful.
type Asset struct {
	Identifier string
	Symbol     string
	EvmAddress string // lowercase hex, empty for non-EVM assets
	Decimals   int
}

// IsEvmToken reports whether the asset is an EVM contract token.
func (a Asset) IsEvmToken() bool {
	return a.EvmAddress != ""
}

// Native chain assets.
var (
	AssetETH  = Asset{Identifier: "ETH", Symbol: "ETH", Decimals: 18}
	AssetETH2 = Asset{Identifier: "ETH2", Symbol: "ETH2", Decimals: 18}
	AssetBTC  = Asset{Identifier: "BTC", Symbol: "BTC", Decimals: 8}
	AssetBCH  = Asset{Identifier: "BCH", Symbol: "BCH", Decimals: 8}
	AssetKSM  = Asset{Identifier: "KSM", Symbol: "KSM", Decimals: 12}
	AssetDOT  = Asset{Identifier: "DOT", Symbol: "DOT", Decimals: 10}
	AssetAVAX = Asset{Identifier: "AVAX", Symbol: "AVAX", Decimals: 18}
)

// Well known EVM tokens used by the protocol readers.
var (
	AssetDAI  = evmToken("DAI", "0x6b175474e89094c44da98b954eedeac495271d0f", 18)
	AssetLUSD = evmToken("LUSD", "0x5f98805a4e8be255a32880fdec7f6728c6568ba0", 18)
	AssetLQTY = evmToken("LQTY", "0x6dea81c8171d0ba574754ef6f8b412f2ed88c54d", 18)
	AssetWBTC = evmToken("WBTC", "0x2260fac5e5542a773aa44fbcfedf7c193bc2c599", 8)
	AssetUSDC = evmToken("USDC", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", 6)
	AssetUSDT = evmToken("USDT", "0xdac17f958d2ee523a2206206994597c13d831ec7", 6)
	AssetLINK = evmToken("LINK", "0x514910771af9ca656af840dff83e8264ecf986ca", 18)
	AssetYFI  = evmToken("YFI", "0x0bc529c00c6401aef6d220be8c6ea1667f6ad93e", 18)
	AssetBAT  = evmToken("BAT", "0x0d8775f648430679a709e98d2b0cb6250d2887ef", 18)
	AssetUNI  = evmToken("UNI", "0x1f9840a85d5af5bf1d1762f925bdaddc4201f984", 18)
	AssetGUSD = evmToken("GUSD", "0x056fd409e1d7a124bd7017459dfea2f387b6d5cd", 2)
	AssetAAVE = evmToken("AAVE", "0x7fc66500c84a76ad7e9c93437bfc5ac33e2ddae9", 18)
	AssetMANA = evmToken("MANA", "0x0f5d2fb29fb7d3cfee444a200298f468908cc942", 18)
)

func evmToken(symbol, address string, decimals int) Asset {
	return Asset{
		Identifier: "eip155:1/erc20:" + address,
		Symbol:     symbol,
		EvmAddress: address,
		Decimals:   decimals,
	}
}

var tokensByAddress = buildTokenIndex(
	AssetDAI, AssetLUSD, AssetLQTY, AssetWBTC, AssetUSDC, AssetUSDT,
	AssetLINK, AssetYFI, AssetBAT, AssetUNI, AssetGUSD, AssetAAVE, AssetMANA,
)

func buildTokenIndex(assets ...Asset) map[string]Asset {
	index := make(map[string]Asset, len(assets))
	for _, asset := range assets {
		index[asset.EvmAddress] = asset
	}
	return index
}

// TokenByAddress resolves an EVM contract address to a known token asset.
// The second return is false for addresses outside the known token set.
func TokenByAddress(address string) (Asset, bool) {
	asset, ok := tokensByAddress[strings.ToLower(address)]
	return asset, ok
}

// RegisterToken adds a token to the known set. Intended for tests and for
// wiring chain-specific token lists at startup.
func RegisterToken(asset Asset) {
	tokensByAddress[strings.ToLower(asset.EvmAddress)] = asset
}

// KnownTokens returns all tokens in the known set.
func KnownTokens() []Asset {
	tokens := make([]Asset, 0, len(tokensByAddress))
	for _, asset := range tokensByAddress {
		tokens = append(tokens, asset)
	}
	return tokens
}
