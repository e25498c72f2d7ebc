package entities

// BalanceType tags a protocol position as an asset or a debt.
type BalanceType string

const (
	BalanceTypeAsset BalanceType = "Asset"
	BalanceTypeDebt  BalanceType = "Debt"
)

// ProtocolPosition is one position reported by the generic DeFi adapter for
// an address. Positions are produced fresh on every adapter query and only
// live inside the current cache window.
type ProtocolPosition struct {
	Protocol     string      `json:"protocol"`
	BalanceType  BalanceType `json:"balance_type"`
	TokenSymbol  string      `json:"token_symbol"`
	TokenAddress string      `json:"token_address"`
	Balance      Balance     `json:"balance"`
}
