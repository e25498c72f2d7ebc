package entities

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Balance pairs an asset amount with the USD value it had at query time.
// The USD value is captured once when the balance is built and is never
// recomputed from the amount afterwards.
type Balance struct {
	Amount   decimal.Decimal `json:"amount"`
	USDValue decimal.Decimal `json:"usd_value"`
}

// NewBalance builds a balance from an amount and the current unit price.
func NewBalance(amount, usdPrice decimal.Decimal) Balance {
	return Balance{
		Amount:   amount,
		USDValue: amount.Mul(usdPrice),
	}
}

// Add returns the component-wise sum of two balances.
func (b Balance) Add(other Balance) Balance {
	return Balance{
		Amount:   b.Amount.Add(other.Amount),
		USDValue: b.USDValue.Add(other.USDValue),
	}
}

// Sub returns the component-wise difference of two balances.
func (b Balance) Sub(other Balance) Balance {
	return Balance{
		Amount:   b.Amount.Sub(other.Amount),
		USDValue: b.USDValue.Sub(other.USDValue),
	}
}

// Neg returns the balance with both components negated.
func (b Balance) Neg() Balance {
	return Balance{
		Amount:   b.Amount.Neg(),
		USDValue: b.USDValue.Neg(),
	}
}

// IsZero reports whether both components are zero.
func (b Balance) IsZero() bool {
	return b.Amount.IsZero() && b.USDValue.IsZero()
}

// BalanceSheet maps assets and liabilities to their balances for a single
// account. Adding to a sheet accumulates into the existing entry for the
// asset instead of overwriting it.
type BalanceSheet struct {
	Assets      map[Asset]Balance
	Liabilities map[Asset]Balance
}

// NewBalanceSheet creates an empty balance sheet.
func NewBalanceSheet() *BalanceSheet {
	return &BalanceSheet{
		Assets:      make(map[Asset]Balance),
		Liabilities: make(map[Asset]Balance),
	}
}

// AddAsset accumulates a balance into the sheet's asset entry for the asset.
func (s *BalanceSheet) AddAsset(asset Asset, balance Balance) {
	s.Assets[asset] = s.Assets[asset].Add(balance)
}

// SetAsset overwrites the sheet's asset entry for the asset.
func (s *BalanceSheet) SetAsset(asset Asset, balance Balance) {
	s.Assets[asset] = balance
}

// AddLiability accumulates a balance into the sheet's liability entry.
func (s *BalanceSheet) AddLiability(asset Asset, balance Balance) {
	s.Liabilities[asset] = s.Liabilities[asset].Add(balance)
}

// AddSheet accumulates every entry of the other sheet into this one.
func (s *BalanceSheet) AddSheet(other *BalanceSheet) {
	if other == nil {
		return
	}
	for asset, balance := range other.Assets {
		s.AddAsset(asset, balance)
	}
	for asset, balance := range other.Liabilities {
		s.AddLiability(asset, balance)
	}
}

// Copy returns a deep copy of the sheet.
func (s *BalanceSheet) Copy() *BalanceSheet {
	c := NewBalanceSheet()
	for asset, balance := range s.Assets {
		c.Assets[asset] = balance
	}
	for asset, balance := range s.Liabilities {
		c.Liabilities[asset] = balance
	}
	return c
}

// IsEmpty reports whether the sheet holds no entries at all.
func (s *BalanceSheet) IsEmpty() bool {
	return len(s.Assets) == 0 && len(s.Liabilities) == 0
}

// TotalUSDValue returns the USD value of all assets minus all liabilities.
func (s *BalanceSheet) TotalUSDValue() decimal.Decimal {
	total := decimal.Zero
	for _, balance := range s.Assets {
		total = total.Add(balance.USDValue)
	}
	for _, balance := range s.Liabilities {
		total = total.Sub(balance.USDValue)
	}
	return total
}

// MarshalJSON renders the sheet keyed by asset identifier.
func (s *BalanceSheet) MarshalJSON() ([]byte, error) {
	assets := make(map[string]Balance, len(s.Assets))
	for asset, balance := range s.Assets {
		assets[asset.Identifier] = balance
	}
	liabilities := make(map[string]Balance, len(s.Liabilities))
	for asset, balance := range s.Liabilities {
		liabilities[asset.Identifier] = balance
	}
	return json.Marshal(struct {
		Assets      map[string]Balance `json:"assets"`
		Liabilities map[string]Balance `json:"liabilities"`
	}{
		Assets:      assets,
		Liabilities: liabilities,
	})
}
