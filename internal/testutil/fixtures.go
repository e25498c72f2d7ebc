package testutil

import (
	"github.com/shopspring/decimal"

	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// Common test addresses
const (
	AliceAddress = "0x1111111111111111111111111111111111111111"
	BobAddress   = "0x2222222222222222222222222222222222222222"
	CharlieAddr  = "0x3333333333333333333333333333333333333333"

	// Satoshi's genesis address and its bitcoincash re-encoding of a
	// well-known key, for address normalization tests.
	BtcAddress       = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
	BchLegacyAddress = "1BpEi6DfDAUFd7GtittLSdBeYJvcoaVggu"
	BchCashAddress   = "bitcoincash:qpm2qsznhks23z7629mms6s4cwef74vcwvy22gdx6a"

	KsmAddress = "CpjsLDC1JFyrhm3ftC9Gs4QoyrkHKhZKtK7YqGTRFtTafgp"
)

// Dec parses a decimal literal, panicking on malformed input. Test-only.
func Dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

// NewTestBalance builds a balance from amount and unit price literals.
func NewTestBalance(amount, usdPrice string) entities.Balance {
	return entities.NewBalance(Dec(amount), Dec(usdPrice))
}

// NewTestPosition builds a protocol position with the given value already
// priced in USD at 1:1.
func NewTestPosition(protocol, symbol, tokenAddress string, balanceType entities.BalanceType, amount string) entities.ProtocolPosition {
	return entities.ProtocolPosition{
		Protocol:     protocol,
		BalanceType:  balanceType,
		TokenSymbol:  symbol,
		TokenAddress: tokenAddress,
		Balance:      NewTestBalance(amount, "1"),
	}
}
