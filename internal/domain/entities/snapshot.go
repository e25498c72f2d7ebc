package entities

// Snapshot is the consolidated balances view returned to callers: the
// per-chain per-account sheets plus the totals aggregated across all chains.
// It is a deep copy decoupled from the aggregator's internal state.
type Snapshot struct {
	GivenChain *Chain                             `json:"given_chain,omitempty"`
	PerAccount map[Chain]map[string]*BalanceSheet `json:"per_account"`
	Totals     *BalanceSheet                      `json:"totals"`
}
