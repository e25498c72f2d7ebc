package substrate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/config"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// nodeAvailabilityPollInterval is how often a bounded wait rechecks for a
// usable node connection.
const nodeAvailabilityPollInterval = 500 * time.Millisecond

// Manager maintains connections to the sidecar endpoints of one substrate
// chain. Balance queries need a connected node, unlike the stateless
// explorer APIs of the UTXO chains, so callers may have to wait for
// connectivity first.
type Manager struct {
	cfg    config.SubstrateConfig
	chain  entities.Chain
	client *http.Client
	logger *zap.Logger

	mu             sync.RWMutex
	connectedNodes []string
	connecting     bool
}

// NewManager creates a substrate chain manager. It does not connect; the
// first account addition triggers AttemptConnections.
func NewManager(cfg config.SubstrateConfig, chain entities.Chain, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		chain:  chain,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
	}
}

// HasConnectedNode reports whether any node connection is usable.
func (m *Manager) HasConnectedNode() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connectedNodes) > 0
}

// AttemptConnections probes every configured node in the background and
// records the reachable ones. Repeated calls while probing is already in
// progress are no-ops.
func (m *Manager) AttemptConnections() {
	m.mu.Lock()
	if m.connecting {
		m.mu.Unlock()
		return
	}
	m.connecting = true
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			m.connecting = false
			m.mu.Unlock()
		}()

		for _, nodeURL := range m.cfg.NodeURLs {
			nodeURL = strings.TrimRight(nodeURL, "/")
			if err := m.probeNode(nodeURL); err != nil {
				m.logger.Warn("Substrate node unreachable",
					zap.String("chain", string(m.chain)),
					zap.String("node", nodeURL),
					zap.Error(err),
				)
				continue
			}

			m.mu.Lock()
			m.connectedNodes = append(m.connectedNodes, nodeURL)
			m.mu.Unlock()
			m.logger.Info("Connected to substrate node",
				zap.String("chain", string(m.chain)),
				zap.String("node", nodeURL),
			)
		}
	}()
}

func (m *Manager) probeNode(nodeURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nodeURL+"/node/version", nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node version check returned status %d", resp.StatusCode)
	}
	return nil
}

// WaitUntilNodeAvailable blocks until a node becomes reachable or the
// timeout elapses.
func (m *Manager) WaitUntilNodeAvailable(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(nodeAvailabilityPollInterval)
	defer ticker.Stop()

	for {
		if m.HasConnectedNode() {
			return nil
		}
		if time.Now().After(deadline) {
			return entities.NewRemoteError(
				fmt.Sprintf("no %s node became available within %s", m.chain, timeout),
				nil,
			)
		}
		select {
		case <-ctx.Done():
			return entities.NewRemoteError(
				fmt.Sprintf("wait for a %s node was cancelled", m.chain),
				ctx.Err(),
			)
		case <-ticker.C:
		}
	}
}

type balanceInfo struct {
	Free string `json:"free"`
}

// AccountsBalance fetches the native balances of the addresses from the
// first connected node.
func (m *Manager) AccountsBalance(ctx context.Context, addresses []string) (map[string]decimal.Decimal, error) {
	m.mu.RLock()
	var node string
	if len(m.connectedNodes) > 0 {
		node = m.connectedNodes[0]
	}
	m.mu.RUnlock()
	if node == "" {
		return nil, entities.NewRemoteError(
			fmt.Sprintf("no connected %s node to query balances from", m.chain),
			nil,
		)
	}

	scale := decimal.New(1, int32(m.chain.NativeAsset().Decimals))
	balances := make(map[string]decimal.Decimal, len(addresses))
	for _, address := range addresses {
		endpoint := fmt.Sprintf("%s/accounts/%s/balance-info", node, address)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, entities.NewRemoteError("failed to build balance request", err)
		}
		resp, err := m.client.Do(req)
		if err != nil {
			return nil, entities.NewRemoteError(
				fmt.Sprintf("%s balance query for %s failed", m.chain, address),
				err,
			)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, entities.NewRemoteError(
				fmt.Sprintf("%s node returned status %d for %s", m.chain, resp.StatusCode, address),
				nil,
			)
		}

		var info balanceInfo
		err = json.NewDecoder(resp.Body).Decode(&info)
		resp.Body.Close()
		if err != nil {
			return nil, entities.NewRemoteError("failed to decode balance response", err)
		}

		planck, err := decimal.NewFromString(info.Free)
		if err != nil {
			return nil, entities.NewRemoteError(
				fmt.Sprintf("%s node returned malformed balance %q", m.chain, info.Free),
				err,
			)
		}
		balances[address] = planck.Div(scale)
	}

	return balances, nil
}
