package ton

import (
	"context"
	"fmt"
	"strings"

	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/ton"
	"go.uber.org/zap"
)

// NetworkConfig selects how to reach the TON network.
type NetworkConfig struct {
	Network        string // mainnet/testnet
	LiteServerHost string
	LiteServerPort int
	LiteServerKey  string
}

// Connect establishes a connection to the TON network.
// If a lite server host and key are set, connects to that lite server.
// Otherwise, auto-discovers lite servers from the global config for the network.
func Connect(ctx context.Context, cfg NetworkConfig, log *zap.Logger) (ton.APIClientWrapped, error) {
	client := liteclient.NewConnectionPool()

	if cfg.LiteServerHost != "" && cfg.LiteServerKey != "" {
		addr := fmt.Sprintf("%s:%d", cfg.LiteServerHost, cfg.LiteServerPort)
		log.Info("connecting to lite server", zap.String("addr", addr))
		if err := client.AddConnection(ctx, addr, cfg.LiteServerKey); err != nil {
			return nil, fmt.Errorf("connect to lite server %s: %w", addr, err)
		}
	} else {
		configURL := globalConfigURL(cfg.Network)
		log.Info("connecting via global config", zap.String("url", configURL), zap.String("network", cfg.Network))
		if err := client.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
			return nil, fmt.Errorf("connect via config %s: %w", configURL, err)
		}
	}

	proofPolicy := ton.ProofCheckPolicyFast
	if isMainnet(cfg.Network) {
		proofPolicy = ton.ProofCheckPolicySecure
	}

	return ton.NewAPIClient(client, proofPolicy).WithRetry(), nil
}

func isMainnet(network string) bool {
	return strings.ToLower(network) == "mainnet"
}

func globalConfigURL(network string) string {
	if isMainnet(network) {
		return "https://ton.org/global.config.json"
	}
	return "https://ton.org/testnet-global.config.json"
}
