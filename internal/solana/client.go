package solana

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/rpc"
	"github.com/blocto/solana-go-sdk/types"
	"github.com/rs/zerolog"
)

// Cluster RPC endpoints accepted by Config.Cluster.
var clusterEndpoints = map[string]string{
	"devnet":       rpc.DevnetRPCEndpoint,
	"testnet":      rpc.TestnetRPCEndpoint,
	"mainnet-beta": rpc.MainnetRPCEndpoint,
	"localnet":     rpc.LocalnetRPCEndpoint,
}

// Collection describes the metadata written for every minted asset.
type Collection struct {
	Name         string
	Symbol       string
	URIPrefix    string
	SellerFeeBps uint16
}

// Config configures a Client.
type Config struct {
	// RPCURL wins over Cluster when set.
	RPCURL  string
	Cluster string

	Collection Collection

	// Memo adds an spl-memo instruction with the channel tag to every mint.
	Memo bool

	// RPCRetries bounds HTTP-level retries per RPC call. Zero means
	// DefaultRPCRetries, negative disables them.
	RPCRetries int

	// ConfirmInterval is the signature status poll interval and
	// ConfirmTimeout bounds the wait for confirmed commitment. Zero means
	// DefaultConfirmInterval and DefaultConfirmTimeout.
	ConfirmInterval time.Duration
	ConfirmTimeout  time.Duration
}

// Endpoint resolves the RPC URL.
func (c Config) Endpoint() (string, error) {
	if u := strings.TrimSpace(c.RPCURL); u != "" {
		return u, nil
	}
	cluster := c.Cluster
	if cluster == "" {
		cluster = "devnet"
	}
	u, ok := clusterEndpoints[cluster]
	if !ok {
		return "", fmt.Errorf("unknown cluster %q", c.Cluster)
	}
	return u, nil
}

// Client mints and delivers NFTs on behalf of one authority account. The
// authority pays fees, holds mint authority, and is the source of deliveries.
type Client struct {
	rpc       *client.Client
	authority types.Account
	cfg       Config
	log       zerolog.Logger
}

// NewClient creates a Client. The authority account is held by the Client
// rather than any package-level state.
func NewClient(cfg Config, authority types.Account, log zerolog.Logger) (*Client, error) {
	if authority.PublicKey == (common.PublicKey{}) {
		return nil, errors.New("solana: authority account is empty")
	}
	endpoint, err := cfg.Endpoint()
	if err != nil {
		return nil, fmt.Errorf("solana: %w", err)
	}
	return &Client{
		rpc:       NewRPCClient(endpoint, cfg.RPCRetries, log),
		authority: authority,
		cfg:       cfg,
		log:       log.With().Str("component", "solana").Str("authority", authority.PublicKey.ToBase58()).Logger(),
	}, nil
}

// Authority returns the authority's address.
func (c *Client) Authority() string {
	return c.authority.PublicKey.ToBase58()
}

// RPC exposes the underlying client for the history reader.
func (c *Client) RPC() *client.Client {
	return c.rpc
}

// maskShort shortens an address for log lines.
func maskShort(s string) string {
	t := strings.TrimSpace(s)
	if len(t) <= 10 {
		return t
	}
	return t[:4] + "..." + t[len(t)-4:]
}
