package solana

import (
	"time"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/rpc"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// DefaultRPCRetries is used when Config.RPCRetries is zero.
const DefaultRPCRetries = 3

// NewRPCClient returns a blocto client whose HTTP transport retries
// connection errors, 429s and 5xx responses. retries < 0 disables retrying.
func NewRPCClient(endpoint string, retries int, log zerolog.Logger) *client.Client {
	if retries == 0 {
		retries = DefaultRPCRetries
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = max(retries, 0)
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 4 * time.Second
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = leveledLogger{log: log.With().Str("component", "rpc").Logger()}

	return client.New(rpc.WithEndpoint(endpoint), rpc.WithHTTPClient(rc.StandardClient()))
}

// leveledLogger adapts zerolog to retryablehttp.LeveledLogger. Request
// chatter goes to debug.
type leveledLogger struct {
	log zerolog.Logger
}

func (l leveledLogger) Error(msg string, kv ...any) { l.log.Error().Fields(kv).Msg(msg) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.log.Warn().Fields(kv).Msg(msg) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.log.Debug().Fields(kv).Msg(msg) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.log.Debug().Fields(kv).Msg(msg) }
