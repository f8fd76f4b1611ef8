package mcp

import (
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

const defaultServerMaxPayloadBytes = 1 << 20

type ServerRuntimeConfig struct {
	// MaxPayloadBytes caps raw tool arguments; a configuration override is
	// the largest legitimate payload.
	MaxPayloadBytes int
}

func defaultServerRuntimeConfig() ServerRuntimeConfig {
	return ServerRuntimeConfig{MaxPayloadBytes: defaultServerMaxPayloadBytes}
}

func (c ServerRuntimeConfig) Validate() error {
	if c.MaxPayloadBytes < 0 {
		return fmt.Errorf("max payload bytes must be >= 0")
	}
	return nil
}

type requestGuards struct {
	maxPayloadBytes int
}

func newRequestGuards(cfg ServerRuntimeConfig) *requestGuards {
	if cfg.MaxPayloadBytes <= 0 {
		cfg = defaultServerRuntimeConfig()
	}
	return &requestGuards{maxPayloadBytes: cfg.MaxPayloadBytes}
}

func (g *requestGuards) check(tool string, payload []byte) error {
	if len(payload) > g.maxPayloadBytes {
		return wireError(
			jsonrpc.CodeInvalidParams,
			"request payload exceeds configured limit",
			map[string]any{
				"tool":          tool,
				"payload_bytes": len(payload),
				"max_bytes":     g.maxPayloadBytes,
			},
		)
	}
	return nil
}
