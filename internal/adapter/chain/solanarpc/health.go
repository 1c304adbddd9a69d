package solanarpc

import (
	"context"
	"fmt"
)

// Ping checks that the RPC node reports itself healthy.
func (c *Client) Ping(ctx context.Context) error {
	status, err := c.api.GetHealth(ctx)
	if err != nil {
		return err
	}
	if status != "ok" {
		return fmt.Errorf("rpc node status %q", status)
	}
	return nil
}

// Name returns the dependency name.
func (c *Client) Name() string {
	return "solana-rpc"
}
