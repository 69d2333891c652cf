package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// GetAccountInfo returns account balances and basic flags.
func (c *Client) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	body, err := c.Request(ctx, http.MethodGet, "/api/v3/account", true, nil)
	if err != nil {
		return nil, err
	}
	var info AccountInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode account info: %w", err)
	}
	return &info, nil
}

// GetBalances returns all non-zero asset balances.
func (c *Client) GetBalances(ctx context.Context) ([]Balance, error) {
	info, err := c.GetAccountInfo(ctx)
	if err != nil {
		return nil, err
	}
	balances := make([]Balance, 0, len(info.Balances))
	for _, b := range info.Balances {
		free := toFloat(b.Free)
		locked := toFloat(b.Locked)
		if free > 0 || locked > 0 {
			balances = append(balances, Balance{Asset: b.Asset, Free: free, Locked: locked})
		}
	}
	return balances, nil
}

// GetBalance returns the balance for one asset, or false if the asset has
// no balance at all.
func (c *Client) GetBalance(ctx context.Context, asset string) (Balance, bool, error) {
	balances, err := c.GetBalances(ctx)
	if err != nil {
		return Balance{}, false, err
	}
	for _, b := range balances {
		if b.Asset == asset {
			return b, true, nil
		}
	}
	return Balance{}, false, nil
}
