package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// CreateListenKey opens a user data stream and returns its listen key.
// The key expires after 60 minutes unless kept alive.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	body, err := c.Request(ctx, http.MethodPost, "/api/v3/userDataStream", false, url.Values{})
	if err != nil {
		return "", err
	}
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode listen key: %w", err)
	}
	if resp.ListenKey == "" {
		return "", fmt.Errorf("empty listen key in response")
	}
	return resp.ListenKey, nil
}

// KeepAliveListenKey extends a listen key's validity by 60 minutes.
func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	_, err := c.Request(ctx, http.MethodPut, "/api/v3/userDataStream", false, params)
	return err
}

// CloseListenKey terminates a user data stream.
func (c *Client) CloseListenKey(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	_, err := c.Request(ctx, http.MethodDelete, "/api/v3/userDataStream", false, params)
	return err
}
