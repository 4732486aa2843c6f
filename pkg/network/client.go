package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/meta-node-blockchain/ben-or/pkg/benor"
	"github.com/meta-node-blockchain/ben-or/pkg/common"
)

var ErrUnexpectedStatus = errors.New("unexpected response status")

// Client gọi các endpoint của một node qua HTTP.
type Client struct {
	base string
	http *http.Client
}

func NewClient(addr string, timeout time.Duration) *Client {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return &Client{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

func (c *Client) do(ctx context.Context, method, route string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+route, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

// statusError maps a non-200 response: 500 "faulty" becomes ErrFaulty.
func statusError(route string, code int, body []byte) error {
	if code == http.StatusInternalServerError && string(body) == common.StatusFaulty {
		return fmt.Errorf("%s: %w", route, benor.ErrFaulty)
	}
	return fmt.Errorf("%s: %w %d: %s", route, ErrUnexpectedStatus, code, strings.TrimSpace(string(body)))
}

// Status trả về "live" hoặc "faulty".
func (c *Client) Status(ctx context.Context) (string, error) {
	code, body, err := c.do(ctx, http.MethodGet, common.RouteStatus, nil)
	if err != nil {
		return "", err
	}
	if code != http.StatusOK {
		return string(body), statusError(common.RouteStatus, code, body)
	}
	return string(body), nil
}

func (c *Client) expectSuccess(ctx context.Context, method, route string, body []byte) error {
	code, data, err := c.do(ctx, method, route, body)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return statusError(route, code, data)
	}
	var resp SuccessResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("%s: decode response: %w", route, err)
	}
	if !resp.Success {
		return fmt.Errorf("%s: %w: success=false", route, ErrUnexpectedStatus)
	}
	return nil
}

func (c *Client) Start(ctx context.Context) error {
	return c.expectSuccess(ctx, http.MethodGet, common.RouteStart, nil)
}

func (c *Client) Stop(ctx context.Context) error {
	return c.expectSuccess(ctx, http.MethodGet, common.RouteStop, nil)
}

// SendMessage gửi một phiếu tới node.
func (c *Client) SendMessage(ctx context.Context, v benor.Vote) error {
	body, err := encodeVote(v)
	if err != nil {
		return err
	}
	return c.expectSuccess(ctx, http.MethodPost, common.RouteMessage, body)
}

// State returns the node's state. A faulty node answers 500 with all-null
// fields; that body is returned together with ErrFaulty.
func (c *Client) State(ctx context.Context) (StateResponse, error) {
	code, data, err := c.do(ctx, http.MethodGet, common.RouteGetState, nil)
	if err != nil {
		return StateResponse{}, err
	}
	var resp StateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return StateResponse{}, fmt.Errorf("%s: decode response: %w", common.RouteGetState, err)
	}
	switch code {
	case http.StatusOK:
		return resp, nil
	case http.StatusInternalServerError:
		return resp, fmt.Errorf("%s: %w", common.RouteGetState, benor.ErrFaulty)
	default:
		return resp, statusError(common.RouteGetState, code, data)
	}
}
