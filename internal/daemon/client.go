package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client connects to a running daemon over its loopback TCP port,
// reading the port and bearer token from the run directory.
type Client struct {
	cfg     Config
	timeout time.Duration
}

// NewClient creates a client bound to cfg's run directory.
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg, timeout: cfg.Timeout}
}

// readEndpoint loads the persisted port and token, returning an error
// if the daemon hasn't published them (not running, or still starting).
func (c *Client) readEndpoint() (addr string, token string, err error) {
	data, err := os.ReadFile(c.cfg.ServerFilePath())
	if err != nil {
		return "", "", fmt.Errorf("daemon not running: %w", err)
	}
	var info ServerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return "", "", fmt.Errorf("corrupt server info: %w", err)
	}

	tokenData, err := os.ReadFile(c.cfg.TokenPath())
	if err != nil {
		return "", "", fmt.Errorf("daemon token not found: %w", err)
	}

	return fmt.Sprintf("%s:%d", c.cfg.Host, info.Port), strings.TrimSpace(string(tokenData)), nil
}

// Connect establishes a connection to the daemon.
func (c *Client) Connect() (net.Conn, string, error) {
	addr, token, err := c.readEndpoint()
	if err != nil {
		return nil, "", err
	}
	conn, err := net.DialTimeout("tcp", addr, c.timeout)
	if err != nil {
		return nil, "", fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return conn, token, nil
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, _, err := c.Connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// call sends method/params and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	conn, token, err := c.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		Token:   token,
		ID:      c.nextID(),
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("failed to receive response: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s failed: %s (code: %d)", method, resp.Error.Message, resp.Error.Code)
	}
	if out == nil {
		return nil
	}

	data, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

// Ping checks if the daemon is responsive.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, MethodPing, nil, &PingResult{})
}

// Status retrieves daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var result StatusResult
	if err := c.call(ctx, MethodStatus, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Search sends a search request to the daemon.
func (c *Client) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	var result SearchResult
	if err := c.call(ctx, MethodSearch, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CurrentEpoch asks the daemon for its current epoch.
func (c *Client) CurrentEpoch(ctx context.Context) (int64, error) {
	var result CurrentEpochResult
	if err := c.call(ctx, MethodCurrentEpoch, nil, &result); err != nil {
		return 0, err
	}
	return result.Epoch, nil
}

// nextID generates a request ID unique enough to correlate a request
// with its response in the daemon's logs across concurrent clients.
func (c *Client) nextID() string {
	return uuid.NewString()
}
