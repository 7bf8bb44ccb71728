package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/walletlink/service/sdk"
	"github.com/brojonat/walletlink/service/wallet"
)

// ErrStopStream can be returned from a stream callback to end the stream
// without an error.
var ErrStopStream = errors.New("stop stream")

// BitcoinWallet is a supported Bitcoin wallet the server found among the
// globals a host reported.
type BitcoinWallet struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Global string `json:"global"`
}

// Client is the HTTP client for the walletlink service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new walletlink client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// GetState returns the current wallet fact and session state.
func (c *Client) GetState(ctx context.Context) (*wallet.State, error) {
	var state wallet.State
	if err := c.do(ctx, http.MethodGet, "/api/v1/wallet", nil, http.StatusOK, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// RequestDisconnect asks whichever chain owns the connection to disconnect.
// The returned state already has the fact cleared.
func (c *Client) RequestDisconnect(ctx context.Context) (*wallet.State, error) {
	var state wallet.State
	if err := c.do(ctx, http.MethodPost, "/api/v1/wallet/disconnect", nil, http.StatusOK, &state); err != nil {
		return nil, err
	}
	c.logger.Debug("disconnect requested")
	return &state, nil
}

// ClearError dismisses the session error.
func (c *Client) ClearError(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/wallet/error", nil, http.StatusNoContent, nil)
}

// Connect starts a connect on chain with the named wallet. It returns once the
// request reached the wallet host, not once the wallet connected.
func (c *Client) Connect(ctx context.Context, chain wallet.Chain, walletName string) (*wallet.State, error) {
	body := map[string]string{"wallet_name": walletName}
	var state wallet.State
	path := fmt.Sprintf("/api/v1/chains/%s/connect", chain)
	if err := c.do(ctx, http.MethodPost, path, body, http.StatusAccepted, &state); err != nil {
		return nil, err
	}
	c.logger.Debug("connect requested", "chain", chain.String(), "wallet_name", walletName)
	return &state, nil
}

// PushStatus reports a chain's native SDK status on behalf of a wallet host.
func (c *Client) PushStatus(ctx context.Context, chain wallet.Chain, status sdk.Status) error {
	path := fmt.Sprintf("/api/v1/chains/%s/status", chain)
	return c.do(ctx, http.MethodPost, path, status, http.StatusNoContent, nil)
}

// DiscoverBitcoin returns the supported Bitcoin wallets among globals.
func (c *Client) DiscoverBitcoin(ctx context.Context, globals []string) ([]BitcoinWallet, error) {
	var resp struct {
		Wallets []BitcoinWallet `json:"wallets"`
	}
	body := map[string][]string{"globals": globals}
	if err := c.do(ctx, http.MethodPost, "/api/v1/bitcoin/discover", body, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Wallets, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}

// StreamState calls fn with every state the server streams until ctx is done
// or fn returns an error. ErrStopStream ends the stream cleanly.
func (c *Client) StreamState(ctx context.Context, fn func(wallet.State) error) error {
	return c.stream(ctx, "/api/v1/stream/wallet", func(event string, data []byte) error {
		if event != "state" {
			return nil
		}
		var state wallet.State
		if err := json.Unmarshal(data, &state); err != nil {
			return fmt.Errorf("failed to decode state: %w", err)
		}
		return fn(state)
	})
}

// StreamCommands attaches as a wallet host for chain and calls fn with every
// command the server sends.
func (c *Client) StreamCommands(ctx context.Context, chain wallet.Chain, fn func(sdk.Command) error) error {
	path := fmt.Sprintf("/api/v1/chains/%s/commands", chain)
	return c.stream(ctx, path, func(event string, data []byte) error {
		if event != "command" {
			return nil
		}
		var cmd sdk.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			return fmt.Errorf("failed to decode command: %w", err)
		}
		return fn(cmd)
	})
}

func (c *Client) stream(ctx context.Context, path string, handle func(event string, data []byte) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The configured client may carry a timeout, which would cut the stream.
	streamClient := *c.httpClient
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to SSE endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	c.logger.Debug("stream opened", "path", path)

	scanner := bufio.NewScanner(resp.Body)
	var event string
	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if event != "" && data.Len() > 0 {
				if err := handle(event, data.Bytes()); err != nil {
					if errors.Is(err, ErrStopStream) {
						return nil
					}
					return err
				}
			}
			event = ""
			data.Reset()
			continue
		}
		if strings.HasPrefix(line, "event:") {
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	if ctx.Err() != nil {
		return nil
	}
	return errors.New("stream closed by server")
}

func (c *Client) do(ctx context.Context, method, path string, in any, want int, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return &StatusError{Code: resp.StatusCode, Message: errResp.Error}
}

// StatusError is returned when the server answers with an unexpected status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.Code, e.Message)
}
