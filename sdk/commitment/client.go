package commitment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"commitvault/core/types"
	core "commitvault/native/commitment"
	"commitvault/rpc"
)

const defaultTokenTTL = 5 * time.Minute

// Client is a JSON-RPC client for the commitment API.
type Client struct {
	endpoint   string
	httpClient *http.Client
	now        func() time.Time

	caller   types.Address
	secret   []byte
	issuer   string
	tokenTTL time.Duration
}

// Option mutates the client configuration during construction.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithClock overrides the time source used when minting tokens. Primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCaller sets the identity used for view derivation without enabling
// signed calls.
func WithCaller(caller types.Address) Option {
	return func(c *Client) { c.caller = caller }
}

// WithCredentials makes the client act as caller, minting HS256 bearer
// tokens from secret. Without credentials only anonymous methods work.
func WithCredentials(caller types.Address, secret, issuer string) Option {
	return func(c *Client) {
		c.caller = caller
		c.secret = []byte(secret)
		c.issuer = issuer
	}
}

// New constructs a client pointed at the JSON-RPC endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("endpoint required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint scheme %q", parsed.Scheme)
	}
	client := &Client{
		endpoint:   parsed.String(),
		httpClient: http.DefaultClient,
		now:        time.Now,
		tokenTTL:   defaultTokenTTL,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Caller returns the identity the client acts as.
func (c *Client) Caller() types.Address { return c.caller }

func (c *Client) hasCredentials() bool { return len(c.secret) > 0 }

func (c *Client) token() (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Subject:   c.caller.Hex(),
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.tokenTTL)),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Call issues one JSON-RPC request and decodes the result into out.
func (c *Client) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      uuid.NewString(),
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.hasCredentials() {
		token, err := c.token()
		if err != nil {
			return fmt.Errorf("mint token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpc.RPCError   `json:"error"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		if resp.StatusCode >= http.StatusInternalServerError {
			return &RPCError{HTTPStatus: resp.StatusCode, Code: rpc.CodeInternal, Message: "internal_error", Data: strings.TrimSpace(string(respBody))}
		}
		return fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
	}
	if envelope.Error != nil {
		return &RPCError{
			HTTPStatus: resp.StatusCode,
			Code:       envelope.Error.Code,
			Message:    envelope.Error.Message,
			Data:       envelope.Error.Data,
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// Create submits commitment_create as the configured caller.
func (c *Client) Create(ctx context.Context, params rpc.CreateParams) (*rpc.CommitmentJSON, error) {
	var out rpc.CommitmentJSON
	if err := c.Call(ctx, "commitment_create", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get fetches one commitment.
func (c *Client) Get(ctx context.Context, id core.ID) (*rpc.CommitmentJSON, error) {
	var out rpc.CommitmentJSON
	if err := c.Call(ctx, "commitment_get", rpc.IDParams{ID: id.Hex()}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns commitments matching params.
func (c *Client) List(ctx context.Context, params rpc.ListParams) ([]rpc.CommitmentJSON, error) {
	var out []rpc.CommitmentJSON
	if err := c.Call(ctx, "commitment_list", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// History returns the journaled requests that touched id, oldest first.
func (c *Client) History(ctx context.Context, id core.ID) ([]rpc.JournalEntryJSON, error) {
	var out []rpc.JournalEntryJSON
	if err := c.Call(ctx, "commitment_history", rpc.IDParams{ID: id.Hex()}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Apply submits a terminal action.
func (c *Client) Apply(ctx context.Context, id core.ID, action core.Action) (*rpc.ResolutionJSON, error) {
	method := rpc.MethodForAction(action)
	if method == "" {
		return nil, core.ErrInvalidAction
	}
	var out rpc.ResolutionJSON
	if err := c.Call(ctx, method, rpc.IDParams{ID: id.Hex()}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance returns the balance of addr in smallest units.
func (c *Client) Balance(ctx context.Context, addr types.Address) (string, error) {
	var out rpc.BalanceJSON
	if err := c.Call(ctx, "account_balance", rpc.BalanceParams{Address: addr.Hex()}, &out); err != nil {
		return "", err
	}
	return out.Balance, nil
}
