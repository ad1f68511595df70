package intentchain

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"IntentChain/internal/agentauth"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the IntentChain REST API. Agent
// operations are signed per request with the configured private key, so the
// client holds no session state besides the key itself.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu  sync.RWMutex
	key *ecdsa.PrivateKey
}

// RegisterAgentRequest represents the payload required to enroll an agent.
type RegisterAgentRequest struct {
	TrustChainID   string `json:"trustChainId"`
	AgentPublicKey string `json:"agentPublicKey"`
	AgentLabel     string `json:"agentLabel,omitempty"`
}

// Agent describes an enrolled trustchain member.
type Agent struct {
	ID               string `json:"id"`
	TrustchainID     string `json:"trustchainId"`
	PublicKeyAddress string `json:"publicKeyAddress"`
	Label            string `json:"label"`
	CreatedAt        int64  `json:"createdAt"`
	RevokedAt        int64  `json:"revokedAt,omitempty"`
}

// IntentDetails carries the transfer parameters of an intent.
type IntentDetails struct {
	Token     string          `json:"token"`
	Amount    string          `json:"amount"`
	Recipient string          `json:"recipient"`
	ChainID   int64           `json:"chainId"`
	TxHash    string          `json:"txHash,omitempty"`
	X402      json.RawMessage `json:"x402,omitempty"`
}

// CreateIntentRequest represents the payload required to create an intent.
type CreateIntentRequest struct {
	Details IntentDetails `json:"details"`
	UserID  string        `json:"userId,omitempty"`
}

// UpdateIntentStatusRequest drives a status transition. Payment fields are
// only consulted on transitions that enter the x402 settlement path.
type UpdateIntentStatusRequest struct {
	Status                 string          `json:"status"`
	TxHash                 string          `json:"txHash,omitempty"`
	Note                   string          `json:"note,omitempty"`
	PaymentSignatureHeader string          `json:"paymentSignatureHeader,omitempty"`
	PaymentPayload         json.RawMessage `json:"paymentPayload,omitempty"`
	SettlementReceipt      json.RawMessage `json:"settlementReceipt,omitempty"`
}

// HistoryEntry records one step of an intent's lifecycle.
type HistoryEntry struct {
	Status string `json:"status"`
	At     int64  `json:"at"`
	Note   string `json:"note,omitempty"`
}

// Intent is the server-side view of an intent. Payment secrets are redacted
// unless the calling agent owns the intent.
type Intent struct {
	ID                string         `json:"id"`
	UserID            string         `json:"userId"`
	TrustChainID      string         `json:"trustChainId"`
	AgentID           string         `json:"agentId,omitempty"`
	CreatedByMemberID string         `json:"createdByMemberId,omitempty"`
	Details           IntentDetails  `json:"details"`
	Status            string         `json:"status"`
	StatusHistory     []HistoryEntry `json:"statusHistory"`
	CreatedAt         int64          `json:"createdAt"`
	ExpiresAt         int64          `json:"expiresAt"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("intentchain api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("intentchain api error (%d): %s", e.StatusCode, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

// NewClient instantiates a client for the IntentChain API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetSigningKey stores the agent private key used to sign subsequent calls.
func (c *Client) SetSigningKey(key *ecdsa.PrivateKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = key
}

func (c *Client) signingKey() *ecdsa.PrivateKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key
}

// RegisterAgent enrolls a new agent. Registration is open and unsigned; the
// returned record carries the server assigned agent identifier.
func (c *Client) RegisterAgent(ctx context.Context, req RegisterAgentRequest) (Agent, error) {
	var agent Agent
	if err := c.post(ctx, "/api/agents/register", req, &agent, false); err != nil {
		return Agent{}, err
	}
	return agent, nil
}

// CreateIntent creates a new pending intent on behalf of the signing agent.
func (c *Client) CreateIntent(ctx context.Context, req CreateIntentRequest) (Intent, error) {
	var intent Intent
	if err := c.post(ctx, "/api/intents", req, &intent, true); err != nil {
		return Intent{}, err
	}
	return intent, nil
}

// GetIntent fetches a single intent by identifier.
func (c *Client) GetIntent(ctx context.Context, intentID string) (Intent, error) {
	var intent Intent
	endpoint := "/api/intents/" + url.PathEscape(intentID)
	if err := c.get(ctx, endpoint, &intent, true); err != nil {
		return Intent{}, err
	}
	return intent, nil
}

// UpdateIntentStatus drives the intent through one lifecycle transition.
func (c *Client) UpdateIntentStatus(ctx context.Context, intentID string, req UpdateIntentStatusRequest) (Intent, error) {
	var intent Intent
	endpoint := "/api/intents/" + url.PathEscape(intentID) + "/status"
	if err := c.doJSON(ctx, http.MethodPatch, endpoint, req, &intent, true); err != nil {
		return Intent{}, err
	}
	return intent, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload, out any, signed bool) error {
	return c.doJSON(ctx, http.MethodPost, endpoint, payload, out, signed)
}

func (c *Client) get(ctx context.Context, endpoint string, out any, signed bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if signed {
		if err := c.sign(req, nil); err != nil {
			return err
		}
	}
	return c.do(req, out)
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload, out any, signed bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if signed {
		if err := c.sign(req, body); err != nil {
			return err
		}
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) sign(req *http.Request, body []byte) error {
	key := c.signingKey()
	if key == nil {
		return errors.New("intentchain: signing key is not set")
	}
	header, err := agentauth.BuildHeader(key, req.Method, body, time.Now())
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	req.Header.Set("Authorization", header)
	return nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if len(data) > 0 {
		if err := json.Unmarshal(data, &env); err != nil && resp.StatusCode < 400 {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	if resp.StatusCode >= 400 {
		apiErr := env.Error
		if apiErr == nil {
			apiErr = &APIError{Message: string(bytes.TrimSpace(data))}
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
