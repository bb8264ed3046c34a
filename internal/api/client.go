package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Ericmiano/K-BANK/internal/domain"
	"github.com/Ericmiano/K-BANK/internal/logging"
)

// maxPageLimit mirrors the server-side cap on transaction page sizes.
const maxPageLimit = 100

// TokenSource supplies the bearer credential attached to authenticated
// requests. An empty token means no session is established.
type TokenSource interface {
	Token() string
}

// Client is the single outbound HTTP adapter. Every remote operation the
// application consumes goes through it, so the bearer header, timeout, and
// error classification are applied uniformly.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	tokens         TokenSource
	onUnauthorized func()
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetTokenSource wires the session manager in after construction; the manager
// itself needs the client, so the dependency cannot be taken in NewClient.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.tokens = ts
}

// SetUnauthorizedHook registers the single corrective action taken when an
// authenticated request comes back unauthorized. The hook owner is
// responsible for making the action idempotent.
func (c *Client) SetUnauthorizedHook(fn func()) {
	c.onUnauthorized = fn
}

func (c *Client) Login(ctx context.Context, email, password, mfaCode string) (*TokenResponse, error) {
	body := loginRequest{Email: email, Password: password, MFACode: mfaCode}

	var out TokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, body, &out); err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			if mfaCode != "" {
				return nil, fmt.Errorf("Login: %w", domain.ErrSecondFactorRejected)
			}
			return nil, fmt.Errorf("Login: %w", domain.ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("Login: %w", err)
	}
	return &out, nil
}

func (c *Client) Register(ctx context.Context, profile domain.RegisterProfile) error {
	body := registerRequest{
		Email:    profile.Email,
		FullName: profile.FullName,
		Phone:    profile.Phone,
		Password: profile.Password,
		Role:     string(profile.Role),
	}

	if err := c.do(ctx, http.MethodPost, "/auth/register", nil, body, nil); err != nil {
		var rejected *domain.RemoteRejectedError
		if errors.As(err, &rejected) && strings.Contains(strings.ToLower(rejected.Reason), "already registered") {
			return fmt.Errorf("Register: %w", domain.ErrDuplicateAccount)
		}
		return fmt.Errorf("Register: %w", err)
	}
	return nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, nil); err != nil {
		return fmt.Errorf("Logout: %w", err)
	}
	return nil
}

func (c *Client) Me(ctx context.Context) (*domain.Identity, error) {
	var out userPayload
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("Me: %w", err)
	}
	identity := out.toIdentity()
	return &identity, nil
}

func (c *Client) DashboardStats(ctx context.Context) (*domain.AccountSnapshot, error) {
	var out dashboardPayload
	if err := c.do(ctx, http.MethodGet, "/dashboard/stats", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("DashboardStats: %w", err)
	}
	snapshot := out.toSnapshot()
	return &snapshot, nil
}

func (c *Client) Transactions(ctx context.Context, q TransactionsQuery) (*domain.TransactionPage, error) {
	var out transactionsPagePayload
	if err := c.do(ctx, http.MethodGet, "/transactions", q.values(), nil, &out); err != nil {
		return nil, fmt.Errorf("Transactions: %w", err)
	}
	page := out.toPage()
	return &page, nil
}

func (c *Client) SubmitTransfer(ctx context.Context, sub TransferSubmission) (*TransferReceipt, error) {
	body := transferPayload{
		ToAccount:       sub.ToAccount,
		Amount:          sub.Amount.InexactFloat64(),
		TransactionType: string(domain.KindTransfer),
		Description:     sub.Description,
	}

	var out TransferReceipt
	if err := c.do(ctx, http.MethodPost, "/transactions/transfer", nil, body, &out); err != nil {
		return nil, fmt.Errorf("SubmitTransfer: %w", err)
	}
	return &out, nil
}

func (c *Client) InitiateDeposit(ctx context.Context, sub DepositSubmission) (*DepositReceipt, error) {
	body := mpesaDepositPayload{
		Phone:         sub.Phone,
		Amount:        sub.Amount.InexactFloat64(),
		AccountNumber: sub.AccountNumber,
	}

	var out DepositReceipt
	if err := c.do(ctx, http.MethodPost, "/mpesa/deposit", nil, body, &out); err != nil {
		return nil, fmt.Errorf("InitiateDeposit: %w", err)
	}
	return &out, nil
}

func (c *Client) Health(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, nil); err != nil {
		return fmt.Errorf("Health: %w", err)
	}
	return nil
}

func (q TransactionsQuery) values() url.Values {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	limit := q.Limit
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	if q.Type != "" {
		v.Set("transaction_type", string(q.Type))
	}
	if q.Status != "" {
		v.Set("status", string(q.Status))
	}
	return v
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	log := logging.FromContext(ctx)

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	authed := false
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
			authed = true
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, path, domain.ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	log.Debug("api response",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil

	case resp.StatusCode == http.StatusUnauthorized:
		if authed && c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return fmt.Errorf("%s %s: %w", method, path, domain.ErrUnauthorized)

	case resp.StatusCode >= 500:
		// Server-side failures are classed with transport errors so the
		// retry wrapper treats both as transient.
		return fmt.Errorf("%s %s: %w: status %d", method, path, domain.ErrNetworkUnavailable, resp.StatusCode)

	default:
		return &domain.RemoteRejectedError{Status: resp.StatusCode, Reason: errorDetail(resp.Body)}
	}
}

// errorDetail extracts the server's structured failure reason, falling back
// to the raw body when it is not the usual {"detail": ...} shape.
func errorDetail(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))

	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(b, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return strings.TrimSpace(string(b))
}
