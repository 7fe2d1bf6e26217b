package siigo

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
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.siigo.com"

// ErrNoCredentials means username or access key are missing from config.
var ErrNoCredentials = errors.New("siigo: credenciales no configuradas")

// Config configures the API client.
type Config struct {
	BaseURL   string
	Username  string
	AccessKey string
	PartnerID string

	MinInterval time.Duration
	Timeout     time.Duration
	MaxRetries  int
	RetryBase   time.Duration

	ReceiptDocumentID int
	CashPaymentID     int
	TransferPaymentID int
}

// APIError is a non-2xx answer.
type APIError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("siigo %s: HTTP %d: %s", e.Path, e.StatusCode, e.Body)
}

// Retryable reports whether the call may succeed later.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500 || e.StatusCode == http.StatusUnauthorized
}

// IsRetryable classifies an error returned by the client. Transport errors
// are transient; 4xx answers other than 401 and 429 are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMalformed) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

// Client talks to the SIIGO REST API. It caches the access token, spaces
// calls by MinInterval and retries transient failures with backoff.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger

	mu          sync.RWMutex
	tokenCache  string
	tokenExpire time.Time

	paceMu   sync.Mutex
	lastCall time.Time
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(strings.TrimRight(cfg.BaseURL, "/"), "/v1")
	if cfg.PartnerID == "" {
		cfg.PartnerID = "siigo"
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 300 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("siigo"),
	}
}

// Token returns a cached access token, refreshing it 60s before expiry.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.tokenCache != "" && time.Now().Before(c.tokenExpire) {
		token := c.tokenCache
		c.mu.RUnlock()
		return token, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokenCache != "" && time.Now().Before(c.tokenExpire) {
		return c.tokenCache, nil
	}

	if c.cfg.Username == "" || c.cfg.AccessKey == "" {
		return "", ErrNoCredentials
	}
	bodyBytes, _ := json.Marshal(map[string]string{
		"username":   c.cfg.Username,
		"access_key": c.cfg.AccessKey,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/auth", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Partner-Id", c.cfg.PartnerID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("siigo auth: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &APIError{StatusCode: resp.StatusCode, Path: "/auth", Body: string(raw)}
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}
	ttl := time.Duration(result.ExpiresIn-60) * time.Second
	if ttl <= 0 {
		ttl = time.Minute
	}
	c.tokenCache = result.AccessToken
	c.tokenExpire = time.Now().Add(ttl)
	return result.AccessToken, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.tokenCache = ""
	c.mu.Unlock()
}

// pace blocks until MinInterval has passed since the previous call.
func (c *Client) pace(ctx context.Context) error {
	c.paceMu.Lock()
	defer c.paceMu.Unlock()
	if wait := c.cfg.MinInterval - time.Since(c.lastCall); wait > 0 {
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
	c.lastCall = time.Now()
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryAfter parses a Retry-After header given in seconds. HTTP dates fall
// back to a fixed five seconds.
func retryAfter(h string) time.Duration {
	h = strings.TrimSpace(h)
	if h == "" {
		return 0
	}
	if n, err := strconv.Atoi(h); err == nil {
		if n < 0 {
			return 0
		}
		return time.Duration(n) * time.Second
	}
	return 5 * time.Second
}

// backoff is base * 2^(attempt-1).
func backoff(base time.Duration, attempt int) time.Duration {
	return base << uint(attempt-1)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, result interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.pace(ctx); err != nil {
			return err
		}
		wait, err := c.attempt(ctx, method, endpoint, path, payload, result, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) || errors.Is(err, ErrNoCredentials) || attempt == c.cfg.MaxRetries {
			break
		}
		c.logger.Warn("siigo call failed, retrying",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
	return lastErr
}

// attempt performs one HTTP exchange and returns how long to wait before the
// next try when it fails.
func (c *Client) attempt(ctx context.Context, method, endpoint, path string, payload []byte, result interface{}, n int) (time.Duration, error) {
	wait := backoff(c.cfg.RetryBase, n)

	token, err := c.Token(ctx)
	if err != nil {
		return wait, err
	}
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Partner-Id", c.cfg.PartnerID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wait, fmt.Errorf("siigo %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return wait, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Path: path, Body: truncate(string(respBody), 500)}
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			c.invalidateToken()
			wait = 0
		case http.StatusTooManyRequests:
			wait = 2 * wait
			if ra := retryAfter(resp.Header.Get("Retry-After")); ra > wait {
				wait = ra
			}
		}
		return wait, apiErr
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
		}
	}
	return 0, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ListParams filters ListInvoices.
type ListParams struct {
	CreatedStart time.Time
	Page         int
	PageSize     int
}

func (c *Client) ListInvoices(ctx context.Context, p ListParams) (*InvoiceList, error) {
	q := url.Values{}
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = 100
	}
	q.Set("page", strconv.Itoa(p.Page))
	q.Set("page_size", strconv.Itoa(p.PageSize))
	if !p.CreatedStart.IsZero() {
		q.Set("created_start", p.CreatedStart.Format("2006-01-02"))
	}
	var out InvoiceList
	if err := c.do(ctx, http.MethodGet, "/v1/invoices", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetInvoice returns the invoice and its raw JSON.
func (c *Client) GetInvoice(ctx context.Context, id string) (*Invoice, json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/v1/invoices/"+url.PathEscape(id), nil, nil, &raw); err != nil {
		return nil, nil, err
	}
	var inv Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, raw, fmt.Errorf("%w: invoice %s: %v", ErrMalformed, id, err)
	}
	return &inv, raw, nil
}

func (c *Client) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	var out Customer
	if err := c.do(ctx, http.MethodGet, "/v1/customers/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CloseInvoice registers a cash receipt that settles the invoice. It is
// called exactly once per request; retries are the caller's decision.
func (c *Client) CloseInvoice(ctx context.Context, cl Closure) error {
	paymentID := c.cfg.TransferPaymentID
	if cl.Method == "efectivo" {
		paymentID = c.cfg.CashPaymentID
	}
	date := cl.Date
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	value, _ := cl.Amount.Round(2).Float64()
	body := map[string]interface{}{
		"document":     map[string]int{"id": c.cfg.ReceiptDocumentID},
		"date":         date,
		"type":         "DebtPayment",
		"customer":     map[string]string{"identification": cl.CustomerIdentification},
		"observations": truncate(cl.Note, 4000),
		"items": []map[string]interface{}{{
			"due":   map[string]interface{}{"prefix": invoicePrefix(cl.InvoiceName), "consecutive": invoiceConsecutive(cl.InvoiceName), "quote": 1},
			"value": value,
		}},
		"payment": map[string]interface{}{"id": paymentID, "value": value},
	}

	if err := c.pace(ctx); err != nil {
		return err
	}
	_, err := c.attempt(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/vouchers", "/v1/vouchers", mustJSON(body), nil, 1)
	return err
}

func mustJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}

// invoicePrefix splits "FV-1-1234" into "FV-1".
func invoicePrefix(name string) string {
	if i := strings.LastIndex(name, "-"); i > 0 {
		return name[:i]
	}
	return name
}

func invoiceConsecutive(name string) int {
	n, _ := strconv.Atoi(name[strings.LastIndex(name, "-")+1:])
	return n
}
