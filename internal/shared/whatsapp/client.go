package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"
)

const defaultBaseURL = "https://graph.facebook.com/v19.0"

// Config holds the Cloud API credentials.
type Config struct {
	BaseURL       string
	PhoneNumberID string
	AccessToken   string
	Language      string
	CountryCode   string
	Timeout       time.Duration
}

// Client sends template messages through the WhatsApp Cloud API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Language == "" {
		cfg.Language = "es"
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = "57"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp: status %d code %d: %s", e.StatusCode, e.Code, e.Message)
}

type templateParam struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type templateComponent struct {
	Type       string          `json:"type"`
	Parameters []templateParam `json:"parameters"`
}

type templateBody struct {
	Name     string `json:"name"`
	Language struct {
		Code string `json:"code"`
	} `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type messageRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Template         templateBody `json:"template"`
}

// SendTemplate sends a template with positional body parameters.
func (c *Client) SendTemplate(ctx context.Context, phone, template string, params []string) error {
	to := NormalizePhone(phone, c.cfg.CountryCode)
	if to == "" {
		return fmt.Errorf("whatsapp: número inválido %q", phone)
	}
	req := messageRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
	}
	req.Template.Name = template
	req.Template.Language.Code = c.cfg.Language
	if len(params) > 0 {
		comp := templateComponent{Type: "body"}
		for _, p := range params {
			if p == "" {
				p = "-"
			}
			comp.Parameters = append(comp.Parameters, templateParam{Type: "text", Text: p})
		}
		req.Template.Components = []templateComponent{comp}
	}
	return c.doRequest(ctx, http.MethodPost, "/"+c.cfg.PhoneNumberID+"/messages", req, nil)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("whatsapp: encode request: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("whatsapp: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error struct {
				Message string `json:"message"`
				Code    int    `json:"code"`
			} `json:"error"`
		}
		_ = json.Unmarshal(respBody, &e)
		return &APIError{StatusCode: resp.StatusCode, Code: e.Error.Code, Message: e.Error.Message}
	}
	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("whatsapp: decode response: %w", err)
		}
	}
	return nil
}

// NormalizePhone keeps digits and prefixes the country code on ten-digit
// local numbers. It returns "" when too few digits remain.
func NormalizePhone(phone, countryCode string) string {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 7 {
		return ""
	}
	if len(digits) == 10 && countryCode != "" {
		return countryCode + digits
	}
	return digits
}
