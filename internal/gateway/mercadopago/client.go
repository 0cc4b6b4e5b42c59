// Package mercadopago is the payment gateway adapter: hosted checkout
// preferences, payment lookup by external reference and refunds.
package mercadopago

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

	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

const DefaultBaseURL = "https://api.mercadopago.com"

type Config struct {
	BaseURL         string
	AccessToken     string
	NotificationURL string
	SuccessURL      string
	FailureURL      string
	Timeout         time.Duration
}

// Client implements the engine's PaymentGateway port over the REST API.
type Client struct {
	cfg  Config
	http *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the underlying client; its timeout wins over Config.Timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type preferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type backURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Pending string `json:"pending,omitempty"`
}

type preferenceRequest struct {
	Items             []preferenceItem  `json:"items"`
	ExternalReference string            `json:"external_reference"`
	NotificationURL   string            `json:"notification_url,omitempty"`
	BackURLs          *backURLs         `json:"back_urls,omitempty"`
	AutoReturn        string            `json:"auto_return,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

type preferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

func (c *Client) CreatePreference(ctx context.Context, req domain.PreferenceRequest) (domain.Preference, error) {
	body := preferenceRequest{
		Items: []preferenceItem{{
			Title:      req.Title,
			Quantity:   req.Quantity,
			UnitPrice:  centsToAmount(req.UnitPriceCents),
			CurrencyID: req.Currency,
		}},
		ExternalReference: req.ExternalReference,
		NotificationURL:   c.cfg.NotificationURL,
		Metadata:          map[string]string{"payer_id": req.PayerID},
	}
	if c.cfg.SuccessURL != "" || c.cfg.FailureURL != "" {
		body.BackURLs = &backURLs{Success: c.cfg.SuccessURL, Failure: c.cfg.FailureURL, Pending: c.cfg.SuccessURL}
		if c.cfg.SuccessURL != "" {
			body.AutoReturn = "approved"
		}
	}

	var out preferenceResponse
	if err := c.do(ctx, http.MethodPost, "/checkout/preferences", body, nil, &out); err != nil {
		return domain.Preference{}, fmt.Errorf("create preference: %w", err)
	}
	if out.ID == "" || out.InitPoint == "" {
		return domain.Preference{}, fmt.Errorf("create preference: %w: empty preference in response", domain.ErrGatewayUnavailable)
	}
	return domain.Preference{ID: out.ID, InitPoint: out.InitPoint}, nil
}

type searchResponse struct {
	Results []json.RawMessage `json:"results"`
}

type paymentFields struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	ExternalReference string      `json:"external_reference"`
}

// LookupPayment returns the most recently created payment for the reference.
func (c *Client) LookupPayment(ctx context.Context, externalReference string) (domain.PaymentReport, bool, error) {
	q := url.Values{}
	q.Set("external_reference", externalReference)
	q.Set("sort", "date_created")
	q.Set("criteria", "desc")

	var out searchResponse
	if err := c.do(ctx, http.MethodGet, "/v1/payments/search?"+q.Encode(), nil, nil, &out); err != nil {
		return domain.PaymentReport{}, false, fmt.Errorf("lookup payment: %w", err)
	}
	if len(out.Results) == 0 {
		return domain.PaymentReport{}, false, nil
	}

	raw := out.Results[0]
	var p paymentFields
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.PaymentReport{}, false, fmt.Errorf("lookup payment: %w: %v", domain.ErrGatewayUnavailable, err)
	}
	ref := p.ExternalReference
	if ref == "" {
		ref = externalReference
	}
	return domain.PaymentReport{
		PaymentID:         p.ID.String(),
		ExternalReference: ref,
		Status:            p.Status,
		Raw:               []byte(raw),
	}, true, nil
}

type refundRequest struct {
	Amount float64 `json:"amount"`
}

// Refund returns the full order amount. The refund id is the idempotency
// key, so a retried refund is never paid twice.
func (c *Client) Refund(ctx context.Context, refund domain.RefundRequest) error {
	if refund.PaymentID == "" {
		return fmt.Errorf("refund %s: missing payment id", refund.ID)
	}
	headers := map[string]string{"X-Idempotency-Key": refund.ID}
	path := "/v1/payments/" + url.PathEscape(refund.PaymentID) + "/refunds"
	body := refundRequest{Amount: centsToAmount(refund.AmountCents)}
	if err := c.do(ctx, http.MethodPost, path, body, headers, nil); err != nil {
		return fmt.Errorf("refund payment %s: %w", refund.PaymentID, err)
	}
	return nil
}

// do sends one request. Transport failures and non-2xx answers wrap
// ErrGatewayUnavailable.
func (c *Client) do(ctx context.Context, method, path string, in any, headers map[string]string, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrGatewayUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d: %s", domain.ErrGatewayUnavailable, resp.StatusCode, truncate(data, 200))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrGatewayUnavailable, err)
	}
	return nil
}

// centsToAmount converts to the decimal amount the API expects. JSON
// encoding uses the shortest representation, so 1999 is sent as 19.99.
func centsToAmount(cents int64) float64 {
	return float64(cents) / 100
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
