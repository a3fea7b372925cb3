// Package gateway is the outbound client for the hosted payment provider.
// The provider's checkout UI and invoice lifecycle live on its side; this
// client only creates invoices and backfills status, correlated to loans via
// the FINE-{loanId}-{timestamp} external id convention.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/libtrack/loan-service/pkg/circuit_breaker"
)

type Config struct {
	BaseURL       string        `envconfig:"GATEWAY_BASE_URL" default:"http://localhost:9090"`
	APIKey        string        `envconfig:"GATEWAY_API_KEY"`
	CallbackToken string        `envconfig:"GATEWAY_CALLBACK_TOKEN"`
	Timeout       time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"30s"`
}

type CreateInvoiceRequest struct {
	ExternalID  string `json:"externalId"`
	Amount      int64  `json:"amount"`
	PayerName   string `json:"payerName"`
	PayerEmail  string `json:"payerEmail"`
	Description string `json:"description"`
}

type Invoice struct {
	InvoiceID   string `json:"invoiceId"`
	ExternalID  string `json:"externalId"`
	Status      string `json:"status"`
	CheckoutURL string `json:"checkoutUrl"`
}

type Client interface {
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (Invoice, error)
	GetInvoiceStatus(ctx context.Context, invoiceID string) (string, error)
}

type client struct {
	cfg    Config
	log    *zap.Logger
	client *http.Client
	cb     circuit_breaker.CircuitBreaker
}

func NewClient(cfg Config, log *zap.Logger) *client {
	return &client{
		cfg:    cfg,
		log:    log.Named("gateway"),
		client: &http.Client{Timeout: cfg.Timeout},
		cb:     circuit_breaker.New(20, 30*time.Second, 0.5, 3),
	}
}

func (c *client) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (Invoice, error) {
	b := bytes.NewBuffer(nil)
	if err := json.NewEncoder(b).Encode(req); err != nil {
		return Invoice{}, err
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v2/invoices", b)
	if err != nil {
		return Invoice{}, err
	}
	r.Header.Set("Content-Type", echo.MIMEApplicationJSONCharsetUTF8)
	r.Header.Set("Authorization", "Basic "+c.cfg.APIKey)
	// idempotency key so the provider de-duplicates a retried create
	r.Header.Set("X-Idempotency-Key", uuid.NewString())

	var inv Invoice
	err = c.cb.Call(func() error {
		resp, err := c.client.Do(r)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return errors.Errorf("create invoice: unexpected status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&inv)
	})
	if err != nil {
		c.log.Warn("CreateInvoice", zap.String("external_id", req.ExternalID), zap.Error(err))
		return Invoice{}, err
	}
	return inv, nil
}

// GetInvoiceStatus is a backfill/debug path only; reconciliation trusts the
// local record fed by webhooks and staff verification.
func (c *client) GetInvoiceStatus(ctx context.Context, invoiceID string) (string, error) {
	r, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v2/invoices/%s", c.cfg.BaseURL, invoiceID), http.NoBody)
	if err != nil {
		return "", err
	}
	r.Header.Set("Authorization", "Basic "+c.cfg.APIKey)

	var inv Invoice
	err = c.cb.Call(func() error {
		resp, err := c.client.Do(r)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errors.Errorf("get invoice: unexpected status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&inv)
	})
	if err != nil {
		return "", err
	}
	return inv.Status, nil
}
