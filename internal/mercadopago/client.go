package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"confianza-backend/internal/httperr"
)

// Client talks to the MercadoPago REST API. Requests carry the account access
// token as a bearer credential; the only retry policy is the processor's own
// webhook redelivery, so failed calls surface immediately.
type Client struct {
	apiBase     string
	appBaseURL  string
	accessToken string
	httpClient  *http.Client
}

// New builds a client. apiBase is the processor origin (overridable for
// tests), appBaseURL the public web app origin used for redirect targets.
func New(apiBase, appBaseURL, accessToken string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		apiBase:     apiBase,
		appBaseURL:  appBaseURL,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// CreatePreferenceParams are the inputs for one checkout preference.
type CreatePreferenceParams struct {
	RequestID  string
	Title      string
	Amount     decimal.Decimal
	PayerEmail string
	PayerName  string
}

// Preference is the subset of the processor's response the app consumes.
type Preference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// Payment is the processor's view of a single payment attempt. The webhook
// body is only a trigger; these fields come from a fresh detail fetch.
type Payment struct {
	ID                int64           `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	PaymentMethodID   string          `json:"payment_method_id"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	ExternalReference string          `json:"external_reference"`
}

type preferenceItem struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	CurrencyID string          `json:"currency_id"`
}

type preferencePayer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type backURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type preferenceBody struct {
	Items             []preferenceItem `json:"items"`
	Payer             preferencePayer  `json:"payer"`
	BackURLs          backURLs         `json:"back_urls"`
	AutoReturn        string           `json:"auto_return"`
	NotificationURL   string           `json:"notification_url"`
	ExternalReference string           `json:"external_reference"`
	Metadata          map[string]any   `json:"metadata"`
}

// CreatePreference registers a checkout preference for a request and returns
// the redirect URLs the client is sent to.
func (c *Client) CreatePreference(ctx context.Context, p CreatePreferenceParams) (Preference, error) {
	body := preferenceBody{
		Items: []preferenceItem{{
			ID:         p.RequestID,
			Title:      p.Title,
			Quantity:   1,
			UnitPrice:  p.Amount,
			CurrencyID: "ARS",
		}},
		Payer: preferencePayer{Name: p.PayerName, Email: p.PayerEmail},
		BackURLs: backURLs{
			Success: c.backURL("/payment/success", p.RequestID),
			Failure: c.backURL("/payment/failure", p.RequestID),
			Pending: c.backURL("/payment/pending", p.RequestID),
		},
		AutoReturn:        "approved",
		NotificationURL:   c.appBaseURL + "/api/payments/webhook",
		ExternalReference: p.RequestID,
		Metadata:          map[string]any{"request_id": p.RequestID},
	}

	var pref Preference
	if err := c.post(ctx, "/checkout/preferences", body, &pref); err != nil {
		return Preference{}, err
	}
	return pref, nil
}

// GetPayment fetches the full payment detail by processor payment id.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (Payment, error) {
	var payment Payment
	if err := c.get(ctx, "/v1/payments/"+url.PathEscape(paymentID), &payment); err != nil {
		return Payment{}, err
	}
	return payment, nil
}

func (c *Client) backURL(path, requestID string) string {
	return fmt.Sprintf("%s%s?request_id=%s", c.appBaseURL, path, url.QueryEscape(requestID))
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &httperr.UpstreamPaymentError{StatusCode: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &httperr.UpstreamPaymentError{StatusCode: resp.StatusCode, Message: "read response body: " + err.Error()}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &httperr.UpstreamPaymentError{
			StatusCode: resp.StatusCode,
			Message:    upstreamMessage(raw),
			Body:       string(raw),
		}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &httperr.UpstreamPaymentError{
				StatusCode: resp.StatusCode,
				Message:    "decode response: " + err.Error(),
				Body:       string(raw),
			}
		}
	}
	return nil
}

// upstreamMessage pulls the processor's message field out of an error body,
// falling back to the HTTP status text.
func upstreamMessage(raw []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return "request rejected by payment processor"
}
