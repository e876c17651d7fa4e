package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StripeClient talks to a Stripe-compatible REST API (form-encoded
// requests, JSON responses).
type StripeClient struct {
	BaseURL      string
	SecretKey    string
	SuccessURL   string
	CancelURL    string
	Currency     string
	EnablePaypal bool
	HTTP         *http.Client
}

func NewStripeClient(baseURL, secretKey, successURL, cancelURL, currency string, enablePaypal bool) *StripeClient {
	return &StripeClient{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		SecretKey:    secretKey,
		SuccessURL:   successURL,
		CancelURL:    cancelURL,
		Currency:     currency,
		EnablePaypal: enablePaypal,
		HTTP:         &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *StripeClient) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s %s -> %d: %s", ErrGatewayUnavailable, method, path, resp.StatusCode, truncate(raw, 200))
	}
	return json.Unmarshal(raw, out)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

func (c *StripeClient) CreateCheckoutSession(ctx context.Context, items []LineItem, orderRef, customerEmail string) (CheckoutSession, error) {
	if len(items) == 0 {
		return CheckoutSession{}, fmt.Errorf("at least one line item is required")
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", c.SuccessURL+"?session_id={CHECKOUT_SESSION_ID}")
	form.Set("cancel_url", c.CancelURL)
	form.Set("client_reference_id", orderRef)
	form.Set("metadata[order_ref]", orderRef)
	form.Set("payment_intent_data[metadata][order_ref]", orderRef)
	if customerEmail != "" {
		form.Set("customer_email", customerEmail)
	}

	form.Set("payment_method_types[0]", "card")
	if c.EnablePaypal {
		form.Set("payment_method_types[1]", "paypal")
	}

	currency := strings.ToLower(strings.TrimSpace(c.Currency))
	if currency == "" {
		currency = "eur"
	}
	for i, it := range items {
		if it.UnitAmount <= 0 {
			return CheckoutSession{}, fmt.Errorf("unit amount must be positive for %q", it.Name)
		}
		qty := it.Quantity
		if qty < 1 {
			qty = 1
		}
		prefix := fmt.Sprintf("line_items[%d]", i)
		form.Set(prefix+"[price_data][currency]", currency)
		form.Set(prefix+"[price_data][unit_amount]", strconv.Itoa(it.UnitAmount))
		form.Set(prefix+"[price_data][product_data][name]", it.Name)
		form.Set(prefix+"[quantity]", strconv.Itoa(qty))
	}

	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, &out); err != nil {
		return CheckoutSession{}, err
	}
	log.Printf("gateway: checkout session created session=%s order_ref=%s", out.ID, orderRef)
	return CheckoutSession{ID: out.ID, RedirectURL: out.URL}, nil
}

func (c *StripeClient) RetrieveSession(ctx context.Context, sessionID string) (SessionInfo, error) {
	var out struct {
		ID                string            `json:"id"`
		PaymentStatus     string            `json:"payment_status"`
		PaymentIntent     string            `json:"payment_intent"`
		ClientReferenceID string            `json:"client_reference_id"`
		CustomerEmail     string            `json:"customer_email"`
		Metadata          map[string]string `json:"metadata"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return SessionInfo{}, err
	}
	ref := out.Metadata["order_ref"]
	if ref == "" {
		ref = out.ClientReferenceID
	}
	return SessionInfo{
		ID:              out.ID,
		PaymentStatus:   out.PaymentStatus,
		PaymentIntentID: out.PaymentIntent,
		OrderRef:        ref,
		CustomerEmail:   out.CustomerEmail,
	}, nil
}

func (c *StripeClient) Refund(ctx context.Context, paymentIntentID string, amountCents int, reason string) (string, error) {
	form := url.Values{}
	form.Set("payment_intent", paymentIntentID)
	if amountCents > 0 {
		form.Set("amount", strconv.Itoa(amountCents))
	}
	if reason != "" {
		form.Set("reason", reason)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", form, &out); err != nil {
		return "", err
	}
	log.Printf("gateway: refund created payment_intent=%s refund=%s", paymentIntentID, out.ID)
	return out.ID, nil
}
