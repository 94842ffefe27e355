package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tramitex/permisos/internal/pkg/env"
)

const defaultProviderAPIBaseURL = "https://api.pagoslink.mx/v1"

// Payment methods accepted at intent creation.
const (
	MethodCard = "card"
	MethodOxxo = "oxxo"
)

// Processor is the payment-provider collaborator. The reconciliation engine
// depends only on this interface, never on a provider SDK.
type Processor interface {
	// CreateIntent registers a payment intent with the provider and returns
	// the provider-issued reference.
	CreateIntent(ctx context.Context, in CreateIntentInput) (*Intent, error)
	// GetIntent fetches the provider's current view of a payment reference.
	GetIntent(ctx context.Context, reference string) (*Intent, error)
	// ParseEvent validates an inbound webhook delivery (raw body plus
	// signature header) and extracts the provider event. A bad signature
	// returns a KindAuth error.
	ParseEvent(payload []byte, signatureHeader string) (*ProviderEvent, error)
}

// CreateIntentInput carries the terms fixed on the application.
type CreateIntentInput struct {
	AmountCents int64  `json:"amount"`
	Currency    string `json:"currency"`
	Method      string `json:"payment_method"`
	Description string `json:"description"`
	ReferenceID string `json:"reference_id"`
	Email       string `json:"receipt_email,omitempty"`
}

// Intent is the provider's payment-intent record.
type Intent struct {
	Reference  string `json:"id"`
	Status     string `json:"status"`
	Method     string `json:"payment_method"`
	VoucherURL string `json:"voucher_url,omitempty"`
}

// ProviderEvent is a validated, minimally parsed webhook notification.
type ProviderEvent struct {
	ID               string
	Type             string
	PaymentReference string
	Raw              []byte
}

// HTTPProcessor talks to the payment provider's REST API.
type HTTPProcessor struct {
	APIBaseURL    string
	APIKey        string
	WebhookSecret string

	HTTPClient *http.Client
}

// NewProcessorFromEnv builds the provider client from environment config.
func NewProcessorFromEnv() *HTTPProcessor {
	return &HTTPProcessor{
		APIBaseURL:    strings.TrimRight(env.GetEnv("PAYMENT_API_BASE_URL", defaultProviderAPIBaseURL), "/"),
		APIKey:        strings.TrimSpace(env.GetEnv("PAYMENT_API_KEY", "")),
		WebhookSecret: strings.TrimSpace(env.GetEnv("PAYMENT_WEBHOOK_SECRET", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (p *HTTPProcessor) CreateIntent(ctx context.Context, in CreateIntentInput) (*Intent, error) {
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, errors.New("PAYMENT_API_KEY is not configured")
	}
	if in.AmountCents <= 0 {
		return nil, errors.New("amount must be positive")
	}
	if in.Method != MethodCard && in.Method != MethodOxxo {
		return nil, fmt.Errorf("unsupported payment method %q", in.Method)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.APIBaseURL+"/payment_intents", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("payment intent creation failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var out Intent
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Reference) == "" {
		return nil, errors.New("payment intent response missing id")
	}
	return &out, nil
}

func (p *HTTPProcessor) GetIntent(ctx context.Context, reference string) (*Intent, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return nil, errors.New("payment reference is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.APIBaseURL+"/payment_intents/"+url.PathEscape(ref), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("payment intent lookup failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var out Intent
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *HTTPProcessor) ParseEvent(payload []byte, signatureHeader string) (*ProviderEvent, error) {
	if !VerifyWebhookSignature(payload, signatureHeader, p.WebhookSecret) {
		return nil, NewError(KindAuth, "parse_event", errors.New("invalid webhook signature"))
	}
	return ParseProviderEvent(payload)
}

// ParseProviderEvent extracts the event envelope from a raw webhook body.
// Signature verification is the caller's responsibility.
func ParseProviderEvent(payload []byte) (*ProviderEvent, error) {
	var raw struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID string `json:"id"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("malformed webhook payload: %w", err)
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, errors.New("webhook payload missing event id")
	}
	if strings.TrimSpace(raw.Type) == "" {
		return nil, errors.New("webhook payload missing event type")
	}

	return &ProviderEvent{
		ID:               strings.TrimSpace(raw.ID),
		Type:             strings.TrimSpace(raw.Type),
		PaymentReference: strings.TrimSpace(raw.Data.Object.ID),
		Raw:              append([]byte(nil), payload...),
	}, nil
}
