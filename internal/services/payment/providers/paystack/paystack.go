package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/agencyhq/backend/internal/models"
	"github.com/agencyhq/backend/internal/services/payment"
	"github.com/agencyhq/backend/internal/utils"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body
const SignatureHeader = "x-paystack-signature"

// PaystackProvider implements the payment.PaymentProvider interface for Paystack
type PaystackProvider struct {
	secretKey string
	publicKey string
	baseURL   string
	client    *http.Client
}

// PaystackConfig holds configuration for the Paystack provider
type PaystackConfig struct {
	SecretKey string
	PublicKey string
	BaseURL   string
	Timeout   time.Duration
}

// NewPaystackProvider creates a new Paystack provider
func NewPaystackProvider(config PaystackConfig) *PaystackProvider {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.paystack.co"
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &PaystackProvider{
		secretKey: config.SecretKey,
		publicKey: config.PublicKey,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: timeout},
	}
}

type customField struct {
	DisplayName  string `json:"display_name"`
	VariableName string `json:"variable_name"`
	Value        string `json:"value"`
}

type metadata struct {
	CustomFields []customField `json:"custom_fields,omitempty"`
}

// initializeRequest is the body of POST /transaction/initialize
type initializeRequest struct {
	Amount      int64    `json:"amount"` // Amount in kobo (for NGN) or cents (for other currencies)
	Email       string   `json:"email"`
	Currency    string   `json:"currency,omitempty"`
	Reference   string   `json:"reference"`
	CallbackURL string   `json:"callback_url,omitempty"`
	Metadata    metadata `json:"metadata"`
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Status    string `json:"status"`
		Reference string `json:"reference"`
		Channel   string `json:"channel"`
		PaidAt    string `json:"paid_at"`
	} `json:"data"`
}

// WebhookPayload represents a Paystack webhook payload
type WebhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		ID              int64  `json:"id"`
		Status          string `json:"status"`
		Reference       string `json:"reference"`
		Amount          int64  `json:"amount"`
		GatewayResponse string `json:"gateway_response"`
		PaidAt          string `json:"paid_at"`
		Channel         string `json:"channel"`
		Currency        string `json:"currency"`
	} `json:"data"`
}

// Name implements payment.PaymentProvider
func (p *PaystackProvider) Name() models.PaymentProvider {
	return models.PaymentProviderPaystack
}

// Initialize starts a transaction and returns the hosted checkout URL
func (p *PaystackProvider) Initialize(ctx context.Context, req payment.InitializeRequest) (*payment.InitializeResult, error) {
	body := initializeRequest{
		Amount:      req.Amount,
		Email:       req.Email,
		Currency:    string(req.Currency),
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
	}
	for k, v := range req.Metadata {
		body.Metadata.CustomFields = append(body.Metadata.CustomFields, customField{
			DisplayName:  k,
			VariableName: k,
			Value:        v,
		})
	}

	var resp initializeResponse
	if err := p.do(ctx, http.MethodPost, "/transaction/initialize", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Status || resp.Data.AuthorizationURL == "" {
		return nil, fmt.Errorf("%w: %s", payment.ErrGatewayRejected, resp.Message)
	}

	ref := resp.Data.Reference
	if ref == "" {
		ref = req.Reference
	}
	return &payment.InitializeResult{
		AuthorizationURL: resp.Data.AuthorizationURL,
		AccessCode:       resp.Data.AccessCode,
		Reference:        ref,
	}, nil
}

// Verify fetches the current status of a reference
func (p *PaystackProvider) Verify(ctx context.Context, reference string) (*payment.Verification, error) {
	var resp verifyResponse
	if err := p.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, fmt.Errorf("%w: %s", payment.ErrGatewayRejected, resp.Message)
	}

	v := &payment.Verification{
		Reference: resp.Data.Reference,
		Status:    mapStatus(resp.Data.Status),
		Amount:    resp.Data.Amount,
		Currency:  models.Currency(resp.Data.Currency),
		Channel:   resp.Data.Channel,
	}
	if t, err := time.Parse(time.RFC3339, resp.Data.PaidAt); err == nil {
		v.PaidAt = &t
	}
	return v, nil
}

// SignatureHeader implements payment.PaymentProvider
func (p *PaystackProvider) SignatureHeader() string {
	return SignatureHeader
}

// VerifySignature checks x-paystack-signature against the raw body
func (p *PaystackProvider) VerifySignature(body []byte, signature string) bool {
	return utils.VerifyHMACSHA512Hex(body, signature, p.secretKey)
}

// ParseWebhook decodes a webhook body. Call VerifySignature first.
func (p *PaystackProvider) ParseWebhook(body []byte) (*payment.WebhookEvent, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("error parsing webhook payload: %w", err)
	}
	if payload.Event == "" {
		return nil, errors.New("webhook payload has no event")
	}

	status := mapStatus(payload.Data.Status)
	actionable := true
	switch payload.Event {
	case "charge.success":
		status = payment.StatusSuccess
	case "charge.failed":
		status = payment.StatusFailed
	default:
		actionable = false
	}

	return &payment.WebhookEvent{
		Event:      payload.Event,
		Reference:  payload.Data.Reference,
		Status:     status,
		Amount:     payload.Data.Amount,
		Currency:   models.Currency(payload.Data.Currency),
		Actionable: actionable && payload.Data.Reference != "",
		Raw:        body,
	}, nil
}

func mapStatus(s string) payment.Status {
	switch s {
	case "success":
		return payment.StatusSuccess
	case "failed", "reversed":
		return payment.StatusFailed
	default:
		// abandoned, ongoing, pending, queued
		return payment.StatusPending
	}
}

// do sends a JSON request. Transport errors, deadline expiry and 5xx
// responses are reported as payment.ErrGatewayUnavailable.
func (p *PaystackProvider) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("error marshaling request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.secretKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", payment.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: error reading response: %v", payment.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", payment.ErrGatewayUnavailable, resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		if resp.StatusCode >= 400 {
			return fmt.Errorf("%w: status %d", payment.ErrGatewayRejected, resp.StatusCode)
		}
		return fmt.Errorf("error parsing response: %w", err)
	}
	return nil
}
