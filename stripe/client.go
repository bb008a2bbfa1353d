package stripe

import (
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
)

// Client defines the subset of the payment processor API the service requires.
// The coordinator only ever talks to this interface so tests can substitute a
// fake without touching the wire.
type Client interface {
	CreatePaymentIntent(ctx context.Context, params CreateIntentParams) (*PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	CreateTransfer(ctx context.Context, params TransferParams) (*Transfer, error)
	ConnectAccount(ctx context.Context, params ConnectParams) (*ConnectAccount, error)
	GetAccount(ctx context.Context, id string) (*Account, error)
}

// CreateIntentParams describes a charge to be collected from an item owner.
type CreateIntentParams struct {
	AmountCents int64
	Currency    string
	FeeCents    int64
	Metadata    map[string]string
}

// PaymentIntent captures the intent attributes the service uses.
type PaymentIntent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret"`
	Status       string            `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"metadata"`
}

// Succeeded reports whether the processor considers the charge settled.
func (p *PaymentIntent) Succeeded() bool {
	return strings.EqualFold(strings.TrimSpace(p.Status), "succeeded")
}

// TransferParams describes a payout transfer to a finder's connected account.
type TransferParams struct {
	AmountCents int64
	Currency    string
	Destination string
	Metadata    map[string]string
}

// Transfer captures the transfer attributes the service uses.
type Transfer struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Destination string `json:"destination"`
}

// ConnectParams describes an onboarding request for a finder's payout account.
type ConnectParams struct {
	Country    string
	Email      string
	RefreshURL string
	ReturnURL  string
}

// ConnectAccount is the normalized result of account creation plus the
// onboarding link the client opens to finish setup.
type ConnectAccount struct {
	AccountID     string
	OnboardingURL string
}

// Account captures the connected-account status fields the service reads.
type Account struct {
	ID               string `json:"id"`
	ChargesEnabled   bool   `json:"charges_enabled"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
	DetailsSubmitted bool   `json:"details_submitted"`
}

// APIError is a structured rejection from the processor. 4xx responses are
// terminal for the submitted parameters; 5xx responses may be retried.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stripe: status=%d code=%s %s", e.StatusCode, e.Code, e.Message)
}

// Retryable reports whether the failure is transient. Network errors and 5xx
// responses qualify; validation rejections do not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return true
}

const defaultBaseURL = "https://api.stripe.com/v1"

// HTTPClient implements Client against the processor's REST API.
type HTTPClient struct {
	secretKey string
	baseURL   string
	http      *http.Client
}

// NewHTTPClient constructs a client with sane defaults.
func NewHTTPClient(baseURL, secretKey string) *HTTPClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	return &HTTPClient{
		secretKey: secretKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) CreatePaymentIntent(ctx context.Context, params CreateIntentParams) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(params.AmountCents, 10))
	form.Set("currency", currencyOrDefault(params.Currency))
	if params.FeeCents > 0 {
		form.Set("application_fee_amount", strconv.FormatInt(params.FeeCents, 10))
	}
	encodeMetadata(form, params.Metadata)
	var intent PaymentIntent
	if err := c.do(ctx, http.MethodPost, "/payment_intents", form, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *HTTPClient) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := c.do(ctx, http.MethodGet, "/payment_intents/"+url.PathEscape(id), nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *HTTPClient) CreateTransfer(ctx context.Context, params TransferParams) (*Transfer, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(params.AmountCents, 10))
	form.Set("currency", currencyOrDefault(params.Currency))
	form.Set("destination", params.Destination)
	encodeMetadata(form, params.Metadata)
	var transfer Transfer
	if err := c.do(ctx, http.MethodPost, "/transfers", form, &transfer); err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (c *HTTPClient) ConnectAccount(ctx context.Context, params ConnectParams) (*ConnectAccount, error) {
	form := url.Values{}
	form.Set("type", "express")
	form.Set("country", params.Country)
	form.Set("email", params.Email)
	form.Set("capabilities[card_payments][requested]", "true")
	form.Set("capabilities[transfers][requested]", "true")
	var account Account
	if err := c.do(ctx, http.MethodPost, "/accounts", form, &account); err != nil {
		return nil, err
	}

	link := url.Values{}
	link.Set("account", account.ID)
	link.Set("type", "account_onboarding")
	link.Set("refresh_url", params.RefreshURL)
	link.Set("return_url", params.ReturnURL)
	var onboarding struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodPost, "/account_links", link, &onboarding); err != nil {
		return nil, err
	}
	return &ConnectAccount{AccountID: account.ID, OnboardingURL: onboarding.URL}, nil
}

func (c *HTTPClient) GetAccount(ctx context.Context, id string) (*Account, error) {
	var account Account
	if err := c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(id), nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	if c == nil || strings.TrimSpace(c.secretKey) == "" {
		return fmt.Errorf("stripe client not configured")
	}
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var wrapper struct {
			Error *APIError `json:"error"`
		}
		if jsonErr := json.Unmarshal(data, &wrapper); jsonErr == nil && wrapper.Error != nil {
			apiErr.Code = wrapper.Error.Code
			apiErr.Message = wrapper.Error.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func currencyOrDefault(currency string) string {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		return "usd"
	}
	return currency
}

func encodeMetadata(form url.Values, metadata map[string]string) {
	for k, v := range metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}
}
