package stripe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreatePaymentIntentRequest(t *testing.T) {
	var gotAuth, gotContentType string
	var gotForm map[string][]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/payment_intents", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_test","client_secret":"cs_test","status":"requires_payment_method","amount":10000}`))
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, "sk_test_key")
	intent, err := client.CreatePaymentIntent(context.Background(), CreateIntentParams{
		AmountCents: 10000,
		FeeCents:    1000,
		Metadata:    map[string]string{"item_id": "abc"},
	})
	require.NoError(t, err)
	require.Equal(t, "pi_test", intent.ID)
	require.Equal(t, "cs_test", intent.ClientSecret)
	require.False(t, intent.Succeeded())

	require.Equal(t, "Bearer sk_test_key", gotAuth)
	require.Equal(t, "application/x-www-form-urlencoded", gotContentType)
	require.Equal(t, []string{"10000"}, gotForm["amount"])
	require.Equal(t, []string{"usd"}, gotForm["currency"])
	require.Equal(t, []string{"1000"}, gotForm["application_fee_amount"])
	require.Equal(t, []string{"abc"}, gotForm["metadata[item_id]"])
}

func TestAPIErrorDecoding(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"code":"card_declined","message":"Your card was declined."}}`))
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, "sk_test_key")
	_, err := client.CreatePaymentIntent(context.Background(), CreateIntentParams{AmountCents: 100})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusPaymentRequired, apiErr.StatusCode)
	require.Equal(t, "card_declined", apiErr.Code)
	require.False(t, Retryable(err))
}

func TestRetryable(t *testing.T) {
	require.False(t, Retryable(nil))
	require.False(t, Retryable(&APIError{StatusCode: 400}))
	require.False(t, Retryable(&APIError{StatusCode: 404}))
	require.True(t, Retryable(&APIError{StatusCode: 500}))
	require.True(t, Retryable(&APIError{StatusCode: 503}))
	// Network-level failures are always worth retrying.
	require.True(t, Retryable(errors.New("dial tcp: connection refused")))
}

func TestCreateTransferRequest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transfers", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "9000", r.PostForm.Get("amount"))
		require.Equal(t, "acct_finder", r.PostForm.Get("destination"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"tr_test","amount":9000,"destination":"acct_finder"}`))
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, "sk_test_key")
	transfer, err := client.CreateTransfer(context.Background(), TransferParams{
		AmountCents: 9000,
		Destination: "acct_finder",
	})
	require.NoError(t, err)
	require.Equal(t, "tr_test", transfer.ID)
	require.Equal(t, int64(9000), transfer.Amount)
}

func TestConnectAccountFlow(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/accounts":
			require.NoError(t, r.ParseForm())
			require.Equal(t, "express", r.PostForm.Get("type"))
			_, _ = w.Write([]byte(`{"id":"acct_new"}`))
		case "/account_links":
			require.NoError(t, r.ParseForm())
			require.Equal(t, "acct_new", r.PostForm.Get("account"))
			_, _ = w.Write([]byte(`{"url":"https://connect.stripe.example/setup"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, "sk_test_key")
	account, err := client.ConnectAccount(context.Background(), ConnectParams{Email: "finder@example.com"})
	require.NoError(t, err)
	require.Equal(t, "acct_new", account.AccountID)
	require.Equal(t, "https://connect.stripe.example/setup", account.OnboardingURL)
}

func TestClientRequiresSecretKey(t *testing.T) {
	client := NewHTTPClient("", "")
	_, err := client.GetPaymentIntent(context.Background(), "pi_123")
	require.Error(t, err)
}
