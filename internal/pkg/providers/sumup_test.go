package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
)

func newSumUpTestAdapter(t *testing.T, handler http.HandlerFunc) *SumUpAdapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &SumUpAdapter{
		AccessToken:  "sup_token",
		MerchantCode: "MC123",
		APIBaseURL:   server.URL,
		HTTPClient:   server.Client(),
		NewID:        func() string { return "ref-1" },
	}
}

func TestSumUpCreateIntent(t *testing.T) {
	var body map[string]any
	adapter := newSumUpTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0.1/checkouts", r.URL.Path)
		assert.Equal(t, "Bearer sup_token", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(raw), `"amount":105.50`)
		assert.NoError(t, json.Unmarshal(raw, &body))
		_, _ = w.Write([]byte(`{"id":"chk_1","status":"PENDING","hosted_checkout_url":"https://pay.sumup.com/chk_1"}`))
	})

	res, err := adapter.CreateIntent(context.Background(), IntentRequest{OrderID: "o-1", AmountCents: 10550, Currency: "chf"})
	require.NoError(t, err)
	assert.Equal(t, "CHF", body["currency"])
	assert.Equal(t, "MC123", body["merchant_code"])
	assert.Equal(t, "ref-1", body["checkout_reference"])
	assert.Equal(t, "chk_1", res.ProviderID)
	assert.Equal(t, models.TransactionStatusPending, res.Status)
	assert.Equal(t, &NextAction{Type: NextActionAppSwitch, URL: "https://pay.sumup.com/chk_1"}, res.NextAction)
}

func TestSumUpRefundNoContent(t *testing.T) {
	adapter := newSumUpTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0.1/me/refund/TX-9", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"amount":25.00}`, string(raw))
		w.WriteHeader(http.StatusNoContent)
	})

	res, err := adapter.Refund(context.Background(), RefundRequest{ProviderPaymentID: "chk_1", TransactionCode: "TX-9", AmountCents: 2500})
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusSucceeded, res.Status)
	assert.Empty(t, res.ProviderRefundID)
}

func TestSumUpCheckoutStatus(t *testing.T) {
	adapter := newSumUpTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v0.1/checkouts/chk_1", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"chk_1","status":"PAID","amount":42.10,"currency":"chf","transactions":[{"transaction_code":"TX-1","status":"SUCCESSFUL"}]}`))
	})

	st, err := adapter.CheckoutStatus(context.Background(), "chk_1")
	require.NoError(t, err)
	assert.Equal(t, models.SumUpStatusSuccessful, st.Status)
	assert.Equal(t, int64(4210), st.AmountCents)
	assert.Equal(t, "CHF", st.Currency)
	assert.Equal(t, "TX-1", st.TransactionCode)
}

func TestSumUpCheckoutStatusNotFound(t *testing.T) {
	adapter := newSumUpTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error_code":"NOT_FOUND"}`))
	})
	_, err := adapter.CheckoutStatus(context.Background(), "missing")
	assert.True(t, apperror.IsProvider(err))
}

func TestSumUpParseWebhookEvent(t *testing.T) {
	adapter := &SumUpAdapter{}

	ev, err := adapter.ParseWebhookEvent([]byte(`{"id":"chk_1","event_type":"CHECKOUT_STATUS_CHANGED","transaction_code":"TX-1","status":"PAID","amount":100.00,"currency":"chf","metadata":{"order_id":"o-1","tenant_id":"t-1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "chk_1:CHECKOUT_STATUS_CHANGED:paid", ev.ID)
	assert.Equal(t, "chk_1", ev.ProviderPaymentID)
	assert.Equal(t, "chk_1", ev.CheckoutID)
	assert.Equal(t, "TX-1", ev.TransactionCode)
	assert.Equal(t, int64(10000), ev.AmountCents)
	assert.Equal(t, models.TransactionStatusSucceeded, ev.Status)
	assert.Equal(t, "o-1", ev.OrderID)

	ev, err = adapter.ParseWebhookEvent([]byte(`{"event_id":"e-7","checkout_id":"chk_2","status":"FAILED"}`))
	require.NoError(t, err)
	assert.Equal(t, "e-7", ev.ID)
	assert.Equal(t, "chk_2", ev.ProviderPaymentID)
	assert.Equal(t, models.TransactionStatusFailed, ev.Status)

	_, err = adapter.ParseWebhookEvent([]byte(`{"id":"x","amount":"abc"}`))
	assert.Error(t, err)
}

func TestSumUpStatusMapping(t *testing.T) {
	assert.Equal(t, models.SumUpStatusCancelled, SumUpSessionStatus("expired"))
	assert.Equal(t, models.SumUpStatusPending, SumUpSessionStatus("PENDING"))
	assert.Equal(t, "", SumUpTransactionStatus(""))
	assert.Equal(t, models.TransactionStatusCanceled, SumUpTransactionStatus("CANCELLED"))
}
