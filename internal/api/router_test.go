package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/paymentsys/txnengine/internal/events"
	"github.com/paymentsys/txnengine/internal/gateway"
	"github.com/paymentsys/txnengine/internal/locks"
	"github.com/paymentsys/txnengine/internal/models"
	"github.com/paymentsys/txnengine/internal/offers"
	"github.com/paymentsys/txnengine/internal/repository"
	"github.com/paymentsys/txnengine/internal/service"
)

const (
	routerMerchant = "demo_shop"
	routerPw1      = "pw1"
	routerPw2      = "pw2"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	catalog := offers.NewCatalog(2)
	client := gateway.NewClient(gateway.Config{
		BaseURL:        "https://gateway.test",
		MerchantLogin:  routerMerchant,
		OutboundSecret: routerPw1,
		InboundSecret:  routerPw2,
	})
	orchestrator := service.NewOrchestrator(
		repository.NewMemoryTransactionRepository(),
		catalog,
		client,
		locks.NewKeyedMutex(),
		events.NopPublisher{},
		service.Options{MaxAmount: decimal.RequireFromString("100000.00")},
	)
	return NewRouter(orchestrator, catalog)
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeTransaction(t *testing.T, w *httptest.ResponseRecorder) models.Transaction {
	t.Helper()
	var txn models.Transaction
	if err := json.Unmarshal(w.Body.Bytes(), &txn); err != nil {
		t.Fatalf("decode transaction: %v\nbody: %s", err, w.Body.String())
	}
	return txn
}

func webhookForm(invoiceID int64, amount decimal.Decimal) url.Values {
	orderID := strconv.FormatInt(invoiceID, 10)
	sig := gateway.Sign(gateway.SignatureFields{
		MerchantLogin: routerMerchant,
		Amount:        amount,
		OrderID:       orderID,
	}, routerPw2, gateway.DigestMD5)

	form := url.Values{}
	form.Set("InvId", orderID)
	form.Set("Sum", amount.StringFixed(2))
	form.Set("SignatureValue", sig)
	form.Set("MerchantLogin", routerMerchant)
	form.Set("OperationId", "op-1")
	return form
}

func postWebhook(t *testing.T, r http.Handler, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPaymentFlowOverHTTP(t *testing.T) {
	r := newTestRouter(t)

	// Register an offer.
	w := doJSON(t, r, http.MethodPost, "/offers", map[string]any{
		"id":                  "welcome10",
		"type":                "discount",
		"title":               "Welcome Discount",
		"discount_percentage": "10",
		"max_discount":        "50",
		"min_amount":          "10",
		"active":              true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register offer: status %d, body %s", w.Code, w.Body.String())
	}

	// Create a transaction; the offer is applied on the way in.
	w = doJSON(t, r, http.MethodPost, "/transactions", map[string]any{
		"user_id":        "user-1",
		"amount":         "1000.00",
		"payment_method": "sbp",
		"sbp_details": map[string]string{
			"phone":          "+79001234567",
			"bank_code":      "1234",
			"account_number": "40817810000000000001",
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status %d, body %s", w.Code, w.Body.String())
	}
	txn := decodeTransaction(t, w)
	if !txn.FinalAmount.Equal(decimal.RequireFromString("950.00")) {
		t.Fatalf("final amount = %s, want 950.00", txn.FinalAmount)
	}

	// Initiate: SBP stays PROCESSING and returns a redirect URL.
	w = doJSON(t, r, http.MethodPost, "/transactions/"+txn.ID+"/process", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("process: status %d, body %s", w.Code, w.Body.String())
	}
	var result service.PaymentResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Status != models.StatusProcessing || result.PaymentURL == "" {
		t.Fatalf("process result = %+v", result)
	}

	// Settle via webhook; the gateway expects the OK{InvId} acknowledgement.
	w = postWebhook(t, r, webhookForm(txn.InvoiceID, txn.FinalAmount))
	if w.Code != http.StatusOK {
		t.Fatalf("webhook: status %d, body %s", w.Code, w.Body.String())
	}
	wantAck := "OK" + strconv.FormatInt(txn.InvoiceID, 10)
	if w.Body.String() != wantAck {
		t.Errorf("webhook ack = %q, want %q", w.Body.String(), wantAck)
	}

	w = doJSON(t, r, http.MethodGet, "/transactions/"+txn.ID, nil)
	if got := decodeTransaction(t, w); got.Status != models.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", got.Status)
	}

	// A replayed notification is acknowledged again without a state change.
	if w = postWebhook(t, r, webhookForm(txn.InvoiceID, txn.FinalAmount)); w.Code != http.StatusOK {
		t.Errorf("replay: status %d, body %s", w.Code, w.Body.String())
	}

	// Refund the settled transaction.
	w = doJSON(t, r, http.MethodPost, "/transactions/"+txn.ID+"/refund", map[string]string{"reason": "item returned"})
	if w.Code != http.StatusOK {
		t.Fatalf("refund: status %d, body %s", w.Code, w.Body.String())
	}
	if got := decodeTransaction(t, w); got.Status != models.StatusRefunded {
		t.Errorf("status = %s, want REFUNDED", got.Status)
	}
}

func TestWebhookRejectedOverHTTP(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/transactions", map[string]any{
		"user_id":        "user-1",
		"amount":         "100.00",
		"payment_method": "sbp",
		"sbp_details": map[string]string{
			"phone":          "+79001234567",
			"bank_code":      "1234",
			"account_number": "40817810000000000001",
		},
	})
	txn := decodeTransaction(t, w)
	doJSON(t, r, http.MethodPost, "/transactions/"+txn.ID+"/process", nil)

	// Tampered amount fails signature verification.
	form := webhookForm(txn.InvoiceID, txn.FinalAmount)
	form.Set("Sum", "100.01")
	if w := postWebhook(t, r, form); w.Code != http.StatusForbidden {
		t.Errorf("tampered webhook: status %d, want 403", w.Code)
	}

	// Unknown order after a valid signature.
	if w := postWebhook(t, r, webhookForm(987654, decimal.RequireFromString("1.00"))); w.Code != http.StatusNotFound {
		t.Errorf("unknown order: status %d, want 404", w.Code)
	}

	// Missing fields never reach verification.
	form = webhookForm(txn.InvoiceID, txn.FinalAmount)
	form.Del("SignatureValue")
	if w := postWebhook(t, r, form); w.Code != http.StatusBadRequest {
		t.Errorf("missing signature: status %d, want 400", w.Code)
	}

	// The transaction is still awaiting settlement.
	w = doJSON(t, r, http.MethodGet, "/transactions/"+txn.ID, nil)
	if got := decodeTransaction(t, w); got.Status != models.StatusProcessing {
		t.Errorf("status = %s, want PROCESSING", got.Status)
	}
}

func TestErrorStatusesOverHTTP(t *testing.T) {
	r := newTestRouter(t)

	if w := doJSON(t, r, http.MethodGet, "/transactions/TXN-MISSING", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown transaction: status %d, want 404", w.Code)
	}

	w := doJSON(t, r, http.MethodPost, "/transactions", map[string]any{
		"user_id": "user-1",
		"amount":  "-5.00",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative amount: status %d, want 400", w.Code)
	}

	// Refunding an unsettled transaction is a state conflict.
	w = doJSON(t, r, http.MethodPost, "/transactions", map[string]any{
		"user_id":        "user-1",
		"amount":         "50.00",
		"payment_method": "card",
	})
	txn := decodeTransaction(t, w)
	w = doJSON(t, r, http.MethodPost, "/transactions/"+txn.ID+"/refund", map[string]string{"reason": "early"})
	if w.Code != http.StatusConflict {
		t.Errorf("refund pending: status %d, want 409", w.Code)
	}
}

func TestListOffersOverHTTP(t *testing.T) {
	r := newTestRouter(t)

	doJSON(t, r, http.MethodPost, "/offers", map[string]any{
		"id":                  "welcome10",
		"type":                "discount",
		"title":               "Welcome Discount",
		"discount_percentage": "10",
		"min_amount":          "10",
		"active":              true,
	})

	w := doJSON(t, r, http.MethodGet, "/offers?amount=200.00", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list offers: status %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Offers []struct {
			ID       string `json:"id"`
			Discount string `json:"discount_amount"`
		} `json:"offers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Offers) != 1 || resp.Offers[0].Discount != "20.00" {
		t.Errorf("offers = %+v", resp.Offers)
	}

	if w := doJSON(t, r, http.MethodGet, "/offers?amount=abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad amount: status %d, want 400", w.Code)
	}

	// Registering the same offer id twice is a conflict.
	w = doJSON(t, r, http.MethodPost, "/offers", map[string]any{
		"id":                  "welcome10",
		"type":                "discount",
		"title":               "Welcome Discount",
		"discount_percentage": "10",
		"active":              true,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate offer: status %d, want 409", w.Code)
	}
}
