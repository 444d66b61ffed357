package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/zarpay/paycore/internal/clock"
	"github.com/zarpay/paycore/internal/currency"
	"github.com/zarpay/paycore/internal/execution"
	"github.com/zarpay/paycore/internal/fiat"
	"github.com/zarpay/paycore/internal/gateway"
	"github.com/zarpay/paycore/internal/ingestion"
	"github.com/zarpay/paycore/internal/keylock"
	"github.com/zarpay/paycore/internal/merchant"
	"github.com/zarpay/paycore/internal/paylink"
	"github.com/zarpay/paycore/internal/reconciliation"
	"github.com/zarpay/paycore/internal/report"
	"github.com/zarpay/paycore/internal/repository"
	"github.com/zarpay/paycore/internal/schedule"
)

var now = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

// heldSettlement acknowledges instructions and never reports progress, so
// conversions only move through the events endpoint.
type heldSettlement struct{}

func (heldSettlement) Initiate(context.Context, gateway.Instruction) (<-chan gateway.StageEvent, error) {
	return make(chan gateway.StageEvent), nil
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := repository.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	log := zaptest.NewLogger(t)
	c := clock.NewFake(now)
	transfer := &gateway.SimulatedTransfer{}

	locks := keylock.New()
	requests := paylink.NewService(store.Requests, paylink.NewCodec(c, 0), locks, c, 0, log)
	scheduler := schedule.NewScheduler(store.Scheduled, c, log)
	rates := currency.NewTable(c)
	machine := fiat.NewMachine(store.Fiat, rates, heldSettlement{}, c,
		fiat.Config{Currency: currency.Token}, log)
	reconciler := reconciliation.NewService(machine, store.Settlements, store.Discrepancies, rates, c, 0, log)
	coord := execution.NewCoordinator(scheduler, requests, locks, store, transfer, nil, c, execution.Config{}, log)

	srv := httptest.NewServer(NewRouter(Services{
		Requests:    requests,
		Scheduler:   scheduler,
		Fiat:        machine,
		Coordinator: coord,
		Merchant:    merchant.NewService(store.Merchant, transfer, c, time.Second, log),
		Reporter:    report.NewReporter(store.Ledger, store.Merchant, "0.01", "Test Wallet"),
		Ledger:      store.Ledger,
		Clock:       c,
		Log:         log,

		Ingestion:     ingestion.NewService(store.Settlements, reconciler, c, log),
		Reconciler:    reconciler,
		Settlements:   store.Settlements,
		Discrepancies: store.Discrepancies,
	}))
	t.Cleanup(func() {
		srv.Close()
		machine.Close()
		coord.Close()
		store.Close()
	})
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		var body bytes.Buffer
		_, _ = body.ReadFrom(resp.Body)
		t.Fatalf("%s %s: status %d, want %d: %s",
			resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body.String())
	}
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv := newServer(t)
	resp := do(t, srv, http.MethodGet, "/health", nil)
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestPaymentRequestFlow(t *testing.T) {
	srv := newServer(t)

	resp := do(t, srv, http.MethodPost, "/api/v1/requests", map[string]string{
		"recipient": "lsk24cd35u4jdq8szo3pnsqe5dsxwrnazyqqqg5eu",
		"amount":    "150.00",
		"note":      "Dinner & drinks",
	})
	expectStatus(t, resp, http.StatusCreated)
	var created struct {
		Request struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"request"`
		URI string `json:"uri"`
	}
	decodeJSON(t, resp, &created)
	if created.Request.Status != "pending" || !strings.HasPrefix(created.URI, paylink.Scheme+"://") {
		t.Fatalf("unexpected create response %+v", created)
	}

	resp = do(t, srv, http.MethodPost, "/api/v1/links/decode", map[string]string{"uri": created.URI})
	expectStatus(t, resp, http.StatusOK)
	var decoded struct {
		Amount string `json:"amount"`
		Note   string `json:"note"`
	}
	decodeJSON(t, resp, &decoded)
	if decoded.Amount != "150.00" || decoded.Note != "Dinner & drinks" {
		t.Fatalf("unexpected decoded link %+v", decoded)
	}

	resp = do(t, srv, http.MethodPost, "/api/v1/links/scan", map[string]string{"uri": created.URI})
	expectStatus(t, resp, http.StatusOK)

	resp = do(t, srv, http.MethodPost, "/api/v1/requests/"+created.Request.ID+"/pay", nil)
	expectStatus(t, resp, http.StatusOK)
	var entry struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decodeJSON(t, resp, &entry)
	if entry.Status != "completed" {
		t.Fatalf("unexpected ledger entry %+v", entry)
	}

	resp = do(t, srv, http.MethodPost, "/api/v1/requests/"+created.Request.ID+"/pay", nil)
	expectStatus(t, resp, http.StatusConflict)

	resp = do(t, srv, http.MethodGet, "/api/v1/requests?status=paid", nil)
	expectStatus(t, resp, http.StatusOK)
	var listed struct {
		Total int `json:"total"`
	}
	decodeJSON(t, resp, &listed)
	if listed.Total != 1 {
		t.Fatalf("expected one paid request, got %d", listed.Total)
	}

	resp = do(t, srv, http.MethodGet, "/api/v1/ledger/"+entry.ID+"/receipt?format=text", nil)
	expectStatus(t, resp, http.StatusOK)
	var text bytes.Buffer
	_, _ = text.ReadFrom(resp.Body)
	if !strings.Contains(text.String(), "Test Wallet") {
		t.Fatalf("receipt does not name the sender:\n%s", text.String())
	}

	resp = do(t, srv, http.MethodGet, "/api/v1/ledger/export", nil)
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("unexpected content type %q", ct)
	}
	var csv bytes.Buffer
	_, _ = csv.ReadFrom(resp.Body)
	lines := strings.Split(strings.TrimSpace(csv.String()), "\n")
	if len(lines) != 2 || lines[0] != report.Header {
		t.Fatalf("unexpected export:\n%s", csv.String())
	}

	resp = do(t, srv, http.MethodGet, "/api/v1/ledger/analytics?period=week", nil)
	expectStatus(t, resp, http.StatusOK)
	var spending struct {
		TotalSpent       string `json:"total_spent"`
		TransactionCount int    `json:"transaction_count"`
		Recipients       []struct {
			Amount string `json:"amount"`
		} `json:"recipients"`
	}
	decodeJSON(t, resp, &spending)
	if spending.TotalSpent != "150.00" || spending.TransactionCount != 1 || len(spending.Recipients) != 1 {
		t.Fatalf("unexpected analytics %+v", spending)
	}
	resp = do(t, srv, http.MethodGet, "/api/v1/ledger/analytics?format=text", nil)
	expectStatus(t, resp, http.StatusOK)
	var summary bytes.Buffer
	_, _ = summary.ReadFrom(resp.Body)
	if !strings.Contains(summary.String(), "# Spending Report - Month") {
		t.Fatalf("unexpected spending report:\n%s", summary.String())
	}
	expectStatus(t, do(t, srv, http.MethodGet, "/api/v1/ledger/analytics?period=decade", nil), http.StatusBadRequest)
}

func TestRequestErrors(t *testing.T) {
	srv := newServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing request", http.MethodGet, "/api/v1/requests/req_missing", nil, http.StatusNotFound},
		{"zero amount", http.MethodPost, "/api/v1/requests", map[string]string{"recipient": "lsk1", "amount": "0"}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/v1/requests", map[string]string{"recipient": "lsk1", "amount": "1", "memo": "x"}, http.StatusBadRequest},
		{"bad expiry", http.MethodPost, "/api/v1/requests", map[string]string{"recipient": "lsk1", "amount": "1", "expires_in": "soon"}, http.StatusBadRequest},
		{"foreign scheme", http.MethodPost, "/api/v1/links/decode", map[string]string{"uri": "https://example.com/pay"}, http.StatusUnprocessableEntity},
		{"bad ledger range", http.MethodGet, "/api/v1/ledger?from=yesterday", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, do(t, srv, tt.method, tt.path, tt.body), tt.want)
		})
	}
}

func TestScheduledPaymentFlow(t *testing.T) {
	srv := newServer(t)

	resp := do(t, srv, http.MethodPost, "/api/v1/scheduled", map[string]any{
		"recipient":      "lsk1coffee",
		"recipient_name": "Coffee Shop",
		"amount":         "45.00",
		"frequency":      "daily",
		"start_date":     now.Format(time.RFC3339),
	})
	expectStatus(t, resp, http.StatusCreated)
	var sp struct {
		ID string `json:"id"`
	}
	decodeJSON(t, resp, &sp)

	resp = do(t, srv, http.MethodGet, "/api/v1/scheduled/due", nil)
	expectStatus(t, resp, http.StatusOK)
	var due struct {
		Total int `json:"total"`
	}
	decodeJSON(t, resp, &due)
	if due.Total != 1 {
		t.Fatalf("expected one due payment, got %d", due.Total)
	}

	expectStatus(t, do(t, srv, http.MethodPost, "/api/v1/scheduled/"+sp.ID+"/execute", nil), http.StatusOK)
	expectStatus(t, do(t, srv, http.MethodPost, "/api/v1/scheduled/"+sp.ID+"/execute", nil), http.StatusConflict)

	resp = do(t, srv, http.MethodGet, "/api/v1/scheduled/"+sp.ID, nil)
	expectStatus(t, resp, http.StatusOK)
	var got struct {
		NextPaymentDate time.Time `json:"next_payment_date"`
	}
	decodeJSON(t, resp, &got)
	if !got.NextPaymentDate.Equal(now.AddDate(0, 0, 1)) {
		t.Fatalf("expected next payment tomorrow, got %s", got.NextPaymentDate)
	}

	resp = do(t, srv, http.MethodPost, "/api/v1/scheduled/"+sp.ID+"/cancel", nil)
	expectStatus(t, resp, http.StatusOK)
	var cancelled struct {
		IsActive bool `json:"is_active"`
	}
	decodeJSON(t, resp, &cancelled)
	if cancelled.IsActive {
		t.Fatal("expected cancelled payment to be inactive")
	}

	resp = do(t, srv, http.MethodGet, "/api/v1/ledger?target_kind=scheduled_payment&target_id="+sp.ID, nil)
	expectStatus(t, resp, http.StatusOK)
	var ledger struct {
		Total int `json:"total"`
	}
	decodeJSON(t, resp, &ledger)
	if ledger.Total != 1 {
		t.Fatalf("expected one ledger entry, got %d", ledger.Total)
	}

	resp = do(t, srv, http.MethodPost, "/api/v1/scheduled", map[string]any{
		"recipient":  "lsk1",
		"amount":     "1",
		"frequency":  "fortnightly",
		"start_date": now.Format(time.RFC3339),
	})
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestFiatFlow(t *testing.T) {
	srv := newServer(t)

	resp := do(t, srv, http.MethodPost, "/api/v1/fiat/buy", map[string]string{
		"amount":       "1000.00",
		"bank_account": "FNB-12345",
	})
	expectStatus(t, resp, http.StatusAccepted)
	var tx struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		ZARAmount string `json:"zar_amount"`
	}
	decodeJSON(t, resp, &tx)
	if tx.Status != "pending" || tx.ZARAmount != "1000.00" {
		t.Fatalf("unexpected conversion %+v", tx)
	}

	events := "/api/v1/fiat/" + tx.ID + "/events"
	expectStatus(t, do(t, srv, http.MethodPost, events, map[string]string{"status": "processing"}), http.StatusOK)
	expectStatus(t, do(t, srv, http.MethodPost, events, map[string]string{"status": "processing"}), http.StatusOK)
	expectStatus(t, do(t, srv, http.MethodPost, events, map[string]string{"status": "pending"}), http.StatusBadRequest)

	resp = do(t, srv, http.MethodPost, events, map[string]string{"status": "completed", "reference": "bank_ref_1"})
	expectStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &tx)
	if tx.Status != "completed" {
		t.Fatalf("expected completed, got %s", tx.Status)
	}

	expectStatus(t, do(t, srv, http.MethodPost, events, map[string]string{"status": "failed"}), http.StatusConflict)
	expectStatus(t, do(t, srv, http.MethodGet, "/api/v1/fiat/fiat_missing", nil), http.StatusNotFound)
	expectStatus(t, do(t, srv, http.MethodGet, "/api/v1/fiat/rate", nil), http.StatusOK)

	expectStatus(t, do(t, srv, http.MethodPut, "/api/v1/fiat/rates/kes", map[string]string{"per_usd": "130"}), http.StatusOK)
	expectStatus(t, do(t, srv, http.MethodPut, "/api/v1/fiat/rates/kes", map[string]string{"per_usd": "0"}), http.StatusBadRequest)
}

func TestMerchantFlow(t *testing.T) {
	srv := newServer(t)

	resp := do(t, srv, http.MethodPost, "/api/v1/merchant/transactions", map[string]string{
		"amount":           "125.00",
		"customer_address": "lsk24cd35u4jdq8szo3pnsqe5dsxwrnazyqqqg5eu",
		"customer_name":    "Jane Smith",
		"product_name":     "Lunch Special",
	})
	expectStatus(t, resp, http.StatusCreated)
	var payment struct {
		ID string `json:"id"`
	}
	decodeJSON(t, resp, &payment)

	refund := func(amount string) *http.Response {
		return do(t, srv, http.MethodPost, "/api/v1/merchant/refunds", map[string]string{
			"original_id": payment.ID,
			"amount":      amount,
			"reason":      "cold food",
		})
	}
	expectStatus(t, refund("125.01"), http.StatusBadRequest)
	expectStatus(t, refund("25.00"), http.StatusCreated)

	resp = do(t, srv, http.MethodGet, "/api/v1/merchant/stats", nil)
	expectStatus(t, resp, http.StatusOK)
	var stats struct {
		TodayRevenue      string `json:"today_revenue"`
		TotalTransactions int    `json:"total_transactions"`
	}
	decodeJSON(t, resp, &stats)
	if stats.TodayRevenue != "100" || stats.TotalTransactions != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	resp = do(t, srv, http.MethodGet, "/api/v1/merchant/transactions?limit=1", nil)
	expectStatus(t, resp, http.StatusOK)
	var page struct {
		Transactions []json.RawMessage `json:"transactions"`
	}
	decodeJSON(t, resp, &page)
	if len(page.Transactions) != 1 {
		t.Fatalf("expected one transaction on the page, got %d", len(page.Transactions))
	}
}

func TestStatementReconciliation(t *testing.T) {
	srv := newServer(t)

	resp := do(t, srv, http.MethodPost, "/api/v1/fiat/sell", map[string]string{
		"amount":       "250.00",
		"bank_account": "FNB-12345",
	})
	expectStatus(t, resp, http.StatusAccepted)
	var tx struct {
		ID string `json:"id"`
	}
	decodeJSON(t, resp, &tx)

	statement := "reference,bank_reference,settle_date,amount,currency,status,batch_id\n" +
		tx.ID + ",FNB-889,2025-03-10,250.00,ZAR,settled,B-1\n" +
		"fiat_unknown,FNB-890,2025-03-10,99.00,ZAR,settled,B-1\n"
	upload := func() *http.Response {
		req, err := http.NewRequest(http.MethodPost,
			srv.URL+"/api/v1/fiat/statements?source=fnb&format=csv", strings.NewReader(statement))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("upload: %v", err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp = upload()
	expectStatus(t, resp, http.StatusCreated)
	var res struct {
		RecordsIngested       int `json:"records_ingested"`
		DiscrepanciesDetected int `json:"discrepancies_detected"`
	}
	decodeJSON(t, resp, &res)
	if res.RecordsIngested != 2 || res.DiscrepanciesDetected != 1 {
		t.Fatalf("unexpected ingest result %+v", res)
	}
	expectStatus(t, upload(), http.StatusOK)

	resp = do(t, srv, http.MethodGet, "/api/v1/fiat/"+tx.ID, nil)
	expectStatus(t, resp, http.StatusOK)
	var got struct {
		Status              string `json:"status"`
		SettlementReference string `json:"settlement_reference"`
	}
	decodeJSON(t, resp, &got)
	if got.Status != "completed" || got.SettlementReference != "FNB-889" {
		t.Fatalf("expected statement to complete the conversion, got %+v", got)
	}

	resp = do(t, srv, http.MethodGet, "/api/v1/fiat/discrepancies?type=ORPHANED_SETTLEMENT", nil)
	expectStatus(t, resp, http.StatusOK)
	var discs struct {
		Total int `json:"total"`
	}
	decodeJSON(t, resp, &discs)
	if discs.Total != 1 {
		t.Fatalf("expected one orphaned settlement, got %d", discs.Total)
	}

	expectStatus(t, do(t, srv, http.MethodPost, "/api/v1/fiat/statements?format=xml&source=fnb", nil), http.StatusBadRequest)
}
