package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zarpay/paycore/internal/domain"
)

func TestSimulatedTransfer(t *testing.T) {
	g := &SimulatedTransfer{}
	ref, err := g.Submit(context.Background(), "lsk1", decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.HasPrefix(ref, "0x") || len(ref) != 34 {
		t.Fatalf("unexpected reference %q", ref)
	}
	if _, err := g.Submit(context.Background(), "", decimal.NewFromInt(10)); !errors.Is(err, domain.ErrGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestSimulatedTransferHonoursContext(t *testing.T) {
	g := &SimulatedTransfer{Latency: time.Minute}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := g.Submit(ctx, "lsk1", decimal.NewFromInt(1)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func collect(ch <-chan StageEvent) []StageEvent {
	var out []StageEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestSimulatedSettlementStages(t *testing.T) {
	g := &SimulatedSettlement{}
	ch, err := g.Initiate(context.Background(), Instruction{TransactionID: "fiat_1", Kind: domain.FiatBuy, Amount: decimal.NewFromInt(100)})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	events := collect(ch)
	if len(events) != 2 || events[0].Status != domain.FiatProcessing || events[1].Status != domain.FiatCompleted {
		t.Fatalf("unexpected events %+v", events)
	}
	if events[1].Reference == "" {
		t.Fatal("expected a settlement reference on completion")
	}

	ch, _ = g.Initiate(context.Background(), Instruction{Kind: domain.FiatSell, Amount: decimal.NewFromInt(1), BankAccount: "FAIL-001"})
	events = collect(ch)
	if last := events[len(events)-1]; last.Status != domain.FiatFailed || last.Reason == "" {
		t.Fatalf("expected failed event with reason, got %+v", last)
	}

	if _, err := g.Initiate(context.Background(), Instruction{Amount: decimal.Zero}); !errors.Is(err, domain.ErrGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestSimulatedSettlementStopsOnCancel(t *testing.T) {
	g := &SimulatedSettlement{StageDelay: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := g.Initiate(ctx, Instruction{Amount: decimal.NewFromInt(1)})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	cancel()
	if events := collect(ch); len(events) != 0 {
		t.Fatalf("expected no events after cancel, got %+v", events)
	}
}

func TestWebhookNotifierSignsBody(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "s3cret", time.Second)
	if err := n.Notify(context.Background(), "Payment sent", "+27820000000"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if want := Sign([]byte("s3cret"), gotBody); gotSig != want {
		t.Fatalf("signature mismatch: got %q, want %q", gotSig, want)
	}
	if !strings.Contains(string(gotBody), `"message":"Payment sent"`) {
		t.Fatalf("unexpected body %s", gotBody)
	}
}

func TestWebhookNotifierReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "s3cret", time.Second)
	if err := n.Notify(context.Background(), "hi", "bob"); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
