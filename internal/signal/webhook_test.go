package signal

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/moltbunker/solverbond/internal/util"
	"github.com/moltbunker/solverbond/pkg/types"
)

func TestWebhookSinkPostsJSON(t *testing.T) {
	got := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		got <- body
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, time.Second)
	defer sink.client.CloseIdleConnections()
	err := sink.Deliver(context.Background(), types.Outcome{
		Kind:      types.OutcomeSlashed,
		ReceiptID: receiptA,
		SolverID:  solverA,
		Amount:    big.NewInt(10000),
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	body := <-got
	if body["kind"] != "slashed" {
		t.Errorf("kind = %v, want slashed", body["kind"])
	}
	if body["receipt_id"] != receiptA.Hex() {
		t.Errorf("receipt_id = %v, want %s", body["receipt_id"], receiptA.Hex())
	}
}

func TestWebhookSinkStatusHandling(t *testing.T) {
	tests := []struct {
		status       int
		wantErr      bool
		nonRetryable bool
	}{
		{http.StatusOK, false, false},
		{http.StatusAccepted, false, false},
		{http.StatusBadRequest, true, true},
		{http.StatusNotFound, true, true},
		{http.StatusTooManyRequests, true, false},
		{http.StatusInternalServerError, true, false},
		{http.StatusBadGateway, true, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		sink := NewWebhookSink(srv.URL, time.Second)
		err := sink.Deliver(context.Background(), types.Outcome{Kind: types.OutcomeFinalized})
		sink.client.CloseIdleConnections()
		srv.Close()

		if (err != nil) != tt.wantErr {
			t.Errorf("status %d: err = %v, wantErr %v", tt.status, err, tt.wantErr)
			continue
		}
		if err != nil && util.IsNonRetryable(err) != tt.nonRetryable {
			t.Errorf("status %d: non-retryable = %v, want %v", tt.status, util.IsNonRetryable(err), tt.nonRetryable)
		}
	}
}

func TestWebhookSinkUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewWebhookSink(url, time.Second).Deliver(context.Background(), types.Outcome{Kind: types.OutcomeFinalized})
	if err == nil {
		t.Fatal("expected error for closed server")
	}
	if util.IsNonRetryable(err) {
		t.Error("connection failures must be retryable")
	}
}

func TestWebhookSinkNameRedactsSecrets(t *testing.T) {
	sink := NewWebhookSink("https://adapter.example/hook?token=abc123", 0)
	if name := sink.Name(); name == "webhook:https://adapter.example/hook?token=abc123" {
		t.Errorf("token leaked in sink name: %s", name)
	}
}
