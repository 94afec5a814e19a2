package transferclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTransferSendsTokenAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/transfers" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Fatalf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		var req TransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if req.ChainDestination != "sepolia" || req.Amount != "1.5" {
			t.Fatalf("unexpected body %+v", req)
		}
		_ = json.NewEncoder(w).Encode(TransferResult{Success: true, Method: "bridge", From: "polygonAmoy", TxHash: "0xabc", MessageID: "0xdef", Fee: "42", RequestID: "req-1"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetAccessToken("secret")

	result, err := client.Transfer(context.Background(), TransferRequest{Token: "USDC", ChainDestination: "sepolia", Recipient: "0x01", Amount: "1.5"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if result.Method != "bridge" || result.MessageID != "0xdef" || result.RequestID != "req-1" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestTransferErrorCarriesCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"error":"余额不足","code":"INSUFFICIENT_FUNDS","request_id":"req-9"}`))
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	_, err := client.TransferFromIntent(context.Background(), "<response><error>x</error></response>")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "INSUFFICIENT_FUNDS" || apiErr.RequestID != "req-9" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestListAndGetTransfers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Fatal("no token configured, none expected")
		}
		switch r.URL.Path {
		case "/api/v1/transfers":
			q := r.URL.Query()
			if q.Get("limit") != "5" || q.Get("status") != "failed,succeeded" || q.Get("order") != "asc" {
				t.Fatalf("unexpected query %s", r.URL.RawQuery)
			}
			_ = json.NewEncoder(w).Encode([]TransferRecord{{ID: "req-1", Status: "failed"}})
		case "/api/v1/transfers/req-1":
			_ = json.NewEncoder(w).Encode(TransferRecord{ID: "req-1", Status: "succeeded", Result: &RecordResult{Method: "direct"}})
		case "/api/v1/chains":
			_ = json.NewEncoder(w).Encode([]Chain{{ID: "sepolia", Selector: "16015286601757825753"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	ctx := context.Background()

	records, err := client.ListTransfers(ctx, ListOptions{Limit: 5, Statuses: []string{"failed", "succeeded"}, Ascending: true})
	if err != nil || len(records) != 1 {
		t.Fatalf("list: %v %v", records, err)
	}
	record, err := client.GetTransfer(ctx, "req-1")
	if err != nil || record.Result == nil || record.Result.Method != "direct" {
		t.Fatalf("get: %+v %v", record, err)
	}
	chains, err := client.Chains(ctx)
	if err != nil || len(chains) != 1 || chains[0].Selector != "16015286601757825753" {
		t.Fatalf("chains: %v %v", chains, err)
	}
}
