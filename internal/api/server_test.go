package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"crosschain-transfer/internal/chain"
	xerrors "crosschain-transfer/internal/errors"
	"crosschain-transfer/internal/journal"
	"crosschain-transfer/internal/transfer"
	"crosschain-transfer/internal/web3"
)

const testChains = `
chains:
  - id: polygonAmoy
    name: Polygon Amoy
    chain_id: 80002
    rpc_url: https://rpc.example/amoy?key=secret
    native_symbol: POL
    token_address: "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582"
    router_address: "0x9C32fCB86BF0f4a1A8921a9Fe46de3198bb884B2"
    chain_selector: "16281711391670634445"
  - id: sepolia
    name: Ethereum Sepolia
    chain_id: 11155111
    rpc_url: https://rpc.example/sepolia
    token_address: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"
    router_address: "0x0BF3dE8c5D3e8A2B34D2BEeB17ABfCeBaf363A59"
    chain_selector: "16015286601757825753"
`

type fakeService struct {
	receipt  transfer.Receipt
	err      error
	requests []transfer.Request
	store    *journal.MemoryStore
}

func (f *fakeService) Submit(_ context.Context, req transfer.Request) (transfer.Receipt, error) {
	f.requests = append(f.requests, req)
	return f.receipt, f.err
}

func (f *fakeService) Get(ctx context.Context, id string) (*journal.Entry, error) {
	return f.store.Get(ctx, id)
}

func (f *fakeService) List(ctx context.Context, opts ...journal.ListOption) ([]*journal.Entry, error) {
	return f.store.List(ctx, journal.BuildListOptions(opts...))
}

type fakeProber struct {
	failing string
}

func (p fakeProber) Snapshot(_ context.Context, id string) (web3.ChainSnapshot, error) {
	if id == p.failing {
		return web3.ChainSnapshot{}, errors.New("dial timeout")
	}
	return web3.ChainSnapshot{Chain: id, BlockNumber: "1"}, nil
}

func newTestServer(t *testing.T, svc *fakeService, opts ...Option) http.Handler {
	t.Helper()
	chains, err := chain.Parse([]byte(testChains))
	if err != nil {
		t.Fatalf("parse chains: %v", err)
	}
	if svc.store == nil {
		svc.store = journal.NewMemoryStore()
	}
	return NewServer(":0", svc, chains, opts...).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body
}

const transferBody = `{"token":"USDC","chain_destination":"sepolia","recipient":"0x000000000000000000000000000000000000dEaD","amount":"5"}`

func TestCreateTransferBridgeResponse(t *testing.T) {
	svc := &fakeService{receipt: transfer.Receipt{
		RequestID: "req-1",
		Outcome: transfer.Outcome{
			Method:      transfer.MethodBridge,
			SourceChain: "polygonAmoy",
			TxHash:      "0xabc",
			MessageID:   "0xdef",
			Fee:         big.NewInt(42),
		},
	}}
	h := newTestServer(t, svc)

	rec := do(t, h, http.MethodPost, "/api/v1/transfers", transferBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["success"] != true || body["method"] != "bridge" || body["from"] != "polygonAmoy" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["txhash"] != "0xabc" || body["messageId"] != "0xdef" || body["fee"] != "42" || body["request_id"] != "req-1" {
		t.Fatalf("unexpected body %v", body)
	}
	if len(svc.requests) != 1 || svc.requests[0].ChainDestination != "sepolia" || svc.requests[0].Amount != "5" {
		t.Fatalf("unexpected forwarded request %+v", svc.requests)
	}
}

func TestCreateTransferDirectOmitsBridgeFields(t *testing.T) {
	svc := &fakeService{receipt: transfer.Receipt{
		RequestID: "req-2",
		Outcome:   transfer.Outcome{Method: transfer.MethodDirect, SourceChain: "sepolia", TxHash: "0x1"},
	}}
	rec := do(t, newTestServer(t, svc), http.MethodPost, "/api/v1/transfers", transferBody)
	body := decode(t, rec)
	if _, ok := body["messageId"]; ok {
		t.Fatalf("direct transfers carry no message id: %v", body)
	}
	if _, ok := body["fee"]; ok {
		t.Fatalf("direct transfers carry no fee: %v", body)
	}
}

func TestCreateTransferErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
		msg    string
	}{
		{"unknown chain", xerrors.New(chain.CodeUnknownChain, "Unknown chain: marsnet"), 400, "UNKNOWN_CHAIN", "Unknown chain: marsnet"},
		{"no eligible", xerrors.New(transfer.CodeNoEligibleSource, transfer.NoEligibleSourceMessage), 400, "NO_ELIGIBLE_SOURCE", transfer.NoEligibleSourceMessage},
		{"chain failure", xerrors.Wrap(transfer.CodeChainCallFailed, errors.New("rpc down"), "Error on sepolia"), 500, "CHAIN_CALL_FAILED", "Error on sepolia: rpc down"},
		{"plain error", errors.New("boom"), 500, "UNKNOWN", "boom"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{receipt: transfer.Receipt{RequestID: "req-x"}, err: tc.err}
			rec := do(t, newTestServer(t, svc), http.MethodPost, "/api/v1/transfers", transferBody)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			body := decode(t, rec)
			if body["success"] != false || body["code"] != tc.code || body["error"] != tc.msg || body["request_id"] != "req-x" {
				t.Fatalf("unexpected body %v", body)
			}
		})
	}
}

func TestCreateTransferRejectsBadBodies(t *testing.T) {
	svc := &fakeService{}
	h := newTestServer(t, svc)
	for name, body := range map[string]string{
		"unknown field": `{"token":"USDC","chain_destination":"sepolia","recipient":"0x0","amount":"1","extra":true}`,
		"not json":      `token=USDC`,
		"trailing":      transferBody + `{"again":1}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/v1/transfers", body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if decode(t, rec)["code"] != string(transfer.CodeValidationFailed) {
				t.Fatalf("unexpected body %s", rec.Body.String())
			}
		})
	}
	if len(svc.requests) != 0 {
		t.Fatal("malformed bodies must not reach the service")
	}
	if rec := do(t, h, http.MethodDelete, "/api/v1/transfers", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestIntentEndpoint(t *testing.T) {
	svc := &fakeService{receipt: transfer.Receipt{RequestID: "req-3", Outcome: transfer.Outcome{Method: transfer.MethodDirect, SourceChain: "sepolia"}}}
	h := newTestServer(t, svc)

	text := "<response><token>usdc</token><amount>1.5</amount><chain>Sepolia</chain><to>0x000000000000000000000000000000000000dEaD</to></response>"
	payload, _ := json.Marshal(map[string]string{"text": text})
	rec := do(t, h, http.MethodPost, "/api/v1/intents", string(payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if len(svc.requests) != 1 || svc.requests[0].Token != "USDC" || svc.requests[0].ChainDestination != "sepolia" {
		t.Fatalf("unexpected request %+v", svc.requests)
	}

	payload, _ = json.Marshal(map[string]string{"text": "<response><error>Not a token transfer request</error></response>"})
	rec = do(t, h, http.MethodPost, "/api/v1/intents", string(payload))
	if rec.Code != http.StatusBadRequest || decode(t, rec)["code"] != "NOT_A_TRANSFER" {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if len(svc.requests) != 1 {
		t.Fatal("rejected intents must not reach the service")
	}
}

func TestTransferQueries(t *testing.T) {
	svc := &fakeService{store: journal.NewMemoryStore()}
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := svc.store.Create(ctx, &journal.Entry{ID: id, Token: "USDC", Destination: "sepolia"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := svc.store.MarkSucceeded(ctx, "b", journal.Result{Method: "direct", TxHash: "0xb"}); err != nil {
		t.Fatalf("mark: %v", err)
	}
	h := newTestServer(t, svc)

	rec := do(t, h, http.MethodGet, "/api/v1/transfers?limit=2", "")
	var list []journal.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if rec.Code != http.StatusOK || len(list) != 2 {
		t.Fatalf("unexpected list %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/api/v1/transfers?status=succeeded", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 || list[0].ID != "b" {
		t.Fatalf("unexpected filtered list %s", rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/api/v1/transfers/b", "")
	var entry journal.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry.Result == nil || entry.Result.TxHash != "0xb" {
		t.Fatalf("unexpected entry %+v", entry)
	}

	if rec := do(t, h, http.MethodGet, "/api/v1/transfers/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/transfers/", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/transfers/a", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestChainsEndpointHidesRPCURLs(t *testing.T) {
	rec := do(t, newTestServer(t, &fakeService{}), http.MethodGet, "/api/v1/chains", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret") || strings.Contains(rec.Body.String(), "rpc.example") {
		t.Fatalf("rpc urls must not be exposed: %s", rec.Body.String())
	}
	var views []chainView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 2 || views[0].ID != "polygonAmoy" || views[1].ID != "sepolia" {
		t.Fatalf("chains must keep scan order: %+v", views)
	}
	if views[0].Selector != "16281711391670634445" || views[0].NativeSymbol != "POL" {
		t.Fatalf("unexpected view %+v", views[0])
	}
}

func TestHealthEndpoint(t *testing.T) {
	rec := do(t, newTestServer(t, &fakeService{}), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || decode(t, rec)["chains"] != float64(2) {
		t.Fatalf("unexpected health %d %s", rec.Code, rec.Body.String())
	}

	h := newTestServer(t, &fakeService{}, WithProber(fakeProber{failing: "sepolia"}))
	rec = do(t, h, http.MethodGet, "/healthz?deep=1", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != "degraded" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestAPITokenProtectsWrites(t *testing.T) {
	svc := &fakeService{receipt: transfer.Receipt{RequestID: "r", Outcome: transfer.Outcome{Method: transfer.MethodDirect}}}
	h := newTestServer(t, svc, WithAPITokens("s3cret", ""))

	if rec := do(t, h, http.MethodPost, "/api/v1/transfers", transferBody); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/transfers", transferBody, "Authorization", "Bearer wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/transfers", transferBody, "Authorization", "Bearer s3cret"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/transfers", ""); rec.Code != http.StatusOK {
		t.Fatalf("reads stay open, got %d", rec.Code)
	}
	if len(svc.requests) != 1 {
		t.Fatalf("only the authorized request may reach the service, got %d", len(svc.requests))
	}
}

func TestMetricsEndpointMounted(t *testing.T) {
	h := newTestServer(t, &fakeService{})
	do(t, h, http.MethodGet, "/healthz", "")
	rec := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "transferd_http_requests_total") {
		t.Fatalf("unexpected metrics output %s", rec.Body.String())
	}
}
