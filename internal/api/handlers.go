package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	xerrors "crosschain-transfer/internal/errors"
	"crosschain-transfer/internal/intent"
	"crosschain-transfer/internal/journal"
	"crosschain-transfer/internal/transfer"
	"crosschain-transfer/internal/web3"
)

const maxBodyBytes = 1 << 20

// successResponse 是转账成功时的响应体。
type successResponse struct {
	Success   bool   `json:"success"`
	Method    string `json:"method"`
	From      string `json:"from"`
	TxHash    string `json:"txhash"`
	MessageID string `json:"messageId,omitempty"`
	Fee       string `json:"fee,omitempty"`
	RequestID string `json:"request_id"`
}

// failureResponse 是所有失败请求的响应体。
type failureResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

type intentRequest struct {
	Text string `json:"text"`
}

type chainView struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	EVMChainID    uint64 `json:"evm_chain_id,omitempty"`
	NativeSymbol  string `json:"native_symbol"`
	TokenSymbol   string `json:"token_symbol"`
	TokenDecimals int32  `json:"token_decimals"`
	TokenAddress  string `json:"token_address"`
	RouterAddress string `json:"router_address"`
	Selector      string `json:"chain_selector"`
}

type healthResponse struct {
	Status string               `json:"status"`
	Chains int                  `json:"chains"`
	Heads  []web3.ChainSnapshot `json:"heads,omitempty"`
	Errors map[string]string    `json:"errors,omitempty"`
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTransfer(w, r)
	case http.MethodGet:
		s.handleListTransfers(w, r)
	default:
		methodNotAllowed(w, "仅支持 GET/POST")
	}
}

func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req transfer.Request
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, "", xerrors.Wrap(transfer.CodeValidationFailed, err, "请求体解析失败"))
		return
	}
	s.submit(w, r, req)
}

func (s *Server) handleIntents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "仅支持 POST")
		return
	}
	var body intentRequest
	if err := decodeStrict(r, &body); err != nil {
		writeError(w, "", xerrors.Wrap(transfer.CodeValidationFailed, err, "请求体解析失败"))
		return
	}
	req, err := intent.Parse(body.Text)
	if err != nil {
		writeError(w, "", err)
		return
	}
	s.submit(w, r, req)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, req transfer.Request) {
	if s.service == nil {
		writeError(w, "", xerrors.New(xerrors.CodeInitializationFailure, "转账服务未初始化"))
		return
	}
	receipt, err := s.service.Submit(r.Context(), req)
	if aw, ok := w.(*auditWriter); ok {
		aw.requestID = receipt.RequestID
	}
	if err != nil {
		s.logger.Warn("转账请求失败",
			slog.String("request_id", receipt.RequestID),
			slog.String("code", string(xerrors.CodeOf(err))),
		)
		writeError(w, receipt.RequestID, err)
		return
	}
	outcome := receipt.Outcome
	resp := successResponse{
		Success:   true,
		Method:    string(outcome.Method),
		From:      outcome.SourceChain,
		TxHash:    outcome.TxHash,
		MessageID: outcome.MessageID,
		RequestID: receipt.RequestID,
	}
	if outcome.Fee != nil {
		resp.Fee = outcome.Fee.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		writeError(w, "", xerrors.New(xerrors.CodeInitializationFailure, "转账服务未初始化"))
		return
	}
	query := r.URL.Query()
	opts := []journal.ListOption{}
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, journal.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, journal.WithOffset(parsed))
		}
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []journal.Status
		for _, part := range strings.Split(raw, ",") {
			statuses = append(statuses, journal.Status(strings.TrimSpace(part)))
		}
		opts = append(opts, journal.WithStatuses(statuses...))
	}
	if query.Get("order") == "asc" {
		opts = append(opts, journal.WithSortOrder(journal.SortByCreatedAsc))
	}

	entries, err := s.service.List(r.Context(), opts...)
	if err != nil {
		writeError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleTransferDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "仅支持 GET")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/transfers/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, "", xerrors.New(xerrors.CodeInvalidArgument, "缺少请求 ID"))
		return
	}
	if s.service == nil {
		writeError(w, "", xerrors.New(xerrors.CodeInitializationFailure, "转账服务未初始化"))
		return
	}
	entry, err := s.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "仅支持 GET")
		return
	}
	views := []chainView{}
	if s.chains != nil {
		for _, entry := range s.chains.All() {
			views = append(views, chainView{
				ID:            entry.ID,
				Name:          entry.DisplayName,
				EVMChainID:    entry.EVMChainID,
				NativeSymbol:  entry.NativeSymbol,
				TokenSymbol:   entry.TokenSymbol,
				TokenDecimals: entry.TokenDecimals,
				TokenAddress:  entry.TokenAddress.Hex(),
				RouterAddress: entry.RouterAddress.Hex(),
				Selector:      strconv.FormatUint(entry.Selector, 10),
			})
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "仅支持 GET")
		return
	}
	resp := healthResponse{Status: "ok"}
	if s.chains != nil {
		resp.Chains = s.chains.Len()
	}
	if r.URL.Query().Get("deep") == "1" && s.prober != nil && s.chains != nil {
		for _, id := range s.chains.IDs() {
			snapshot, err := s.prober.Snapshot(r.Context(), id)
			if err != nil {
				if resp.Errors == nil {
					resp.Errors = make(map[string]string)
				}
				resp.Errors[id] = err.Error()
				continue
			}
			resp.Heads = append(resp.Heads, snapshot)
		}
		if len(resp.Errors) > 0 {
			resp.Status = "degraded"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeStrict(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("请求体包含多余内容")
	}
	return nil
}

func writeError(w http.ResponseWriter, requestID string, err error) {
	status := xerrors.HTTPStatusOf(err)
	writeJSON(w, status, failureResponse{
		Success:   false,
		Error:     transfer.ErrorDetail(err),
		Code:      string(xerrors.CodeOf(err)),
		RequestID: requestID,
	})
}

func methodNotAllowed(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusMethodNotAllowed, failureResponse{Success: false, Error: message, Code: "METHOD_NOT_ALLOWED"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
