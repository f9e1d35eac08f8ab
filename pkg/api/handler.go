package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/flattrace/pkg/calltrace"
	pcommon "github.com/ethpandaops/flattrace/pkg/common"
	"github.com/ethpandaops/flattrace/pkg/ethereum"
	"github.com/ethpandaops/flattrace/pkg/ethereum/execution"
)

const (
	maxBodyBytes = 64 << 20

	endpointFlatten    = "flatten"
	endpointTraceTx    = "trace_tx"
	endpointTraceBlock = "trace_block"
)

// TraceSource fetches call trees from execution nodes.
type TraceSource interface {
	TraceBlockCalls(ctx context.Context, number uint64) ([]calltrace.TxCall, error)
	TraceTransactionCalls(ctx context.Context, hash string) (*calltrace.Call, error)
}

var _ TraceSource = (*ethereum.Pool)(nil)

type Handler struct {
	log    logrus.FieldLogger
	source TraceSource
}

func NewHandler(log logrus.FieldLogger, source TraceSource) *Handler {
	return &Handler{
		log:    log.WithField("component", "api"),
		source: source,
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/flatten", h.instrument(endpointFlatten, h.flatten))
	mux.HandleFunc("GET /api/v1/trace/tx/{hash}", h.instrument(endpointTraceTx, h.traceTransaction))
	mux.HandleFunc("GET /api/v1/trace/block/{block_number}", h.instrument(endpointTraceBlock, h.traceBlock))
}

type ErrorResponse struct {
	Error           string `json:"error"`
	BlockNumber     any    `json:"block_number,omitempty"`
	TransactionHash string `json:"transaction_hash,omitempty"`
}

func (h *Handler) flatten(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large", ErrorResponse{})

			return
		}

		h.writeError(w, http.StatusBadRequest, "failed to read request body", ErrorResponse{})

		return
	}

	flat, err := calltrace.FlattenJSON(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), ErrorResponse{})

		return
	}

	h.writeJSON(w, http.StatusOK, flat)
}

func (h *Handler) traceTransaction(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")

	if !isHexHash(hash) {
		h.writeError(w, http.StatusBadRequest, "invalid transaction hash format", ErrorResponse{TransactionHash: hash})

		return
	}

	call, err := h.source.TraceTransactionCalls(r.Context(), hash)
	if err != nil {
		h.writeSourceError(w, err, ErrorResponse{TransactionHash: hash})

		return
	}

	h.writeJSON(w, http.StatusOK, calltrace.FlattenCall(call, 0))
}

func (h *Handler) traceBlock(w http.ResponseWriter, r *http.Request) {
	blockNumberStr := r.PathValue("block_number")

	blockNumber, err := parseBlockNumber(blockNumberStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid block number format", ErrorResponse{BlockNumber: blockNumberStr})

		return
	}

	txs, err := h.source.TraceBlockCalls(r.Context(), blockNumber)
	if err != nil {
		h.writeSourceError(w, err, ErrorResponse{BlockNumber: blockNumber})

		return
	}

	h.writeJSON(w, http.StatusOK, calltrace.FlattenTxCalls(txs))
}

// parseBlockNumber accepts decimal or 0x-prefixed hex.
func parseBlockNumber(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") {
		return hexutil.DecodeUint64(s)
	}

	return strconv.ParseUint(s, 10, 64)
}

func isHexHash(s string) bool {
	if len(s) != 2+2*common.HashLength || !strings.HasPrefix(s, "0x") {
		return false
	}

	_, err := hexutil.Decode(s)

	return err == nil
}

func (h *Handler) writeSourceError(w http.ResponseWriter, err error, resp ErrorResponse) {
	switch {
	case errors.Is(err, ethereum.ErrNoHealthyNode):
		h.writeError(w, http.StatusServiceUnavailable, "no healthy execution node available", resp)
	case errors.Is(err, execution.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, "transaction not found", resp)
	default:
		h.log.WithError(err).Warn("Trace request failed")
		h.writeError(w, http.StatusBadGateway, "failed to trace on execution node", resp)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.WithError(err).Error("failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string, resp ErrorResponse) {
	resp.Error = message

	h.writeJSON(w, status, resp)
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *Handler) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r)

		pcommon.APIRequests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
		pcommon.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}
