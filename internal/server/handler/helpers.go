package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// HeaderCaller names the account a request acts for. The API key in front
// of the server is what authorizes the claim.
const HeaderCaller = "X-Caller-Address"

// maxBody bounds request bodies.
const maxBody = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps err to a status by its domain class and writes it.
// Internal errors are logged and reported without detail.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", slog.String("error", err.Error()))
		writeJSON(w, status, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"class": domain.Classify(err).String(),
	})
}

func statusFor(err error) int {
	if errors.Is(err, domain.ErrRateLimited) {
		return http.StatusTooManyRequests
	}
	switch domain.Classify(err) {
	case domain.ClassValidation:
		return http.StatusBadRequest
	case domain.ClassNotFound:
		return http.StatusNotFound
	case domain.ClassAuthorization:
		return http.StatusForbidden
	case domain.ClassState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}

// decodeBody reads a JSON request body into v, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// callerAddress returns the account named by HeaderCaller.
func callerAddress(r *http.Request) (common.Address, error) {
	return parseAddress(HeaderCaller, r.Header.Get(HeaderCaller))
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

// parseTarget reads the caller header, the {id} segment and the JSON body.
// It writes the error response itself.
func parseTarget(w http.ResponseWriter, r *http.Request, body any) (common.Address, common.Hash, bool) {
	caller, err := callerAddress(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, common.Hash{}, false
	}
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, common.Hash{}, false
	}
	if body != nil {
		if err := decodeBody(r, body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return common.Address{}, common.Hash{}, false
		}
	}
	return caller, id, true
}

// marketIDParam parses the {id} path segment as a 32-byte hex id.
func marketIDParam(r *http.Request) (common.Hash, error) {
	return parseHash("id", pathParam(r, "id"))
}

func parseHash(field, s string) (common.Hash, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%s: invalid 32-byte hex %q", field, s)
	}
	return common.BytesToHash(b), nil
}

// parseAmount parses a base-unit decimal string. Empty means zero when
// optional is set.
func parseAmount(field, s string, optional bool) (*big.Int, error) {
	if s == "" && optional {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid amount %q", field, s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%s: %w", field, domain.ErrInvalidAmount)
	}
	return v, nil
}

// amountString renders nil as "0".
func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
