package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/TimurManjosov/flagship-go/internal/engine"
)

// handleFlags handles GET /v1/flags. The snapshot ETag supports conditional requests.
func (s *Server) handleFlags(w http.ResponseWriter, r *http.Request) {
	snap := s.client.Snapshot(r.Context())
	if inm := r.Header.Get("If-None-Match"); inm != "" && snap.ETag != "" && inm == snap.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	resp := FlagsResponse{Keys: s.client.GetAllKeys(r.Context()), ETag: snap.ETag}
	if resp.Keys == nil {
		resp.Keys = []string{}
	}
	if !snap.IsEmpty() {
		t := snap.FetchTime.UTC()
		resp.FetchTime = &t
	}
	if snap.ETag != "" {
		w.Header().Set("ETag", snap.ETag)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEvaluate handles POST /v1/evaluate
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Key) == "" {
		BadRequestError(w, r, ErrCodeMissingField, "key is required")
		return
	}

	defaultValue, err := parseDefault(req.DefaultValue)
	if err != nil {
		BadRequestError(w, r, ErrCodeInvalidJSON, "defaultValue must be a boolean, string or number")
		return
	}

	details := s.client.GetValueDetails(r.Context(), req.Key, defaultValue, req.User.toUser())
	writeJSON(w, http.StatusOK, details)
}

// handleEvaluateAll handles POST /v1/evaluate/all
func (s *Server) handleEvaluateAll(w http.ResponseWriter, r *http.Request) {
	var req EvaluateAllRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	flags := s.client.GetAllValueDetails(r.Context(), req.User.toUser())
	if flags == nil {
		flags = []engine.Details{}
	}
	writeJSON(w, http.StatusOK, EvaluateAllResponse{Flags: flags})
}

// handleRefresh handles POST /v1/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res := s.client.ForceRefresh(r.Context())
	if !res.Success {
		msg := "config refresh failed"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		RefreshFailedError(w, r, msg)
		return
	}
	writeJSON(w, http.StatusOK, RefreshResponse{Success: true})
}

// parseDefault decodes a default value keeping the number kind written by the
// caller: 10 becomes an int, 10.0 and 1e3 become float64.
func parseDefault(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	switch x := v.(type) {
	case nil, bool, string:
		return x, nil
	case json.Number:
		if !strings.ContainsAny(x.String(), ".eE") {
			if i, err := x.Int64(); err == nil {
				return int(i), nil
			}
		}
		return x.Float64()
	}
	return nil, errors.New("unsupported default value")
}

// ===== HTTP Helpers =====

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a size-limited JSON body into v, writing the error response on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RequestTooLargeError(w, r, "request body is too large")
			return false
		}
		BadRequestError(w, r, ErrCodeInvalidJSON, "invalid JSON")
		return false
	}
	return true
}
