// Package httputil writes the JSON response envelope used by the API:
// {success, data} on success and {success:false, error, raw?} on failure.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/testforge/trackingtester/internal/domain"
)

// Response represents a standard API response
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Raw     string `json:"raw,omitempty"`
	Meta    *Meta  `json:"meta,omitempty"`
}

// Meta contains pagination metadata
type Meta struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

func write(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// JSON writes a success envelope around data.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Response{Success: true, Data: data})
}

// JSONWithMeta writes a success envelope with pagination metadata
func JSONWithMeta(w http.ResponseWriter, status int, data any, meta *Meta) {
	write(w, status, Response{Success: true, Data: data, Meta: meta})
}

// Raw writes v as JSON without the envelope.
func Raw(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONError writes a failure envelope.
func JSONError(w http.ResponseWriter, status int, code, message string) {
	write(w, status, Response{Success: false, Error: message, Code: code})
}

// SessionError writes the outcome of a failed session. Timeouts, session
// failures and unparsable runner output are reported with 200; invalid input
// with 400; anything else with 500.
func SessionError(w http.ResponseWriter, err error) {
	var raw *domain.RawOutputError
	if errors.As(err, &raw) {
		write(w, http.StatusOK, Response{Success: false, Error: domain.MsgCannotParse, Raw: raw.Raw})
		return
	}

	switch domain.GetErrorCode(err) {
	case domain.ErrCodeSessionTimeout:
		write(w, http.StatusOK, Response{Success: false, Error: domain.MsgTestTimeout})
		return
	case domain.ErrCodeSessionFailed:
		appErr, _ := domain.AsAppError(err)
		write(w, http.StatusOK, Response{Success: false, Error: appErr.Message})
		return
	case domain.ErrCodeConfiguration, domain.ErrCodeValidation:
		appErr, _ := domain.AsAppError(err)
		write(w, http.StatusBadRequest, Response{Success: false, Error: appErr.Message})
		return
	}

	var se *domain.SessionError
	if errors.As(err, &se) {
		write(w, http.StatusOK, Response{Success: false, Error: domain.ErrSessionFailed(se).Message})
		return
	}

	write(w, http.StatusInternalServerError, Response{Success: false, Error: err.Error()})
}

// ErrorFromDomain writes err as a coded JSON error. Errors without a code
// become a generic 500.
func ErrorFromDomain(w http.ResponseWriter, err error) {
	if appErr, ok := domain.AsAppError(err); ok && appErr.HTTPStatus != 0 {
		JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message)
		return
	}
	JSONError(w, http.StatusInternalServerError, domain.ErrCodeInternal, "Internal server error")
}

// DecodeJSON decodes JSON from request body. The returned error text is
// safe to show to the caller.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errors.New("request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return nil
}

// Pagination holds limit/offset query parameters.
type Pagination struct {
	Limit  int
	Offset int
}

// GetPagination reads limit and offset, clamping limit to maxLimit.
func GetPagination(r *http.Request, defaultLimit, maxLimit int) Pagination {
	p := Pagination{Limit: defaultLimit}

	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		p.Limit = l
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o > 0 {
		p.Offset = o
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}

	return p
}
