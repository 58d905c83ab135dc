package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mkholodov/authgate/internal/service"
)

// Wire codes observed by callers. 0 is success; each failure kind has its own
// non-zero code so clients can branch without parsing messages.
const (
	codeOK                 = 0
	codeBadRequest         = 40001
	codeInvalidCredentials = 40101
	codeTokenMissing       = 40110
	codeTokenExpired       = 40111
	codeReuseDetected      = 40112
	codeTokenInvalid       = 40113
	codeTokenRevoked       = 40114
	codeAccountLocked      = 40301
	codeAccountDisabled    = 40302
	codeInternal           = 50010
)

type response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func encode(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func ok(w http.ResponseWriter, data interface{}) {
	encode(w, http.StatusOK, response{Code: codeOK, Message: "ok", Data: data})
}

// encodeError maps service sentinel errors onto the wire contract. Unknown
// errors collapse into a generic internal failure with no detail leaked.
func encodeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		encode(w, http.StatusUnauthorized, response{Code: codeInvalidCredentials, Message: "invalid username or password"})
	case errors.Is(err, service.ErrAccountLocked):
		encode(w, http.StatusForbidden, response{Code: codeAccountLocked, Message: "account locked, try again later"})
	case errors.Is(err, service.ErrAccountDisabled):
		encode(w, http.StatusForbidden, response{Code: codeAccountDisabled, Message: "account disabled"})
	case errors.Is(err, service.ErrTokenMissing):
		encode(w, http.StatusUnauthorized, response{Code: codeTokenMissing, Message: "refresh token missing"})
	case errors.Is(err, service.ErrTokenExpired):
		encode(w, http.StatusUnauthorized, response{Code: codeTokenExpired, Message: "refresh token expired"})
	case errors.Is(err, service.ErrReuseDetected):
		encode(w, http.StatusUnauthorized, response{Code: codeReuseDetected, Message: "refresh token reuse detected"})
	case errors.Is(err, service.ErrTokenRevoked):
		encode(w, http.StatusUnauthorized, response{Code: codeTokenRevoked, Message: "refresh token revoked"})
	case errors.Is(err, service.ErrTokenInvalid):
		encode(w, http.StatusUnauthorized, response{Code: codeTokenInvalid, Message: "refresh token invalid"})
	default:
		encode(w, http.StatusInternalServerError, response{Code: codeInternal, Message: "internal error"})
	}
}
