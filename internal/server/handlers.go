package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mkholodov/authgate/internal/service"
	"github.com/mkholodov/authgate/internal/token"
)

const refreshCookieName = "refresh_token"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenData struct {
	AccessToken      string `json:"access_token"`
	RefreshExpiresAt int64  `json:"refresh_expires_at"`
}

type identityData struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		encode(w, http.StatusBadRequest, response{Code: codeBadRequest, Message: "username and password are required"})
		return
	}

	pair, err := s.auth.Login(r.Context(), req.Username, req.Password, requestContext(r))
	if err != nil {
		encodeError(w, err)
		return
	}

	s.setRefreshCookie(w, pair)
	ok(w, tokenData{
		AccessToken:      pair.AccessToken,
		RefreshExpiresAt: pair.RefreshExpiresAt.Unix(),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	pair, err := s.auth.Refresh(r.Context(), refreshTokenFromCookie(r), requestContext(r))
	if err != nil {
		encodeError(w, err)
		return
	}

	s.setRefreshCookie(w, pair)
	ok(w, tokenData{
		AccessToken:      pair.AccessToken,
		RefreshExpiresAt: pair.RefreshExpiresAt.Unix(),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.Logout(r.Context(), refreshTokenFromCookie(r))
	clearRefreshCookie(w)
	ok(w, nil)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	bearer := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(bearer, "Bearer ") {
		encode(w, http.StatusUnauthorized, response{Code: codeTokenMissing, Message: "access token missing"})
		return
	}

	claims, err := s.tokens.Verify(strings.TrimPrefix(bearer, "Bearer "), token.KindAccess)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			encode(w, http.StatusUnauthorized, response{Code: codeTokenExpired, Message: "access token expired"})
			return
		}
		encode(w, http.StatusUnauthorized, response{Code: codeTokenInvalid, Message: "access token invalid"})
		return
	}

	ok(w, identityData{UserID: claims.Subject, Role: claims.Role})
}

// The refresh token travels only in an HttpOnly cookie; it is never part of a
// JSON body handed to untrusted contexts.
func (s *Server) setRefreshCookie(w http.ResponseWriter, pair *service.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.RefreshToken,
		Path:     "/",
		Expires:  pair.RefreshExpiresAt,
		MaxAge:   int(time.Until(pair.RefreshExpiresAt).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func refreshTokenFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func requestContext(r *http.Request) service.RequestContext {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return service.RequestContext{
		DeviceID:  r.Header.Get("X-Device-Id"),
		ClientIP:  host,
		UserAgent: r.UserAgent(),
	}
}
