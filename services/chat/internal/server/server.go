package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"roomchat/internal/util"
	"roomchat/pkg/auth"
	"roomchat/pkg/domain"
	"roomchat/services/chat/internal/app"
)

const maxBodyBytes = 1 << 20

// Limiter admits or denies one request for a key.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// AuthLimiter throttles signup and signin per client IP. Nil disables it.
	AuthLimiter    Limiter
	TrustedProxies *util.TrustedProxies
	// Ready reports backend health for /healthz. Nil means always ready.
	Ready func(context.Context) error
}

// Server exposes HTTP and websocket endpoints for the chat room.
type Server struct {
	app         *app.App
	authLimiter Limiter
	proxies     *util.TrustedProxies
	ready       func(context.Context) error
	mux         *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:         cfg.App,
		authLimiter: cfg.AuthLimiter,
		proxies:     cfg.TrustedProxies,
		ready:       cfg.Ready,
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("chat", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/signin", s.handleSignin)
	s.mux.HandleFunc("/api/auth/signout", s.handleSignout)

	s.mux.Handle("/api/chat/joinRoom", s.withIdentity(s.handleJoinRoom))
	s.mux.Handle("/api/chat/send", s.withIdentity(s.handleSend))
	s.mux.Handle("/api/chat/receive", s.withIdentity(s.handleReceive))
	s.mux.Handle("/api/chat/deleteMsg", s.withIdentity(s.handleDelete))
	s.mux.Handle("/api/chat/ws", withQueryToken(s.withIdentity(s.handleWebSocket)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			util.LoggerFromContext(r.Context()).Warn("health check failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowAuth(w, r, "signup") {
		return
	}
	var req auth.SignupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	_, err := s.app.SignUp(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, messageResponse{Message: "User registered successfully!"})
	case errors.Is(err, app.ErrUsernameTaken):
		writeError(w, http.StatusBadRequest, "Error: Username is already taken!")
	case errors.Is(err, app.ErrEmailInUse):
		writeError(w, http.StatusBadRequest, "Error: Email is already in use!")
	case errors.Is(err, app.ErrRoleNotFound):
		writeError(w, http.StatusBadRequest, "Error: Role is not found.")
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("signup failed", "err", err)
		writeError(w, http.StatusInternalServerError, "signup failed")
	}
}

func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowAuth(w, r, "signin") {
		return
	}
	var req auth.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := s.app.SignIn(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sess)
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Bad credentials")
	default:
		util.LoggerFromContext(r.Context()).Error("signin failed", "err", err)
		writeError(w, http.StatusInternalServerError, "signin failed")
	}
}

func (s *Server) handleSignout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.app.SignOut(r.Context(), token); err != nil {
		if errors.Is(err, app.ErrUnauthenticated) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		util.LoggerFromContext(r.Context()).Error("signout failed", "err", err)
		writeError(w, http.StatusInternalServerError, "signout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type identityHandler func(http.ResponseWriter, *http.Request, domain.Identity)

func (s *Server) withIdentity(next identityHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		id, err := s.app.Identify(r.Context(), token)
		if err != nil {
			if errors.Is(err, app.ErrUnauthenticated) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			util.LoggerFromContext(r.Context()).Error("identify caller failed", "err", err)
			writeError(w, http.StatusInternalServerError, "authentication unavailable")
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user", id.Username))
		next(w, r.WithContext(ctx), id)
	})
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	writeResult(w, s.app.JoinRoom(r.Context(), id))
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	res := s.app.SendMessage(r.Context(), id, r.Form.Get("message"))
	if res.Outcome != app.OK {
		writeResult(w, res)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Message: res.Text, Data: res.Message})
}

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("timestamp")), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "timestamp must be epoch milliseconds")
		return
	}
	res := s.app.GetMessagesSince(r.Context(), id, ts)
	status := statusFor(res.Outcome)
	if res.Outcome == app.RateLimited {
		w.Header().Set("Retry-After", "60")
	}
	if res.Outcome == app.OK || res.Outcome == app.RateLimited {
		writeJSON(w, status, res.Messages)
		return
	}
	writeResult(w, res)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	msgID, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("messageId")), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "messageId must be an integer")
		return
	}
	writeResult(w, s.app.DeleteMessage(r.Context(), id, msgID))
}

func (s *Server) allowAuth(w http.ResponseWriter, r *http.Request, action string) bool {
	if s.authLimiter == nil {
		return true
	}
	if s.authLimiter.Allow(r.Context(), action+"|"+util.ClientIP(r, s.proxies)) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, "too many requests")
	return false
}

func statusFor(o app.Outcome) int {
	switch o {
	case app.OK:
		return http.StatusOK
	case app.RateLimited:
		return http.StatusTooManyRequests
	case app.NotFound:
		return http.StatusNotFound
	case app.Forbidden:
		return http.StatusForbidden
	case app.Invalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeResult(w http.ResponseWriter, res app.Result) {
	status := statusFor(res.Outcome)
	if res.Outcome == app.OK {
		writeJSON(w, status, messageResponse{Message: res.Text})
		return
	}
	if res.Outcome == app.RateLimited {
		w.Header().Set("Retry-After", "60")
	}
	writeError(w, status, res.Text)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type messageResponse struct {
	Message string `json:"message"`
}

type sendResponse struct {
	Message string          `json:"message"`
	Data    *domain.Message `json:"data,omitempty"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
