// Package api exposes the REST surface: account auth, user administration,
// message history management, bot generation, and bot tuning.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"verseroom/internal/auth"
	"verseroom/internal/bot"
	"verseroom/internal/document"
	"verseroom/internal/ledger"
	"verseroom/internal/limit"
	"verseroom/internal/protocol"
	"verseroom/internal/roster"
	"verseroom/internal/store"
)

// Broadcaster pushes an event to every live realtime connection.
type Broadcaster interface {
	BroadcastJSON(v any) error
}

type Server struct {
	roster   *roster.Roster
	messages *ledger.Ledger
	tokens   *auth.Tokens
	gateway  *bot.Gateway
	store    *store.Store
	rate     *limit.RateLimiter
	inflight *limit.InflightGuard
	hub      Broadcaster
	logger   zerolog.Logger
}

type Config struct {
	Roster   *roster.Roster
	Messages *ledger.Ledger
	Tokens   *auth.Tokens
	Gateway  *bot.Gateway
	Store    *store.Store
	Rate     *limit.RateLimiter
	Inflight *limit.InflightGuard
	Hub      Broadcaster
	Logger   zerolog.Logger
}

func NewServer(cfg Config) *Server {
	return &Server{
		roster:   cfg.Roster,
		messages: cfg.Messages,
		tokens:   cfg.Tokens,
		gateway:  cfg.Gateway,
		store:    cfg.Store,
		rate:     cfg.Rate,
		inflight: cfg.Inflight,
		hub:      cfg.Hub,
		logger:   cfg.Logger,
	}
}

// Register mounts all routes under /api on the given router.
func (s *Server) Register(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(s.tokens.Middleware)

	authed.HandleFunc("/auth/me", s.handleMe).Methods(http.MethodGet)

	authed.HandleFunc("/users", s.handleListUsers).Methods(http.MethodGet)
	authed.HandleFunc("/users", s.handleCreateUser).Methods(http.MethodPost)
	authed.HandleFunc("/users/{id}", s.handleUpdateUser).Methods(http.MethodPut)
	authed.HandleFunc("/users/{id}", s.handleDeleteUser).Methods(http.MethodDelete)

	authed.HandleFunc("/messages", s.handleListMessages).Methods(http.MethodGet)
	// The clear-all route must precede the parameterized delete.
	authed.HandleFunc("/messages/all/clear", s.handleClearMessages).Methods(http.MethodDelete)
	authed.HandleFunc("/messages/{id}", s.handleDeleteMessage).Methods(http.MethodDelete)

	authed.HandleFunc("/bot", s.handleBot).Methods(http.MethodPost)
	authed.HandleFunc("/poemBot", s.handlePoemBot).Methods(http.MethodPost)

	authed.HandleFunc("/botConfig", s.handleGetBotConfig).Methods(http.MethodGet)
	authed.HandleFunc("/botConfig", s.handleSetBotConfig).Methods(http.MethodPost)
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string        `json:"token"`
	User  document.User `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !s.decode(w, r, &req) {
		return
	}

	user, err := s.roster.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, roster.ErrUsernameTaken) {
			s.writeError(w, http.StatusConflict, "用户名已被占用")
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.issueToken(w, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !s.decode(w, r, &req) {
		return
	}

	user, err := s.roster.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, roster.ErrInvalidCredentials) {
			s.writeError(w, http.StatusUnauthorized, "用户名或密码错误")
			return
		}
		s.serverError(w, r, err)
		return
	}

	s.issueToken(w, user)
}

func (s *Server) issueToken(w http.ResponseWriter, user document.User) {
	token, err := s.tokens.Issue(document.Identity{ID: user.ID, Username: user.Username, Role: user.Role}, time.Now())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "服务器内部错误")
		return
	}
	s.writeJSON(w, http.StatusOK, authResponse{Token: token, User: roster.Sanitize(user)})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	user, err := s.roster.Get(r.Context(), identity.ID)
	if err != nil {
		if errors.Is(err, roster.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "用户不存在")
			return
		}
		s.serverError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]document.User{"user": roster.Sanitize(user)})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	users, err := s.roster.List(r.Context())
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, roster.SanitizeAll(users))
}

type createUserRequest struct {
	Username string        `json:"username"`
	Password string        `json:"password"`
	Role     document.Role `json:"role"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "认证令牌无效或已过期")
		return
	}
	var req createUserRequest
	if !s.decode(w, r, &req) {
		return
	}

	user, err := s.roster.Create(r.Context(), identity, req.Username, req.Password, req.Role)
	if err != nil {
		switch {
		case errors.Is(err, roster.ErrForbidden):
			s.writeError(w, http.StatusForbidden, "没有权限执行此操作")
		case errors.Is(err, roster.ErrUsernameTaken):
			s.writeError(w, http.StatusConflict, "用户名已被占用")
		default:
			s.writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusCreated, roster.Sanitize(user))
}

type updateUserRequest struct {
	Username *string        `json:"username"`
	Password *string        `json:"password"`
	Role     *document.Role `json:"role"`
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	var req updateUserRequest
	if !s.decode(w, r, &req) {
		return
	}

	user, err := s.roster.Update(r.Context(), identity, mux.Vars(r)["id"], roster.UpdateRequest{
		Username: req.Username,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		switch {
		case errors.Is(err, roster.ErrForbidden), errors.Is(err, roster.ErrImmutableAccount):
			s.writeError(w, http.StatusForbidden, "没有权限执行此操作")
		case errors.Is(err, roster.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "用户不存在")
		case errors.Is(err, roster.ErrUsernameTaken):
			s.writeError(w, http.StatusConflict, "用户名已被占用")
		default:
			s.serverError(w, r, err)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, roster.Sanitize(user))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	err := s.roster.Delete(r.Context(), identity, mux.Vars(r)["id"])
	if err != nil {
		switch {
		case errors.Is(err, roster.ErrForbidden), errors.Is(err, roster.ErrImmutableAccount):
			s.writeError(w, http.StatusForbidden, "没有权限执行此操作")
		case errors.Is(err, roster.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "用户不存在")
		default:
			s.serverError(w, r, err)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.messages.History(r.Context(), ledger.Filter{
		Content:  r.URL.Query().Get("content"),
		Username: r.URL.Query().Get("username"),
	})
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	err := s.messages.Delete(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "消息不存在")
			return
		}
		s.serverError(w, r, err)
		return
	}
	s.pushHistory(r)
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	count, err := s.messages.ClearAll(r.Context(), identity)
	if err != nil {
		if errors.Is(err, ledger.ErrForbidden) {
			s.writeError(w, http.StatusForbidden, "只有超级管理员可以清空消息")
			return
		}
		s.serverError(w, r, err)
		return
	}
	s.pushHistory(r)
	s.writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// pushHistory re-broadcasts the full message list so connected clients drop
// anything removed through the REST surface.
func (s *Server) pushHistory(r *http.Request) {
	if s.hub == nil {
		return
	}
	msgs, err := s.messages.History(r.Context(), ledger.Filter{})
	if err != nil {
		s.logger.Warn().Err(err).Msg("history reload for broadcast failed")
		return
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		return
	}
	if err := s.hub.BroadcastJSON(protocol.Envelope{
		Event:   protocol.EventHistory,
		Ts:      time.Now().UnixMilli(),
		Payload: raw,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("history broadcast failed")
	}
}

type botRequest struct {
	Message string `json:"message"`
}

type botResponse struct {
	Message string               `json:"message"`
	Tokens  *document.TokenUsage `json:"tokens,omitempty"`
}

func (s *Server) handleBot(w http.ResponseWriter, r *http.Request) {
	s.handleGenerate(w, r, s.gateway.Ask)
}

func (s *Server) handlePoemBot(w http.ResponseWriter, r *http.Request) {
	s.handleGenerate(w, r, s.gateway.AskPoem)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, ask func(ctx context.Context, message string) (bot.Reply, error)) {
	identity, _ := auth.IdentityFromContext(r.Context())

	var req botRequest
	if !s.decode(w, r, &req) {
		return
	}

	ok, err := s.inflight.Acquire(r.Context(), identity.ID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if !ok {
		s.writeError(w, http.StatusTooManyRequests, "上一条请求仍在处理中，请稍候")
		return
	}
	defer func() {
		if err := s.inflight.Release(r.Context(), identity.ID); err != nil {
			s.logger.Warn().Err(err).Str("user_id", identity.ID).Msg("inflight release failed")
		}
	}()

	allowed, used, resetAt, err := s.rate.Allow(r.Context(), identity.ID, time.Now())
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if !allowed {
		s.logger.Info().Str("user_id", identity.ID).Int64("used", used).Time("reset_at", resetAt).Msg("bot rate limit hit")
		s.writeError(w, http.StatusTooManyRequests, "请求过于频繁，请稍后再试")
		return
	}

	reply, err := ask(r.Context(), req.Message)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", identity.ID).Msg("bot generation failed")
		s.writeError(w, http.StatusBadGateway, "AI服务暂时不可用，请稍后再试")
		return
	}
	s.writeJSON(w, http.StatusOK, botResponse{Message: reply.Content, Tokens: reply.Tokens})
}

func (s *Server) handleGetBotConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	cfg, err := s.store.ReadBotConfig(r.Context())
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSetBotConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	// Decode on top of the stored config so omitted fields keep their values.
	cfg, err := s.store.ReadBotConfig(r.Context())
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if !s.decode(w, r, &cfg) {
		return
	}
	if msg, ok := validateBotConfig(cfg); !ok {
		s.writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := s.store.WriteBotConfig(r.Context(), cfg); err != nil {
		s.serverError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func validateBotConfig(cfg document.BotConfig) (string, bool) {
	switch {
	case cfg.Temperature < 0 || cfg.Temperature > 2:
		return "temperature 必须在 0 到 2 之间", false
	case cfg.MaxTokens < 100 || cfg.MaxTokens > 4000:
		return "maxTokens 必须在 100 到 4000 之间", false
	case cfg.TopP < 0 || cfg.TopP > 1:
		return "topP 必须在 0 到 1 之间", false
	case cfg.FrequencyPenalty < -2 || cfg.FrequencyPenalty > 2:
		return "frequencyPenalty 必须在 -2 到 2 之间", false
	case cfg.PresencePenalty < -2 || cfg.PresencePenalty > 2:
		return "presencePenalty 必须在 -2 到 2 之间", false
	case strings.TrimSpace(cfg.SystemPrompt) == "":
		return "systemPrompt 不能为空", false
	}
	return "", true
}

func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "认证令牌无效或已过期")
		return false
	}
	if identity.Role != document.RoleAdmin && identity.Role != document.RoleSuperAdmin {
		s.writeError(w, http.StatusForbidden, "没有权限执行此操作")
		return false
	}
	return true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "请求格式错误")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"message": message})
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	s.writeError(w, http.StatusInternalServerError, "服务器内部错误")
}
