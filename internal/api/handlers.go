package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/oktetlabs/test-environment-sub007/internal/epc"
	"github.com/oktetlabs/test-environment-sub007/internal/eventloop"
	"github.com/oktetlabs/test-environment-sub007/internal/models"
	"github.com/oktetlabs/test-environment-sub007/internal/storage"
)

// ========== Auth handlers ==========

// HandleLogin checks the admin credentials from the configuration.
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validator.Validate(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := s.config.API
	if req.Username != cfg.AdminUser || cfg.AdminPasswordHash == "" ||
		!s.auth.VerifyPassword(req.Password, cfg.AdminPasswordHash) {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	accessToken, refreshToken, err := s.auth.GenerateTokenPair(req.Username, true)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}
	s.respondTokens(w, accessToken, refreshToken)
}

// HandleRefresh handles token refresh
func (s *RESTServer) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accessToken, refreshToken, err := s.auth.RefreshToken(req.RefreshToken)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	s.respondTokens(w, accessToken, refreshToken)
}

func (s *RESTServer) respondTokens(w http.ResponseWriter, access, refresh string) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  access,
		"refresh_token": refresh,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// HandleGetCurrentUser returns the token subject.
func (s *RESTServer) HandleGetCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if claims == nil {
		s.respondError(w, http.StatusUnauthorized, "no claims")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"username": claims.Username,
		"is_admin": claims.Admin,
	})
}

// ========== EPC handlers ==========

// epcStatusCodes maps EPC statuses onto HTTP. The EPC status is always in
// the body as well.
var epcStatusCodes = map[epc.Status]int{
	epc.StatusOK:             http.StatusOK,
	epc.StatusNotReady:       http.StatusAccepted,
	epc.StatusNoSuchAcs:      http.StatusNotFound,
	epc.StatusNoSuchCpe:      http.StatusNotFound,
	epc.StatusNoSuchRpc:      http.StatusNotFound,
	epc.StatusFault:          http.StatusOK,
	epc.StatusBadMessage:     http.StatusBadRequest,
	epc.StatusInvalid:        http.StatusBadRequest,
	epc.StatusConfigConflict: http.StatusConflict,
	epc.StatusReadOnly:       http.StatusForbidden,
	epc.StatusOutOfMemory:    http.StatusInsufficientStorage,
	epc.StatusError:          http.StatusInternalServerError,
}

// HandleEPC runs one EPC request on the event loop.
func (s *RESTServer) HandleEPC(w http.ResponseWriter, r *http.Request) {
	var req epc.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, &epc.Response{Status: epc.StatusBadMessage, Error: err.Error()})
		return
	}
	s.respondEPC(w, r, &req)
}

// HandleListAcs lists ACS names.
func (s *RESTServer) HandleListAcs(w http.ResponseWriter, r *http.Request) {
	s.respondEPC(w, r, &epc.Request{Kind: epc.KindConfigList})
}

// HandleListCpes lists the CPE names of one ACS.
func (s *RESTServer) HandleListCpes(w http.ResponseWriter, r *http.Request) {
	s.respondEPC(w, r, &epc.Request{Kind: epc.KindConfigList, Acs: chi.URLParam(r, "acs")})
}

func (s *RESTServer) respondEPC(w http.ResponseWriter, r *http.Request, req *epc.Request) {
	var resp *epc.Response
	err := s.backend.Loop.Exec(r.Context(), func() {
		resp = s.backend.Dispatcher.Handle(req)
	})
	if err != nil {
		code := http.StatusServiceUnavailable
		if !errors.Is(err, eventloop.ErrLoopClosed) {
			code = http.StatusGatewayTimeout
		}
		s.respondJSON(w, code, &epc.Response{Status: epc.StatusError, Error: err.Error()})
		return
	}

	code, ok := epcStatusCodes[resp.Status]
	if !ok {
		code = http.StatusInternalServerError
	}
	s.respondJSON(w, code, resp)
}

// ========== Event handlers ==========

// HandleListEvents queries the event journal.
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.backend.Store == nil {
		s.respondError(w, http.StatusServiceUnavailable, "event journal disabled")
		return
	}
	q := r.URL.Query()

	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	var filters storage.EventLogFilters
	if v := q.Get("acs"); v != "" {
		filters.Acs = &v
	}
	if v := q.Get("cpe"); v != "" {
		filters.Cpe = &v
	}
	if v := q.Get("type"); v != "" {
		t := models.EventType(v)
		filters.Type = &t
	}
	if v := q.Get("level"); v != "" {
		l := models.EventLevel(v)
		filters.Level = &l
	}
	for name, dst := range map[string]**time.Time{"since": &filters.StartTime, "until": &filters.EndTime} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid "+name)
			return
		}
		*dst = &t
	}

	events, total, err := s.backend.Store.ListEventLogs(r.Context(), filters, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []*models.EventLog{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
	})
}

// HandleHealth health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if s.backend.Loop.Stopped() {
		status, code = "stopped", http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, map[string]interface{}{
		"status": status,
		"time":   time.Now(),
	})
}

// HandleRoot root handler
func (s *RESTServer) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": "ACS emulator",
		"version": s.config.Server.Version,
		"health":  "/api/v1/health",
		"epc":     "/api/v1/epc",
	})
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
