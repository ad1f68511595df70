package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	xerrors "IntentChain/internal/errors"
	"IntentChain/internal/intent"
	"IntentChain/internal/observability/metrics"
)

// handleIntentCreate 创建意图。代理认证路径下归属来自身份；完全
// 无认证的请求走遗留演示路径。携带了 AgentAuth 头但校验失败的请求
// 一律拒绝，不会降级到演示路径。
func (s *Server) handleIntentCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "Only POST is supported"))
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	caller, attempted, err := s.agentFromRequest(r, body)
	if attempted && err != nil {
		writeError(w, err)
		return
	}
	if !attempted {
		if id, hasSession, sessErr := s.sessionFromRequest(r); hasSession {
			if sessErr != nil {
				writeError(w, sessErr)
				return
			}
			caller = id
		}
	}

	var req intent.CreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "Invalid request body"))
		return
	}

	i, err := s.intents.Create(r.Context(), caller, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, i)
}

// handleIntentItem 分发 /api/intents/{id} 与 /api/intents/{id}/status。
func (s *Server) handleIntentItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/intents/")
	switch {
	case rest == "":
		writeError(w, xerrors.New(xerrors.CodeNotFound, "resource not found"))
	case strings.HasSuffix(rest, "/status"):
		s.handleIntentStatus(w, r, strings.TrimSuffix(rest, "/status"))
	case !strings.Contains(rest, "/"):
		s.handleIntentGet(w, r, rest)
	default:
		writeError(w, xerrors.New(xerrors.CodeNotFound, "resource not found"))
	}
}

func (s *Server) handleIntentGet(w http.ResponseWriter, r *http.Request, intentID string) {
	if r.Method != http.MethodGet {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "Only GET is supported"))
		return
	}
	caller, err := s.authenticate(r, nil)
	if err != nil {
		writeError(w, err)
		return
	}

	i, err := s.intents.Get(r.Context(), caller, intentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, i)
}

func (s *Server) handleIntentStatus(w http.ResponseWriter, r *http.Request, intentID string) {
	if r.Method != http.MethodPatch {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "Only PATCH is supported"))
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := s.authenticate(r, body)
	if err != nil {
		writeError(w, err)
		return
	}

	var req intent.UpdateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "Invalid request body"))
		return
	}

	i, err := s.intents.UpdateStatus(r.Context(), caller, intentID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.ObserveIntentTransition(string(i.StatusHistory[len(i.StatusHistory)-2].Status), string(i.Status))
	writeJSON(w, http.StatusOK, intent.Sanitize(i, caller))
}

// handleUserIntents 处理 /api/users/{userId}/intents。
func (s *Server) handleUserIntents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "Only GET is supported"))
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/users/")
	userID, tail, found := strings.Cut(rest, "/")
	if !found || tail != "intents" || userID == "" {
		writeError(w, xerrors.New(xerrors.CodeNotFound, "resource not found"))
		return
	}

	caller, err := s.authenticate(r, nil)
	if err != nil {
		writeError(w, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	status := intent.Status(r.URL.Query().Get("status"))

	items, err := s.intents.ListByUser(r.Context(), caller, userID, status, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}
