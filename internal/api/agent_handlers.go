package api

import (
	"encoding/json"
	"net/http"
	"strings"

	xerrors "IntentChain/internal/errors"
	"IntentChain/internal/member"
)

// handleAgentRegister 注册一个新的代理签名身份。注册是开放接口，
// 由限流与公钥唯一性约束兜底。
func (s *Server) handleAgentRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "Only POST is supported"))
		return
	}
	var req member.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "Invalid request body"))
		return
	}

	m, err := s.members.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type revokeRequest struct {
	AgentID string `json:"agentId"`
}

// handleAgentRevoke 撤销代理，只有成员所属钱包的会话可以操作。
func (s *Server) handleAgentRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "Only POST is supported"))
		return
	}
	caller, attempted, err := s.sessionFromRequest(r)
	if !attempted {
		writeError(w, xerrors.New(xerrors.CodeUnauthorized, "Authentication required"))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "Invalid request body"))
		return
	}
	if strings.TrimSpace(req.AgentID) == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "agentId is required"))
		return
	}

	m, err := s.members.Revoke(r.Context(), req.AgentID, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleAgentList 列出调用方钱包名下的全部代理。
func (s *Server) handleAgentList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "Only GET is supported"))
		return
	}
	caller, attempted, err := s.sessionFromRequest(r)
	if !attempted {
		writeError(w, xerrors.New(xerrors.CodeUnauthorized, "Authentication required"))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	members, err := s.members.ListByTrustchain(r.Context(), caller.WalletAddress, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// handleAgentGet 返回单个代理，仅所属钱包可见。
func (s *Server) handleAgentGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "Only GET is supported"))
		return
	}
	agentID := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	if agentID == "" || strings.Contains(agentID, "/") {
		writeError(w, xerrors.New(xerrors.CodeNotFound, "resource not found"))
		return
	}

	caller, attempted, err := s.sessionFromRequest(r)
	if !attempted {
		writeError(w, xerrors.New(xerrors.CodeUnauthorized, "Authentication required"))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	m, err := s.members.Get(r.Context(), agentID, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
