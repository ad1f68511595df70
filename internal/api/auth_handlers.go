package api

import (
	"encoding/json"
	"net/http"

	xerrors "IntentChain/internal/errors"
	"IntentChain/internal/session"
)

type challengeRequest struct {
	WalletAddress string `json:"walletAddress"`
	ChainID       int64  `json:"chainId"`
}

type challengeResponse struct {
	ChallengeID string `json:"challengeId"`
	Message     string `json:"message"`
	ExpiresAt   int64  `json:"expiresAt"`
}

// handleChallenge 为钱包签发一次性登录挑战。
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "Only POST is supported"))
		return
	}
	var req challengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "Invalid request body"))
		return
	}

	c, message, err := s.sessions.IssueChallenge(r.Context(), req.WalletAddress, req.ChainID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, challengeResponse{
		ChallengeID: c.ID,
		Message:     message,
		ExpiresAt:   c.ExpiresAt,
	})
}

type verifyRequest struct {
	ChallengeID string `json:"challengeId"`
	Signature   string `json:"signature"`
}

type verifyResponse struct {
	WalletAddress string `json:"walletAddress"`
	ExpiresAt     int64  `json:"expiresAt"`
}

// handleVerify 校验钱包签名并建立会话，会话 ID 通过 Cookie 下发。
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "Only POST is supported"))
		return
	}
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "Invalid request body"))
		return
	}

	sess, err := s.sessions.VerifyAndEstablishSession(r.Context(), req.ChallengeID, req.Signature)
	if err != nil {
		writeError(w, err)
		return
	}
	session.WriteCookie(w, sess, s.secureCookies)
	writeJSON(w, http.StatusOK, verifyResponse{
		WalletAddress: sess.WalletAddress,
		ExpiresAt:     sess.ExpiresAt,
	})
}

// handleLogout 撤销当前会话并清除 Cookie，幂等。
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "Only POST is supported"))
		return
	}
	if sessionID := session.SessionIDFromRequest(r); sessionID != "" {
		if err := s.sessions.RevokeSession(r.Context(), sessionID); err != nil {
			writeError(w, err)
			return
		}
	}
	session.ClearCookie(w, s.secureCookies)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// handleMe 返回当前会话对应的钱包地址。
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "Only GET is supported"))
		return
	}
	id, attempted, err := s.sessionFromRequest(r)
	if !attempted {
		writeError(w, xerrors.New(xerrors.CodeUnauthorized, "Authentication required"))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"walletAddress": id.WalletAddress})
}
