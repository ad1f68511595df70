package api

import (
	"net/http"

	"IntentChain/internal/chain"
	xerrors "IntentChain/internal/errors"
)

type healthResponse struct {
	Status  string           `json:"status"`
	Storage string           `json:"storage"`
	Chains  []chain.Snapshot `json:"chains,omitempty"`
}

// handleHealth 返回服务健康状态：存储探活结果与各链的可达性快照。
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "Only GET is supported"))
		return
	}

	resp := healthResponse{Status: "ok", Storage: "ok"}
	if s.intents != nil {
		if err := s.intents.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Storage = "unavailable"
		}
	}
	if s.chains != nil {
		resp.Chains = s.chains.Snapshots(r.Context())
	}
	writeJSON(w, http.StatusOK, resp)
}
