package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"IntentChain/internal/agentauth"
	"IntentChain/internal/chain"
	xerrors "IntentChain/internal/errors"
	"IntentChain/internal/identity"
	"IntentChain/internal/intent"
	"IntentChain/internal/member"
	"IntentChain/internal/observability/metrics"
	"IntentChain/internal/session"
	"IntentChain/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Server 暴露意图系统的 REST 接口：钱包登录、代理注册与撤销、
// 意图的创建与状态转移。
type Server struct {
	addr          string
	secureCookies bool

	members  *member.Service
	sessions *session.Manager
	verifier *agentauth.Verifier
	intents  *intent.Service
	chains   *chain.Registry

	log *slog.Logger
}

// Deps 聚合 Server 依赖的各个服务。
type Deps struct {
	Members  *member.Service
	Sessions *session.Manager
	Verifier *agentauth.Verifier
	Intents  *intent.Service
	Chains   *chain.Registry
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, secureCookies bool, deps Deps) *Server {
	return &Server{
		addr:          addr,
		secureCookies: secureCookies,
		members:       deps.Members,
		sessions:      deps.Sessions,
		verifier:      deps.Verifier,
		intents:       deps.Intents,
		chains:        deps.Chains,
		log:           logger.Component("api"),
	}
}

// Handler 组装完整的路由表。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/auth/challenge", s.instrument("auth_challenge", s.handleChallenge))
	mux.HandleFunc("/api/auth/verify", s.instrument("auth_verify", s.handleVerify))
	mux.HandleFunc("/api/auth/logout", s.instrument("auth_logout", s.handleLogout))
	mux.HandleFunc("/api/me", s.instrument("me", s.handleMe))

	mux.HandleFunc("/api/agents/register", s.instrument("agent_register", s.handleAgentRegister))
	mux.HandleFunc("/api/agents/revoke", s.instrument("agent_revoke", s.handleAgentRevoke))
	mux.HandleFunc("/api/agents", s.instrument("agent_list", s.handleAgentList))
	mux.HandleFunc("/api/agents/", s.instrument("agent_get", s.handleAgentGet))

	mux.HandleFunc("/api/intents", s.instrument("intent_create", s.handleIntentCreate))
	mux.HandleFunc("/api/intents/", s.instrument("intent_item", s.handleIntentItem))
	mux.HandleFunc("/api/users/", s.instrument("user_intents", s.handleUserIntents))

	mux.HandleFunc("/api/health", s.instrument("health", s.handleHealth))
	mux.Handle("/metrics", metrics.Handler())

	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// readBody 读取原始请求体。AgentAuth 的 bodyHash 绑定的是这些原始
// 字节，所以必须先读取再反序列化。
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "Failed to read request body")
	}
	return body, nil
}

// agentFromRequest 在 Authorization 头声明 AgentAuth 方案时执行代理
// 认证。返回的 bool 表示该请求是否声明了 AgentAuth。
func (s *Server) agentFromRequest(r *http.Request, body []byte) (identity.Identity, bool, error) {
	authorization := r.Header.Get("Authorization")
	if !agentauth.HasScheme(authorization) {
		return identity.Identity{}, false, nil
	}
	id, err := s.verifier.Verify(r.Context(), r.Method, body, authorization)
	if err != nil {
		metrics.ObserveAuthFailure("agentauth")
		return identity.Identity{}, true, err
	}
	return id, true, nil
}

// sessionFromRequest 在请求携带会话 Cookie 时还原用户身份。返回的
// bool 表示该请求是否携带了 Cookie。
func (s *Server) sessionFromRequest(r *http.Request) (identity.Identity, bool, error) {
	sessionID := session.SessionIDFromRequest(r)
	if sessionID == "" {
		return identity.Identity{}, false, nil
	}
	id, err := s.sessions.RequireSession(r.Context(), sessionID)
	if err != nil {
		metrics.ObserveAuthFailure("session")
		return identity.Identity{}, true, err
	}
	return id, true, nil
}

// authenticate 依次尝试 AgentAuth 与会话 Cookie，两者都缺失时返回
// Unauthorized。
func (s *Server) authenticate(r *http.Request, body []byte) (identity.Identity, error) {
	if id, attempted, err := s.agentFromRequest(r, body); attempted {
		return id, err
	}
	if id, attempted, err := s.sessionFromRequest(r); attempted {
		return id, err
	}
	return identity.Identity{}, xerrors.New(xerrors.CodeUnauthorized, "Authentication required")
}
