package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	xerrors "IntentChain/internal/errors"
	"IntentChain/internal/member"
	"IntentChain/pkg/logger"
)

// response 是所有接口共用的响应外壳。
type response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response{Success: true, Data: data})
}

// writeError 把统一错误映射为 HTTP 响应。真实原因（含 cause）只进
// 日志，响应体里只有对外安全的 code 与 message。
func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	logger.Component("api").Warn("请求失败",
		slog.String("code", string(code)),
		slog.String("cause", err.Error()))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(code))
	_ = json.NewEncoder(w).Encode(response{
		Success: false,
		Error:   &errorBody{Code: string(code), Message: xerrors.MessageOf(err)},
	})
}

func httpStatus(code xerrors.Code) int {
	switch code {
	case xerrors.CodeAuthenticationFailed, xerrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case xerrors.CodeForbidden:
		return http.StatusForbidden
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeStatusConflict, member.CodeMemberConflict:
		return http.StatusConflict
	case xerrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case xerrors.CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
