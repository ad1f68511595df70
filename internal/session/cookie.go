package session

import (
	"net/http"
	"time"
)

// CookieName 是承载会话 ID 的 Cookie 名称。
const CookieName = "ic_session"

// WriteCookie 下发会话 Cookie。HttpOnly 阻断脚本读取，SameSite=Lax
// 抑制跨站携带，secure 由部署端按是否 HTTPS 决定。
func WriteCookie(w http.ResponseWriter, sess *Session, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  time.Unix(sess.ExpiresAt, 0),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie 使会话 Cookie 立即失效。
func ClearCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionIDFromRequest 从请求 Cookie 中提取会话 ID，没有则返回空串。
func SessionIDFromRequest(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
