package server

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"netforge/internal/logger"
)

// sameOrigin 没有 Origin 的非浏览器请求放行，否则要求与 Host 一致
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// hasBody 是否需要校验 Content-Type
func hasBody(r *http.Request) bool {
	return r.ContentLength != 0
}

// guard 拒绝跨源请求，并要求写入类请求携带 JSON 请求体
func guard(next http.Handler, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sameOrigin(r) {
			l.Warn("拒绝跨源请求", "origin", r.Header.Get("Origin"), "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, errorBody{Error: "cross-origin request rejected"})
			return
		}
		if (r.Method == http.MethodPost || r.Method == http.MethodPut) && hasBody(r) {
			mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mt != "application/json" {
				writeJSON(w, http.StatusUnsupportedMediaType,
					errorBody{Error: fmt.Sprintf("content type %q is not application/json", r.Header.Get("Content-Type"))})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
