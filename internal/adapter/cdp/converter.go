package cdp

import (
	"encoding/base64"
	"encoding/json"
	"sort"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"

	"netforge/pkg/traffic"
)

// ToCapturedRequest 将 CDP 拦截事件转换为捕获请求
func ToCapturedRequest(ev *fetch.RequestPausedReply) traffic.Request {
	req := traffic.NewRequest(ev.Request.Method, ev.Request.URL)
	req.Headers = headersFromNetwork(ev.Request.Headers)
	if ev.Request.PostData != nil {
		req.Body = []byte(*ev.Request.PostData)
	}
	return req
}

// headersFromNetwork CDP 请求头为 JSON 对象，按名称排序以保证顺序稳定
func headersFromNetwork(raw network.Headers) traffic.Headers {
	out := traffic.Headers{}
	if len(raw) == 0 {
		return out
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return out
	}
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		out.Add(k, m[k])
	}
	return out
}

// ToCapturedResponse 将 CDP 响应阶段事件转换为捕获响应，保留原始头部顺序与重复项
func ToCapturedResponse(ev *fetch.RequestPausedReply, body []byte) traffic.Response {
	res := traffic.NewResponse()
	if ev.ResponseStatusCode != nil {
		res.StatusCode = *ev.ResponseStatusCode
	}
	for _, h := range ev.ResponseHeaders {
		res.Headers.Add(h.Name, h.Value)
	}
	res.Body = body
	return res
}

// ToHeaderEntries 将有序头部转换为 CDP Header 条目
func ToHeaderEntries(h traffic.Headers) []fetch.HeaderEntry {
	entries := make([]fetch.HeaderEntry, 0, len(h))
	for _, f := range h {
		entries = append(entries, fetch.HeaderEntry{Name: f.Name, Value: f.Value})
	}
	return entries
}

// DecodeBody 解码 Fetch.getResponseBody 返回的响应体
func DecodeBody(body string, base64Encoded bool) ([]byte, error) {
	if !base64Encoded {
		return []byte(body), nil
	}
	return base64.StdEncoding.DecodeString(body)
}
