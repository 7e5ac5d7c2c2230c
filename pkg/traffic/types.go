package traffic

import (
	"net/http"
	"sort"
	"strings"
	"time"
)

// HeaderField 单个头部字段
type HeaderField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers 有序头部列表，保留重复字段与原始顺序
type Headers []HeaderField

// Get 获取第一个同名 Header 的值（名称大小写不敏感）
func (h Headers) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Values 获取所有同名 Header 的值
func (h Headers) Values(name string) []string {
	var out []string
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

// Has 判断是否存在指定 Header
func (h Headers) Has(name string) bool {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Set 设置 Header：替换第一个同名字段并移除其余重复项，不存在时追加
func (h *Headers) Set(name, value string) {
	out := (*h)[:0]
	replaced := false
	for _, f := range *h {
		if strings.EqualFold(f.Name, name) {
			if replaced {
				continue
			}
			f.Value = value
			replaced = true
		}
		out = append(out, f)
	}
	if !replaced {
		out = append(out, HeaderField{Name: name, Value: value})
	}
	*h = out
}

// Add 追加 Header，不影响已有同名字段
func (h *Headers) Add(name, value string) {
	*h = append(*h, HeaderField{Name: name, Value: value})
}

// Del 删除所有同名 Header
func (h *Headers) Del(name string) {
	out := (*h)[:0]
	for _, f := range *h {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
		}
	}
	*h = out
}

// Clone 深拷贝
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	copy(out, h)
	return out
}

// ToHTTP 转换为 net/http 头部
func (h Headers) ToHTTP() http.Header {
	out := make(http.Header, len(h))
	for _, f := range h {
		out.Add(f.Name, f.Value)
	}
	return out
}

// FromHTTP 从 net/http 头部构造有序列表，按名称排序以保证结果稳定
func FromHTTP(src http.Header) Headers {
	names := make([]string, 0, len(src))
	for k := range src {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make(Headers, 0, len(src))
	for _, k := range names {
		for _, v := range src[k] {
			out = append(out, HeaderField{Name: k, Value: v})
		}
	}
	return out
}

// Request 捕获的请求，创建后不再修改
type Request struct {
	ID        uint64    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method"`
	URL       string    `json:"url"`
	Headers   Headers   `json:"headers"`
	Body      []byte    `json:"body"`
	TLS       bool      `json:"tls"`
}

// Clone 深拷贝请求
func (r Request) Clone() Request {
	r.Headers = r.Headers.Clone()
	if r.Body != nil {
		r.Body = append([]byte(nil), r.Body...)
	}
	return r
}

// Response 捕获的响应
type Response struct {
	RequestID  uint64        `json:"request_id"`
	StatusCode int           `json:"status_code"`
	Headers    Headers       `json:"headers"`
	Body       []byte        `json:"body"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
}

// Clone 深拷贝响应
func (r Response) Clone() Response {
	r.Headers = r.Headers.Clone()
	if r.Body != nil {
		r.Body = append([]byte(nil), r.Body...)
	}
	return r
}

// Entry 一条请求与其可能缺失的响应
type Entry struct {
	Request  Request   `json:"request"`
	Response *Response `json:"response,omitempty"`
}

// Clone 深拷贝条目
func (e Entry) Clone() Entry {
	out := Entry{Request: e.Request.Clone()}
	if e.Response != nil {
		resp := e.Response.Clone()
		out.Response = &resp
	}
	return out
}

// NewRequest 创建初始化请求对象
func NewRequest(method, url string) Request {
	return Request{
		Method:    method,
		URL:       url,
		Timestamp: time.Now(),
		Headers:   Headers{},
		TLS:       strings.HasPrefix(strings.ToLower(url), "https://"),
	}
}

// NewResponse 创建初始化响应对象
func NewResponse() Response {
	return Response{
		StatusCode: http.StatusOK,
		Headers:    Headers{},
	}
}
