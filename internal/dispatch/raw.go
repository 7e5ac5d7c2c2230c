package dispatch

import (
	"fmt"
	"net/url"
	"strings"

	"netforge/pkg/traffic"
)

// ParseRaw 解析原始 HTTP/1.x 请求文本，相对路径基于 base（scheme+host）补全，
// base 为空时使用 Host 头。Content-Length 由客户端重新计算，不保留
func ParseRaw(raw, base string) (traffic.Request, error) {
	head, body := splitHead(raw)
	lines := strings.Split(strings.ReplaceAll(head, "\r\n", "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return traffic.Request{}, invalid(fmt.Errorf("empty request line"))
	}

	parts := strings.Fields(lines[0])
	if len(parts) < 2 || len(parts) > 3 {
		return traffic.Request{}, invalid(fmt.Errorf("malformed request line %q", lines[0]))
	}
	if len(parts) == 3 && !strings.HasPrefix(parts[2], "HTTP/") {
		return traffic.Request{}, invalid(fmt.Errorf("malformed protocol %q", parts[2]))
	}
	method, target := parts[0], parts[1]

	headers := traffic.Headers{}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return traffic.Request{}, invalid(fmt.Errorf("malformed header line %q", line))
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		headers.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	full, err := resolveTarget(target, base, headers.Get("Host"))
	if err != nil {
		return traffic.Request{}, err
	}

	req := traffic.NewRequest(method, full)
	req.Headers = headers
	if body != "" {
		req.Body = []byte(body)
	}
	return req, nil
}

func splitHead(raw string) (string, string) {
	if i := strings.Index(raw, "\r\n\r\n"); i >= 0 {
		return raw[:i], raw[i+4:]
	}
	if i := strings.Index(raw, "\n\n"); i >= 0 {
		return raw[:i], raw[i+2:]
	}
	return strings.TrimRight(raw, "\r\n"), ""
}

func resolveTarget(target, base, host string) (string, error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		if _, err := url.Parse(target); err != nil {
			return "", invalid(err)
		}
		return target, nil
	}
	if !strings.HasPrefix(target, "/") {
		return "", invalid(fmt.Errorf("request target %q must be absolute or start with /", target))
	}
	if base == "" {
		if host == "" {
			return "", invalid(fmt.Errorf("no target base url and no Host header"))
		}
		base = "http://" + host
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", invalid(err)
	}
	if b.Scheme == "" || b.Host == "" {
		return "", invalid(fmt.Errorf("target %q must include scheme and host", base))
	}
	return b.Scheme + "://" + b.Host + target, nil
}
