package dispatch

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"netforge/pkg/traffic"
)

// Options 出站客户端参数
type Options struct {
	Timeout      time.Duration
	Insecure     bool
	Proxy        string
	MaxBodyBytes int64
}

// Result 一次出站请求的结果，Body 受 MaxBodyBytes 限制，Size 为完整长度
type Result struct {
	Response  traffic.Response
	Size      int64
	Truncated bool
}

// Sender 发送单个请求的能力，Intruder 与 Replay 共用
type Sender interface {
	Send(ctx context.Context, req traffic.Request) (*Result, error)
}

// Client 基于 net/http 的出站客户端，不自动跟随重定向
type Client struct {
	http *http.Client
	opts Options
}

const defaultMaxBody = 1 << 20

// New 创建出站客户端
func New(opts Options) (*Client, error) {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: opts.Insecure},
		ForceAttemptHTTP2: true,
		MaxIdleConns:      100,
		IdleConnTimeout:   90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	if opts.Proxy != "" {
		u, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", opts.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &Client{
		opts: opts,
		http: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// Send 发送请求，每个请求拥有独立超时
func (c *Client) Send(ctx context.Context, req traffic.Request) (*Result, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	hreq, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(hreq)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer resp.Body.Close()

	body, size, truncated, err := readBodyLimited(resp.Body, c.opts.MaxBodyBytes)
	if err != nil {
		return nil, classify(ctx, err)
	}
	elapsed := time.Since(start)

	out := traffic.Response{
		StatusCode: resp.StatusCode,
		Headers:    traffic.FromHTTP(resp.Header),
		Body:       body,
		Duration:   elapsed,
		DurationMS: elapsed.Milliseconds(),
	}
	return &Result{Response: out, Size: size, Truncated: truncated}, nil
}

func (c *Client) build(ctx context.Context, req traffic.Request) (*http.Request, error) {
	method := strings.TrimSpace(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	if strings.TrimSpace(req.URL) == "" {
		return nil, invalid(errors.New("url is required"))
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, invalid(err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, invalid(fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return nil, invalid(fmt.Errorf("url %q has no host", req.URL))
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, invalid(err)
	}
	hreq.Header = req.Headers.ToHTTP()
	hreq.Header.Del("Content-Length")
	if host := req.Headers.Get("Host"); host != "" {
		hreq.Host = host
		hreq.Header.Del("Host")
	}
	return hreq, nil
}

// readBodyLimited 最多保留 max 字节，同时统计完整长度
func readBodyLimited(r io.Reader, max int64) ([]byte, int64, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, max))
	if err != nil {
		return nil, 0, false, err
	}
	rest, err := io.Copy(io.Discard, r)
	if err != nil {
		return nil, 0, false, err
	}
	return data, int64(len(data)) + rest, rest > 0, nil
}
