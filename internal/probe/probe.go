package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html"
	"io"
	"log"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Status is the outcome tag of one website probe.
type Status string

const (
	StatusAccessible      Status = "accessible"
	StatusError           Status = "error"
	StatusTimeout         Status = "timeout"
	StatusConnectionError Status = "connection_error"
	StatusNoWebsite       Status = "no_website"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	defaultMaxBody   = 2 << 20
)

// WebsiteStatus is the result of probing one URL. Accessible implies StatusCode 200.
type WebsiteStatus struct {
	Status     Status  `json:"status"`
	Accessible bool    `json:"accessible"`
	StatusCode *int    `json:"status_code"`
	Title      *string `json:"title"`
	FinalURL   *string `json:"final_url"`
	Error      *string `json:"error"`
}

// Prober issues website probes over one reused HTTP client.
type Prober struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	maxBody   int64
}

// Option configures a Prober.
type Option func(*Prober)

func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(p *Prober) {
		if ua = strings.TrimSpace(ua); ua != "" {
			p.userAgent = ua
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(p *Prober) {
		if hc != nil {
			p.client = hc
		}
	}
}

// WithMaxBodyBytes bounds how much of a page is read for title and content extraction.
func WithMaxBodyBytes(n int64) Option {
	return func(p *Prober) {
		if n > 0 {
			p.maxBody = n
		}
	}
}

func New(opts ...Option) *Prober {
	p := &Prober{
		client:    &http.Client{},
		timeout:   defaultTimeout,
		userAgent: defaultUserAgent,
		maxBody:   defaultMaxBody,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NormalizeURL prefixes https:// when the input carries no http(s) scheme.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return raw
	}
	return "https://" + raw
}

// ProbeWebsite fetches rawURL once and classifies the outcome. It never panics
// and always returns a populated status.
func (p *Prober) ProbeWebsite(ctx context.Context, rawURL string) (status WebsiteStatus) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("probe panic url=%q err=%v", rawURL, r)
			status = failed(StatusError, nil, fmt.Sprintf("probe failed: %v", r))
		}
	}()
	if strings.TrimSpace(rawURL) == "" {
		return WebsiteStatus{Status: StatusNoWebsite}
	}
	target := NormalizeURL(rawURL)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return failed(StatusError, nil, err.Error())
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return failed(classify(err), nil, err.Error())
	}
	defer resp.Body.Close()

	code := resp.StatusCode
	final := resp.Request.URL.String()
	if code != http.StatusOK {
		st := failed(StatusError, &code, fmt.Sprintf("HTTP %d", code))
		st.FinalURL = &final
		return st
	}
	st := WebsiteStatus{Status: StatusAccessible, Accessible: true, StatusCode: &code, FinalURL: &final}
	if isHTML(resp.Header.Get("Content-Type")) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, p.maxBody))
		st.Title = ExtractTitle(body)
	}
	return st
}

var titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// ExtractTitle returns the trimmed text of the first <title> element, or nil.
func ExtractTitle(body []byte) *string {
	m := titlePattern.FindSubmatch(body)
	if m == nil {
		return nil
	}
	title := strings.TrimSpace(html.UnescapeString(string(m[1])))
	if title == "" {
		return nil
	}
	return &title
}

func isHTML(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/html")
}

func failed(tag Status, code *int, msg string) WebsiteStatus {
	return WebsiteStatus{Status: tag, StatusCode: code, Error: &msg}
}

// classify maps a transport error onto a status tag.
func classify(err error) Status {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return StatusTimeout
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	var certErr *tls.CertificateVerificationError
	var recordErr tls.RecordHeaderError
	switch {
	case errors.As(err, &dnsErr), errors.As(err, &opErr), errors.As(err, &certErr), errors.As(err, &recordErr):
		return StatusConnectionError
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return StatusConnectionError
	}
	return StatusError
}
