package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// ErrNotHTML is returned by DeepDive when the page is not an HTML document.
var ErrNotHTML = errors.New("page is not html")

// Insight summarises the readable content of one page.
type Insight struct {
	URL            string        `json:"url"`
	FinalURL       string        `json:"final_url"`
	Status         WebsiteStatus `json:"website_status"`
	Title          string        `json:"title"`
	SiteName       string        `json:"site_name"`
	Excerpt        string        `json:"excerpt"`
	WordCount      int           `json:"word_count"`
	HasContactForm bool          `json:"has_contact_form"`
	HasEmail       bool          `json:"has_email"`
	SSLCertificate bool          `json:"ssl_certificate"`
	MobileFriendly bool          `json:"mobile_friendly"`
	LoadTimeMS     int64         `json:"load_time_ms"`
}

var (
	formPattern     = regexp.MustCompile(`(?is)<form\b.*?</form>`)
	contactPattern  = regexp.MustCompile(`(?i)contact|message|type=["']?email`)
	mailtoPattern   = regexp.MustCompile(`(?i)mailto:`)
	emailPattern    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	viewportPattern = regexp.MustCompile(`(?i)<meta[^>]+name=["']?viewport`)
	tagPattern      = regexp.MustCompile(`(?s)<script.*?</script>|<style.*?</style>|<[^>]+>`)
)

// DeepDive fetches rawURL and extracts readable metadata from it.
func (p *Prober) DeepDive(ctx context.Context, rawURL string) (Insight, error) {
	if strings.TrimSpace(rawURL) == "" {
		return Insight{}, errors.New("url is required")
	}
	target := NormalizeURL(rawURL)
	in := Insight{URL: target}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		in.Status = failed(StatusError, nil, err.Error())
		return in, err
	}
	req.Header.Set("User-Agent", p.userAgent)

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		in.Status = failed(classify(err), nil, err.Error())
		return in, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBody))
	in.LoadTimeMS = time.Since(start).Milliseconds()
	if err != nil {
		in.Status = failed(classify(err), nil, err.Error())
		return in, fmt.Errorf("read %s: %w", target, err)
	}

	code := resp.StatusCode
	finalURL := resp.Request.URL
	in.FinalURL = finalURL.String()
	in.SSLCertificate = finalURL.Scheme == "https"
	if code != http.StatusOK {
		in.Status = failed(StatusError, &code, fmt.Sprintf("HTTP %d", code))
		return in, fmt.Errorf("fetch %s: unexpected status %d", target, code)
	}
	in.Status = WebsiteStatus{Status: StatusAccessible, Accessible: true, StatusCode: &code, FinalURL: &in.FinalURL}
	if !isHTML(resp.Header.Get("Content-Type")) {
		return in, ErrNotHTML
	}
	in.Status.Title = ExtractTitle(body)

	for _, form := range formPattern.FindAll(body, -1) {
		if contactPattern.Match(form) {
			in.HasContactForm = true
			break
		}
	}
	in.MobileFriendly = viewportPattern.Match(body)
	in.HasEmail = mailtoPattern.Match(body)

	text := ""
	article, err := readability.FromReader(bytes.NewReader(body), finalURL)
	if err != nil {
		log.Printf("deep dive readability url=%s err=%v", target, err)
	} else {
		in.Title = strings.TrimSpace(article.Title)
		in.SiteName = strings.TrimSpace(article.SiteName)
		in.Excerpt = strings.TrimSpace(article.Excerpt)
		text = article.TextContent
	}
	if strings.TrimSpace(text) == "" {
		text = tagPattern.ReplaceAllString(string(body), " ")
	}
	if in.Title == "" && in.Status.Title != nil {
		in.Title = *in.Status.Title
	}
	in.WordCount = len(strings.Fields(text))
	if !in.HasEmail {
		in.HasEmail = emailPattern.MatchString(text)
	}
	return in, nil
}
