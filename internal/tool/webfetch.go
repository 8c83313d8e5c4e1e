package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/opencode-ai/codeagent/internal/permission"
)

const webfetchDescription = `Fetches a URL and returns the body as markdown, plain text or raw HTML.

Usage notes:
  - Only http:// and https:// URLs are accepted
  - HTML pages are converted for "markdown" (the default) and "text"; other content types are returned as-is
  - Redirects to a different host are checked against the web permission
  - Bodies larger than 5MB are rejected
  - The tool never modifies files`

const (
	maxFetchBytes  = 5 << 20
	fetchTimeout   = 30 * time.Second
	maxFetchWait   = 120 * time.Second
	maxRedirects   = 10
	fetchUserAgent = "Mozilla/5.0 (compatible; codeagent/1.0)"
)

var errTooLarge = errors.New("response too large (exceeds 5MB limit)")

// fetchFormat is one output format: what to ask the server for, and how to
// turn an HTML body into it.
type fetchFormat struct {
	accept   string
	fromHTML func(string) (string, error)
}

var fetchFormats = map[string]fetchFormat{
	"markdown": {
		accept:   "text/markdown;q=1.0, text/x-markdown;q=0.9, text/plain;q=0.8, text/html;q=0.7, */*;q=0.1",
		fromHTML: htmlToMarkdown,
	},
	"text": {
		accept:   "text/plain;q=1.0, text/markdown;q=0.9, text/html;q=0.8, */*;q=0.1",
		fromHTML: extractTextFromHTML,
	},
	"html": {
		accept: "text/html;q=1.0, application/xhtml+xml;q=0.9, text/plain;q=0.8, */*;q=0.1",
	},
}

// WebFetchTool retrieves web pages.
type WebFetchTool struct {
	workDir string
	client  *http.Client
}

// WebFetchInput is the input of the webfetch tool. Timeout is in seconds.
type WebFetchInput struct {
	URL     string `json:"url"`
	Format  string `json:"format"`
	Timeout int    `json:"timeout,omitempty"`
}

func NewWebFetchTool(workDir string) *WebFetchTool {
	return &WebFetchTool{workDir: workDir, client: &http.Client{}}
}

func (t *WebFetchTool) ID() string                  { return "webfetch" }
func (t *WebFetchTool) Description() string         { return webfetchDescription }
func (t *WebFetchTool) Permission() permission.Kind { return permission.KindWeb }

func (t *WebFetchTool) Target(input json.RawMessage, _ string) string {
	return pathField(input, "url")
}

// Timeout covers the longest fetch a call may request.
func (t *WebFetchTool) Timeout() time.Duration {
	return maxFetchWait + 5*time.Second
}

func (t *WebFetchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {
				"type": "string",
				"description": "The http or https URL to fetch"
			},
			"format": {
				"type": "string",
				"enum": ["markdown", "text", "html"],
				"description": "Output format, markdown when omitted"
			},
			"timeout": {
				"type": "integer",
				"description": "Timeout in seconds, at most 120"
			}
		},
		"required": ["url"]
	}`)
}

func (t *WebFetchTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params WebFetchInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	u, err := url.Parse(params.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("URL must start with http:// or https://")
	}
	if params.Format == "" {
		params.Format = "markdown"
	}
	format, ok := fetchFormats[params.Format]
	if !ok {
		return nil, fmt.Errorf("format must be 'markdown', 'text' or 'html'")
	}

	wait := fetchTimeout
	if params.Timeout > 0 {
		wait = min(time.Duration(params.Timeout)*time.Second, maxFetchWait)
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", format.accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	client := *t.client
	client.CheckRedirect = func(next *http.Request, via []*http.Request) error {
		return checkRedirect(next, via, toolCtx)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("request failed with status code: %d", resp.StatusCode)
	}
	body, err := readLimited(resp)
	if err != nil {
		return nil, err
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)
	output := string(body)
	title := params.URL
	if mediaType == "text/html" {
		if page := pageTitle(output); page != "" {
			title = page
		}
		if format.fromHTML != nil {
			if output, err = format.fromHTML(output); err != nil {
				return nil, fmt.Errorf("failed to convert HTML to %s: %w", params.Format, err)
			}
		}
	}

	return &Result{
		Title:  title,
		Output: output,
		Metadata: map[string]any{
			"url":         resp.Request.URL.String(),
			"status":      resp.StatusCode,
			"contentType": contentType,
			"bytes":       len(body),
		},
	}, nil
}

func readLimited(resp *http.Response) ([]byte, error) {
	if resp.ContentLength > maxFetchBytes {
		return nil, errTooLarge
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > maxFetchBytes {
		return nil, errTooLarge
	}
	return body, nil
}

// checkRedirect follows same-host redirects and asks before leaving the
// original host.
func checkRedirect(next *http.Request, via []*http.Request, toolCtx *Context) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	from := via[0].URL
	if strings.EqualFold(next.URL.Hostname(), from.Hostname()) {
		return nil
	}
	target := next.URL.String()
	ok, reason, err := toolCtx.Confirm(next.Context(), permission.KindWeb, target,
		fmt.Sprintf("Follow redirect from %s to %s?", from.Host, next.URL.Host))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("redirect to %s not allowed: %s", target, reason)
	}
	return nil
}

func pageTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// extractTextFromHTML returns the visible text of a page.
func extractTextFromHTML(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("head, script, style, noscript, iframe, object, embed").Remove()
	return strings.TrimSpace(doc.Text()), nil
}

func htmlToMarkdown(html string) (string, error) {
	conv := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		HorizontalRule:   "---",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
		EmDelimiter:      "*",
	})
	conv.Remove("head", "script", "style", "meta", "link")
	return conv.ConvertString(html)
}
