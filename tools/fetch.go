package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/richinex/skein/model"
)

// Page content beyond this is truncated before it reaches the model.
const maxFetchBytes = 64 * 1024

// FetchURLTool retrieves the content of a web page.
type FetchURLTool struct {
	BaseTool
	client         *http.Client
	allowedDomains []string
}

// NewFetchURLTool creates a fetch tool with the given timeout.
func NewFetchURLTool(timeoutSecs uint64) *FetchURLTool {
	return &FetchURLTool{
		client: &http.Client{
			Timeout: time.Duration(timeoutSecs) * time.Second,
		},
	}
}

// WithAllowedDomains restricts fetches to the given domains and their
// subdomains. Empty means unrestricted.
func (t *FetchURLTool) WithAllowedDomains(domains []string) *FetchURLTool {
	t.allowedDomains = domains
	return t
}

// Metadata returns the tool metadata.
func (t *FetchURLTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "fetch_url",
		Description: "Fetch the content of a web page by URL",
		Parameters: []ToolParameter{
			{Name: "url", ParamType: "string", Description: "The URL to fetch", Required: true},
		},
	}
}

type fetchArgs struct {
	URL string `json:"url"`
}

// Validate validates the arguments.
func (t *FetchURLTool) Validate(args json.RawMessage) error {
	var a fetchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if a.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}
	u, err := url.Parse(a.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("only http and https urls are supported")
	}
	return nil
}

// Execute fetches the page.
func (t *FetchURLTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a fetchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}
	if a.URL == "" {
		return FailureResultf("url cannot be empty"), nil
	}
	if !t.isDomainAllowed(a.URL) {
		return FailureResultf("access to domain in '%s' is not allowed", a.URL), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return FailureResult(fmt.Errorf("build request: %w", err)), nil
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return FailureResultf("request timed out"), nil
		}
		return FailureResult(fmt.Errorf("request failed: %w", err)), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return FailureResult(fmt.Errorf("read response body: %w", err)), nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return FailureResultf("HTTP error: %s", resp.Status), nil
	}

	content := string(body)
	excerpt := content
	if len(excerpt) > 200 {
		excerpt = excerpt[:200]
	}
	citation := model.Citation{
		Title:   pageTitle(content, a.URL),
		URL:     a.URL,
		Excerpt: strings.TrimSpace(excerpt),
	}
	return CitedResult(content, []model.Citation{citation}), nil
}

// isDomainAllowed checks if the URL's domain is in the allowlist.
func (t *FetchURLTool) isDomainAllowed(urlStr string) bool {
	if len(t.allowedDomains) == 0 {
		return true
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	host := u.Hostname()
	for _, domain := range t.allowedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// pageTitle pulls the <title> element out of an HTML page, falling
// back to the URL for non-HTML content.
func pageTitle(content, fallback string) string {
	lower := strings.ToLower(content)
	start := strings.Index(lower, "<title")
	if start < 0 {
		return fallback
	}
	open := strings.Index(lower[start:], ">")
	if open < 0 {
		return fallback
	}
	rest := content[start+open+1:]
	end := strings.Index(strings.ToLower(rest), "</title>")
	if end < 0 {
		return fallback
	}
	title := strings.TrimSpace(rest[:end])
	if title == "" {
		return fallback
	}
	return title
}
