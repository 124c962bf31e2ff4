package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/richinex/skein/model"
)

// WebSearchTool queries the Brave Search API and returns titled,
// cited snippets.
type WebSearchTool struct {
	BaseTool
	apiKey     string
	httpClient *http.Client
	maxResults int
}

// NewWebSearchTool creates a web search tool backed by Brave.
func NewWebSearchTool(apiKey string) *WebSearchTool {
	return &WebSearchTool{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		maxResults: 5,
	}
}

// Metadata returns the tool metadata.
func (t *WebSearchTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "web_search",
		Description: "Search the web for current information. Returns titles, URLs and snippets.",
		Parameters: []ToolParameter{
			{Name: "query", ParamType: "string", Description: "The search query", Required: true},
			{Name: "count", ParamType: "integer", Description: "Number of results, 1 to 10", Required: false},
		},
	}
}

type webSearchArgs struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// Validate validates the arguments.
func (t *WebSearchTool) Validate(args json.RawMessage) error {
	var a webSearchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(a.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	return nil
}

type braveResponse struct {
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Execute performs the search.
func (t *WebSearchTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a webSearchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}
	if strings.TrimSpace(a.Query) == "" {
		return FailureResultf("query cannot be empty"), nil
	}
	if t.apiKey == "" {
		return FailureResultf("web search is not configured"), nil
	}

	count := a.Count
	if count <= 0 || count > t.maxResults {
		count = t.maxResults
	}

	params := url.Values{
		"q":     {a.Query},
		"count": {strconv.Itoa(count)},
	}
	reqURL := "https://api.search.brave.com/res/v1/web/search?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return FailureResult(fmt.Errorf("build request: %w", err)), nil
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return FailureResult(fmt.Errorf("search request failed: %w", err)), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return FailureResultf("search returned HTTP %d: %s", resp.StatusCode, string(body)), nil
	}

	var br braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return FailureResult(fmt.Errorf("decode search response: %w", err)), nil
	}

	if len(br.Web.Results) == 0 {
		return SuccessResult("No results found."), nil
	}

	var sb strings.Builder
	citations := make([]model.Citation, 0, len(br.Web.Results))
	for i, r := range br.Web.Results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Description)
		citations = append(citations, model.Citation{
			Title:   r.Title,
			URL:     r.URL,
			Excerpt: r.Description,
		})
	}
	return CitedResult(sb.String(), citations), nil
}
