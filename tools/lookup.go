package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/richinex/skein/model"
	"github.com/richinex/skein/retrieval"
)

// LookupPartTool resolves structured identifiers (part numbers, SKUs,
// error codes) against the local reference corpus.
type LookupPartTool struct {
	BaseTool
	retriever retrieval.Retriever
	topK      int
}

// NewLookupPartTool creates a lookup tool over the given retriever.
func NewLookupPartTool(retriever retrieval.Retriever) *LookupPartTool {
	return &LookupPartTool{retriever: retriever, topK: 3}
}

// Metadata returns the tool metadata.
func (t *LookupPartTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "lookup_part",
		Description: "Look up a part number, SKU or error code in the reference catalog",
		Parameters: []ToolParameter{
			{Name: "identifier", ParamType: "string", Description: "The part number or code to look up", Required: true},
		},
	}
}

type lookupArgs struct {
	Identifier string `json:"identifier"`
}

// Validate validates the arguments.
func (t *LookupPartTool) Validate(args json.RawMessage) error {
	var a lookupArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(a.Identifier) == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	return nil
}

// Execute performs the lookup.
func (t *LookupPartTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a lookupArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}
	if strings.TrimSpace(a.Identifier) == "" {
		return FailureResultf("identifier cannot be empty"), nil
	}

	docs, err := t.retriever.Retrieve(ctx, a.Identifier, t.topK)
	if err != nil {
		return FailureResult(fmt.Errorf("catalog lookup failed: %w", err)), nil
	}
	if len(docs) == 0 {
		return SuccessResult(fmt.Sprintf("No catalog entry found for %q.", a.Identifier)), nil
	}

	var sb strings.Builder
	citations := make([]model.Citation, 0, len(docs))
	for _, d := range docs {
		fmt.Fprintf(&sb, "%s: %s\n%s\n\n", d.ID, d.Title, d.Content)
		citations = append(citations, model.Citation{
			Title:   d.Title,
			URL:     d.URL,
			Excerpt: excerptOf(d.Content),
		})
	}
	return CitedResult(strings.TrimSpace(sb.String()), citations), nil
}

func excerptOf(content string) string {
	if len(content) > 200 {
		return content[:200]
	}
	return content
}
