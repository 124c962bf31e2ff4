package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/richinex/skein/internal/jsonx"
)

// Artifact is a standalone piece of generated content (a document,
// code file or report) saved outside the conversation transcript.
type Artifact struct {
	ID             string
	ConversationID string
	Title          string
	MediaType      string
	Content        string
	CreatedAt      time.Time
}

// ArtifactStore persists artifacts.
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, artifact Artifact) error
}

// CreateArtifactTool lets the model save generated content as a named
// artifact the user can retrieve later.
type CreateArtifactTool struct {
	BaseTool
	store          ArtifactStore
	conversationID string
}

// NewCreateArtifactTool creates an artifact tool bound to one
// conversation.
func NewCreateArtifactTool(store ArtifactStore, conversationID string) *CreateArtifactTool {
	return &CreateArtifactTool{store: store, conversationID: conversationID}
}

// Metadata returns the tool metadata.
func (t *CreateArtifactTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "create_artifact",
		Description: "Save generated content (code, documents, reports) as a named artifact",
		Parameters: []ToolParameter{
			{Name: "title", ParamType: "string", Description: "Short descriptive title", Required: true},
			{Name: "content", ParamType: "string", Description: "The full artifact content", Required: true},
			{Name: "media_type", ParamType: "string", Description: "MIME type, e.g. text/markdown or text/x-go", Required: false},
		},
	}
}

type artifactArgs struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	MediaType string `json:"media_type"`
}

// Validate validates the arguments.
func (t *CreateArtifactTool) Validate(args json.RawMessage) error {
	var a artifactArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(a.Title) == "" {
		return fmt.Errorf("title cannot be empty")
	}
	if a.Content == "" {
		return fmt.Errorf("content cannot be empty")
	}
	return nil
}

// Execute saves the artifact.
func (t *CreateArtifactTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a artifactArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}
	if strings.TrimSpace(a.Title) == "" || a.Content == "" {
		return FailureResultf("title and content are required"), nil
	}

	mediaType := a.MediaType
	if mediaType == "" {
		mediaType = "text/markdown"
	}

	content := a.Content
	// Models tend to fence JSON payloads in markdown; store the object
	// itself so consumers can parse the artifact directly.
	if mediaType == "application/json" {
		extracted, err := jsonx.Extract(content)
		if err != nil {
			return FailureResult(fmt.Errorf("content is not valid JSON: %w", err)), nil
		}
		content = extracted
	}

	artifact := Artifact{
		ID:             uuid.NewString(),
		ConversationID: t.conversationID,
		Title:          a.Title,
		MediaType:      mediaType,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	if err := t.store.SaveArtifact(ctx, artifact); err != nil {
		return FailureResult(fmt.Errorf("save artifact: %w", err)), nil
	}
	return SuccessResult(fmt.Sprintf("Artifact %q saved with id %s.", a.Title, artifact.ID)), nil
}
