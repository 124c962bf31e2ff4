// Terminal chat session.
//
// Streams events to the terminal as they arrive: deltas are printed
// raw, tool activity and stats go to stderr so piped output stays
// clean.

package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/richinex/skein/model"
	"github.com/richinex/skein/stream"
)

// ChatParams selects the conversation a terminal session runs in.
type ChatParams struct {
	ConversationID string
	UserID         string
	Mode           string
	// ResumeID, when set, continues the checkpointed run with that
	// request ID instead of starting fresh.
	ResumeID string
}

// Ask runs a single query and exits.
func Ask(ctx context.Context, query string, params ChatParams, opts Options) error {
	app, err := NewApp(opts)
	if err != nil {
		return err
	}
	defer app.Close()

	fillParams(&params)
	return ask(ctx, app, query, params, opts.Verbose)
}

// Chat starts an interactive session. Type 'exit' to quit.
func Chat(ctx context.Context, params ChatParams, opts Options) error {
	app, err := NewApp(opts)
	if err != nil {
		return err
	}
	defer app.Close()

	fillParams(&params)
	fmt.Printf("Conversation %s. Type 'exit' to quit.\n\n", params.ConversationID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		if err := ask(ctx, app, input, params, opts.Verbose); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		// A resume ID only applies to the first turn.
		params.ResumeID = ""
	}
	return scanner.Err()
}

// Feedback records a thumbs up or down for an answer.
func Feedback(ctx context.Context, messageID, query, mode string, positive bool, comment string, opts Options) error {
	app, err := NewApp(opts)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Orchestrator.Feedback(ctx, messageID, query, model.ParseMode(mode), positive, comment); err != nil {
		return err
	}
	fmt.Println("Feedback recorded.")
	return nil
}

func fillParams(params *ChatParams) {
	if params.ConversationID == "" {
		params.ConversationID = uuid.NewString()
	}
	if params.UserID == "" {
		params.UserID = "local"
	}
}

func ask(ctx context.Context, app *App, query string, params ChatParams, verbose bool) error {
	req := model.ChatRequest{
		RequestID:      params.ResumeID,
		ConversationID: params.ConversationID,
		UserID:         params.UserID,
		Query:          query,
		Mode:           model.ParseMode(params.Mode),
	}

	var failure error
	sink := stream.SinkFunc(func(event stream.Event) {
		failure = renderEvent(event, verbose, failure)
	})

	if params.ResumeID != "" {
		app.Orchestrator.Resume(ctx, req, sink)
	} else {
		app.Orchestrator.Chat(ctx, req, sink)
	}
	return failure
}

// renderEvent prints one stream event and carries any terminal error
// forward.
func renderEvent(event stream.Event, verbose bool, failure error) error {
	switch event.Type {
	case stream.EventProgress:
		if verbose {
			fmt.Fprintf(os.Stderr, "[%s]\n", event.Stage)
		}
	case stream.EventDelta:
		fmt.Print(event.Text)
	case stream.EventToolStart:
		fmt.Fprintf(os.Stderr, "\n[tool %s ...]\n", event.Tool)
	case stream.EventToolEnd:
		if event.ToolError != "" {
			fmt.Fprintf(os.Stderr, "[tool %s failed: %s]\n", event.Tool, event.ToolError)
		} else if verbose {
			fmt.Fprintf(os.Stderr, "[tool %s done]\n", event.Tool)
		}
	case stream.EventDone:
		fmt.Println()
		if event.Answer != nil {
			printAnswerSummary(*event.Answer, verbose)
		}
	case stream.EventError:
		fmt.Println()
		return fmt.Errorf("%s", event.Message)
	}
	return failure
}

func printAnswerSummary(answer model.Answer, verbose bool) {
	if answer.TimedOut {
		fmt.Fprintln(os.Stderr, "[partial answer: run hit its deadline]")
	}
	for _, c := range answer.Citations {
		fmt.Fprintf(os.Stderr, "  source: %s (%s)\n", c.Title, c.URL)
	}
	if !verbose {
		return
	}
	fmt.Fprintf(os.Stderr, "[message %s | mode %s | model %s | cached %t | %d iterations | %d prompt / %d completion tokens]\n",
		answer.MessageID, answer.Mode, answer.Model, answer.Cached,
		answer.Iterations, answer.Usage.PromptTokens, answer.Usage.CompletionTokens)
}
