package annotate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/llm"
	"github.com/ziadkadry99/tracegraph/internal/logging"
	"github.com/ziadkadry99/tracegraph/internal/progress"
)

const systemPrompt = `You are an expert software documentation writer.
Reply with a JSON object of the form {"summary": "<one or two sentences>"} describing what the code element does.`

// maxSnippet bounds the snippet sent per request.
const maxSnippet = 4000

// LLMAnnotator asks a language model for each node's summary. Failed
// requests are logged and skipped.
type LLMAnnotator struct {
	Provider    llm.Provider
	Concurrency int
	Logger      *slog.Logger
	Progress    progress.Func

	mu    sync.Mutex
	usage llm.Usage
}

// Usage returns the token usage of the requests sent so far.
func (a *LLMAnnotator) Usage() llm.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage
}

func (a *LLMAnnotator) Annotate(ctx context.Context, reqs []Request) ([]graph.Annotation, error) {
	logger := logging.OrDiscard(a.Logger)
	limit := a.Concurrency
	if limit <= 0 {
		limit = 1
	}

	summaries := make([]string, len(reqs))
	var done int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, r := range reqs {
		g.Go(func() error {
			summary, err := a.summarize(gctx, r)
			switch {
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				return err
			case err != nil:
				logger.Warn("annotation failed", "node", r.Name, "service", r.Service, "error", err)
			default:
				summaries[i] = summary
			}
			if a.Progress != nil {
				a.Progress(int(atomic.AddInt64(&done, 1)), len(reqs), r.Name)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []graph.Annotation
	for i, s := range summaries {
		if s != "" {
			out = append(out, graph.Annotation{NodeID: reqs[i].NodeID, Summary: s})
		}
	}
	return out, nil
}

func (a *LLMAnnotator) summarize(ctx context.Context, r Request) (string, error) {
	snippet := r.Snippet
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet]
	}
	prompt := fmt.Sprintf("Generate a summary for the following code element:\n\nName: %s\nType: %s\nService: %s\nCode Snippet:\n%s\n",
		r.Name, r.Kind, r.Service, snippet)

	resp, err := a.Provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		MaxTokens:   256,
		Temperature: 0.2,
		JSONMode:    true,
	})
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	a.usage.Add(resp)
	a.mu.Unlock()
	return parseSummary(resp.Content)
}

// parseSummary reads {"summary": ...} from a model reply, tolerating a
// fenced code block around the object.
func parseSummary(content string) (string, error) {
	content = strings.TrimSpace(content)
	if start, end := strings.IndexByte(content, '{'), strings.LastIndexByte(content, '}'); start >= 0 && end > start {
		content = content[start : end+1]
	}
	var out struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return "", fmt.Errorf("parsing model reply: %w", err)
	}
	return strings.TrimSpace(out.Summary), nil
}
