// Package papers exposes the document pipeline to the model as tools.
package papers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/challengechat/challengechat/internal/agent"
	"github.com/challengechat/challengechat/internal/documents"
)

const (
	SearchToolName    = "search_arxiv"
	FetchToolName     = "fetch_content_from_arxiv_paper"
	SummarizeToolName = "summarize_papers_for_conversation"
)

// Service is what the tools need from the document pipeline.
type Service interface {
	Search(ctx context.Context, query string, maxResults int) ([]documents.Summary, error)
	Fetch(ctx context.Context, id string) (*documents.Document, error)
	Summarize(ctx context.Context, ids []string, conversationSummary, question string) map[string]string
}

// Options tune the tool set.
type Options struct {
	// UseSummarization offers the summarize tool instead of the fetch tool.
	UseSummarization bool

	SearchMaxResults   int
	SummarizeMaxPapers int
	Logger             *slog.Logger
}

// Tools returns the tool set selected by opts, in the order offered to the
// model.
func Tools(svc Service, opts Options) []agent.Tool {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	tools := []agent.Tool{&SearchTool{svc: svc, maxResults: opts.SearchMaxResults}}
	if opts.UseSummarization {
		tools = append(tools, &SummarizeTool{svc: svc, maxPapers: opts.SummarizeMaxPapers, logger: opts.Logger})
	} else {
		tools = append(tools, &FetchTool{svc: svc})
	}
	return tools
}

// Register adds the selected tools to registry.
func Register(registry *agent.ToolRegistry, svc Service, opts Options) error {
	for _, tool := range Tools(svc, opts) {
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("register %s: %w", tool.Name(), err)
		}
	}
	return nil
}

// SearchTool finds papers for a free-text query.
type SearchTool struct {
	svc        Service
	maxResults int
}

func (t *SearchTool) Name() string { return SearchToolName }

func (t *SearchTool) Description() string {
	return "Search arXiv for scientific papers matching a query. Returns a JSON list with title, authors, summary, published date, categories, entry_id and pdf_url for each paper, most relevant first."
}

func (t *SearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1, "description": "Search query, e.g. keywords, a title or an author name"}
  },
  "required": ["query"],
  "additionalProperties": false
}`)
}

func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	hits, err := t.svc.Search(ctx, in.Query, t.maxResults)
	if err != nil {
		return errorResult("Error searching arXiv: " + err.Error())
	}
	out, err := documents.EncodeJSON(hits)
	if err != nil {
		return nil, err
	}
	return &agent.ToolResult{Content: out}, nil
}

// FetchTool returns the full text of one paper as numbered blocks.
type FetchTool struct {
	svc Service
}

func (t *FetchTool) Name() string { return FetchToolName }

func (t *FetchTool) Description() string {
	return "Download an arXiv paper by entry_id and return its title, authors, abstract, full text content split into numbered blocks, and a file_pointer for linking the PDF."
}

func (t *FetchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "entry_id": {"type": "string", "minLength": 1, "description": "arXiv entry id such as 2405.13599v1"}
  },
  "required": ["entry_id"],
  "additionalProperties": false
}`)
}

func (t *FetchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var in struct {
		EntryID string `json:"entry_id"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	doc, err := t.svc.Fetch(ctx, in.EntryID)
	out, encErr := documents.FetchPayload(doc, err)
	if encErr != nil {
		return nil, encErr
	}
	return &agent.ToolResult{Content: out, IsError: err != nil}, nil
}

// SummarizeTool summarizes several papers with respect to the conversation.
type SummarizeTool struct {
	svc       Service
	maxPapers int
	logger    *slog.Logger
}

func (t *SummarizeTool) Name() string { return SummarizeToolName }

func (t *SummarizeTool) Description() string {
	return "Read arXiv papers by entry_id and summarize each one with respect to the conversation and the user's current question. Returns a JSON object mapping Paper_<entry_id> to its summary."
}

func (t *SummarizeTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "entry_ids_to_summarize": {
      "type": "array",
      "items": {"type": "string", "minLength": 1},
      "minItems": 1,
      "description": "arXiv entry ids of the papers to summarize"
    },
    "chat_summarization": {"type": "string", "description": "Short summary of the conversation so far"},
    "user_question": {"type": "string", "description": "The user's current question"}
  },
  "required": ["entry_ids_to_summarize", "chat_summarization", "user_question"],
  "additionalProperties": false
}`)
}

func (t *SummarizeTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var in struct {
		IDs          []string `json:"entry_ids_to_summarize"`
		ChatSummary  string   `json:"chat_summarization"`
		UserQuestion string   `json:"user_question"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	ids := dedupe(in.IDs)
	if t.maxPapers > 0 && len(ids) > t.maxPapers {
		t.logger.InfoContext(ctx, "limiting papers to summarize", "requested", len(ids), "limit", t.maxPapers)
		ids = ids[:t.maxPapers]
	}

	summaries := t.svc.Summarize(ctx, ids, in.ChatSummary, in.UserQuestion)
	out := make([]documents.Block, 0, len(ids))
	for _, id := range ids {
		out = append(out, documents.Block{ID: "Paper_" + id, Text: summaries[id]})
	}
	content, err := documents.EncodeJSON(documents.BlockContent(out))
	if err != nil {
		return nil, err
	}
	return &agent.ToolResult{Content: content}, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func errorResult(msg string) (*agent.ToolResult, error) {
	out, err := documents.ErrorPayload(msg)
	if err != nil {
		return nil, err
	}
	return &agent.ToolResult{Content: out, IsError: true}, nil
}
