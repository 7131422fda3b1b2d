package tools

import (
	"context"
	"time"

	"github.com/kittclouds/kiln/internal/store"
)

// DefaultAskUserTimeout bounds how long an ask_user call waits for a
// human response before surfacing as a timeout rather than hanging the
// agent loop forever.
const DefaultAskUserTimeout = 5 * time.Minute

// RegisterBuiltins installs the core and knowledge ToolRefs every kiln
// process offers, plus their handlers, into reg. Handlers read storage
// and the interaction channel from the ExecutionContext each call
// receives, so they run correctly under whichever Executor dispatches
// them — nothing here is bound to one particular Executor instance.
func RegisterBuiltins(reg *Registry) {
	reg.Register(ToolRef{
		Name:            "ask_user",
		Source:          SourceCore,
		Description:     "Ask the user a clarifying question, optionally with fixed choices",
		Tags:            []string{"interaction", "core"},
		AlwaysAvailable: true,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"question":     map[string]any{"type": "string"},
				"choices":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"multi_select": map[string]any{"type": "boolean"},
				"allow_other":  map[string]any{"type": "boolean"},
			},
			"required": []string{"question"},
		},
	})
	RegisterCore("ask_user", func(ctx context.Context, ec *ExecutionContext, args map[string]any) (any, error) {
		req := AskRequest{Question: stringArg(args, "question")}
		if choices, ok := args["choices"].([]any); ok {
			for _, c := range choices {
				if s, ok := c.(string); ok {
					req.Choices = append(req.Choices, s)
				}
			}
		}
		req.MultiSelect, _ = args["multi_select"].(bool)
		req.AllowOther, _ = args["allow_other"].(bool)
		return ec.Ask(ctx, req, DefaultAskUserTimeout)
	})

	reg.Register(ToolRef{
		Name:        "note.find",
		Source:      SourceKnowledge,
		Description: "Look up a stored entity by id",
		Tags:        []string{"knowledge", "read"},
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"id": map[string]any{"type": "string"}},
			"required":   []string{"id"},
		},
	})
	RegisterCore("note.find", func(_ context.Context, ec *ExecutionContext, args map[string]any) (any, error) {
		return ec.Storer.GetEntity(stringArg(args, "id"))
	})

	reg.Register(ToolRef{
		Name:        "note.outlinks",
		Source:      SourceKnowledge,
		Description: "List relations originating from an entity",
		Tags:        []string{"knowledge", "read", "graph"},
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"id": map[string]any{"type": "string"}},
			"required":   []string{"id"},
		},
	})
	RegisterCore("note.outlinks", func(_ context.Context, ec *ExecutionContext, args map[string]any) (any, error) {
		return ec.Storer.ListRelationsFrom(stringArg(args, "id"))
	})

	reg.Register(ToolRef{
		Name:        "note.inlinks",
		Source:      SourceKnowledge,
		Description: "List relations pointing at an entity",
		Tags:        []string{"knowledge", "read", "graph"},
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"id": map[string]any{"type": "string"}},
			"required":   []string{"id"},
		},
	})
	RegisterCore("note.inlinks", func(_ context.Context, ec *ExecutionContext, args map[string]any) (any, error) {
		return ec.Storer.ListRelationsTo(stringArg(args, "id"))
	})

	reg.Register(ToolRef{
		Name:        "note.query",
		Source:      SourceKnowledge,
		Description: "Run a composite graph+EAV query over stored notes",
		Tags:        []string{"knowledge", "read", "search"},
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":            map[string]any{"type": "string"},
				"out_edges_of":  map[string]any{"type": "string"},
				"in_edges_of":   map[string]any{"type": "string"},
				"relation_type": map[string]any{"type": "string"},
				"tag_path":      map[string]any{"type": "string"},
				"limit":         map[string]any{"type": "integer"},
			},
		},
	})
	RegisterCore("note.query", func(_ context.Context, ec *ExecutionContext, args map[string]any) (any, error) {
		return ec.Storer.Query(decodeQuerySurface(args))
	})
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func decodeQuerySurface(args map[string]any) store.QuerySurface {
	var q store.QuerySurface
	if v, ok := args["id"].(string); ok {
		q.ID = v
	}
	if v, ok := args["out_edges_of"].(string); ok {
		q.OutEdgesOf = v
	}
	if v, ok := args["in_edges_of"].(string); ok {
		q.InEdgesOf = v
	}
	if v, ok := args["relation_type"].(string); ok {
		q.RelationType = v
	}
	if v, ok := args["tag_path"].(string); ok {
		q.TagPath = v
	}
	if v, ok := args["limit"].(float64); ok {
		q.Limit = int(v)
	}
	return q
}
