package usecase

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"caseflow/botengine"
	"caseflow/domains/caseflow"
	"caseflow/domains/whatsapp"
)

// ToolFunc executes one tool call against the handler's case. The returned
// value is serialized into the tool result.
type ToolFunc func(ctx context.Context, h *CaseHandler, input map[string]any) (any, error)

// AgentHooks drives the conversation with an LLM agent: inbound messages are
// ingested, response passes invoke the agent over the rebuilt context and
// execute any tool calls it makes.
type AgentHooks struct {
	Agent      *botengine.Agent
	Tools      map[string]ToolFunc
	LoadImages bool
}

var _ Hooks = (*AgentHooks)(nil)

// ProcessMessage ingests the webhook message. A response pass is due only
// when the message was new.
func (a *AgentHooks) ProcessMessage(ctx context.Context, h *CaseHandler, msg *whatsapp.Message, media *caseflow.MediaContent) (bool, error) {
	stored, err := h.DedupAndIngest(ctx, msg, media)
	if err != nil {
		return false, err
	}
	return stored != nil, nil
}

// GenerateResponse rebuilds the context, invokes the agent and delivers the
// result. Returns true when tool calls were executed and another pass over
// the extended context is required.
func (a *AgentHooks) GenerateResponse(ctx context.Context, h *CaseHandler, maxTokens int) (bool, error) {
	if err := h.ContextBuild(ctx, true); err != nil {
		return false, err
	}

	opts := botengine.GetOpts{MaxTokens: maxTokens}
	if a.LoadImages {
		cache, err := a.imageCache(ctx, h)
		if err != nil {
			return false, err
		}
		if len(cache) > 0 {
			opts.LoadImages = true
			opts.ImageCache = cache
		}
	}

	resp, err := a.Agent.GetResponse(ctx, h.Context, opts)
	if err != nil {
		return false, err
	}
	if resp.IsEmpty() {
		return false, nil
	}

	msg, err := resp.ToMessage("AgentHooks/GenerateResponse")
	if err != nil {
		return false, err
	}
	msg.CaseID = h.CaseID
	if err := h.SendMessage(ctx, msg); err != nil {
		return false, err
	}

	if len(msg.ToolCalls) == 0 {
		return false, nil
	}
	return true, a.runTools(ctx, h, msg.ToolCalls)
}

// runTools executes the requested calls in order and persists their results
// as one tool-results message.
func (a *AgentHooks) runTools(ctx context.Context, h *CaseHandler, calls []caseflow.ToolCall) error {
	results := &caseflow.ToolResultsMsg{
		MessageBase: caseflow.MessageBase{
			Origin: "AgentHooks/runTools",
			CaseID: h.CaseID,
		},
	}

	for _, call := range calls {
		fn, ok := a.Tools[call.Name]
		if !ok {
			results.ToolResults = append(results.ToolResults, caseflow.ToolResult{
				ID:      call.ID,
				Content: fmt.Sprintf("unknown tool %q", call.Name),
				Error:   true,
			})
			continue
		}

		out, err := fn(ctx, h, call.Input)
		if err != nil {
			logrus.WithError(err).Warnf("[HOOKS] tool %s failed", call.Name)
			results.ToolResults = append(results.ToolResults, caseflow.ToolResult{
				ID:      call.ID,
				Content: err.Error(),
				Error:   true,
			})
			continue
		}
		results.ToolResults = append(results.ToolResults, caseflow.ToolResult{
			ID: call.ID, Content: out,
		})
	}

	if err := results.Init(); err != nil {
		return err
	}
	return h.SendMessage(ctx, results)
}

// imageCache loads the bytes of image media referenced by the context.
func (a *AgentHooks) imageCache(ctx context.Context, h *CaseHandler) (map[string][]byte, error) {
	cache := map[string][]byte{}
	for _, msg := range h.Context {
		content, ok := msg.(*caseflow.UserContentMsg)
		if !ok || content.Media == nil || !content.Media.IsImage() {
			continue
		}
		raw, err := h.Storage().MediaRead(ctx, content.Media.Name)
		if err != nil {
			return nil, err
		}
		if raw != nil {
			cache[content.Media.Name] = raw
		}
	}
	return cache, nil
}

// MarkResolvedTool closes the active case. Wire it under the schema name the
// agent's tool definitions use for case resolution.
func MarkResolvedTool(ctx context.Context, h *CaseHandler, _ map[string]any) (any, error) {
	if err := h.CaseMarkResolved(ctx); err != nil {
		return nil, err
	}
	return map[string]any{"status": caseflow.StatusResolved, "case_id": h.CaseID}, nil
}
