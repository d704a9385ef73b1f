// Package botengine drives the LLM agents: immutable agent configuration,
// per-invocation request assembly and provider-neutral response
// normalization.
package botengine

import (
	"context"
	"encoding/json"
	"strings"

	"caseflow/domains/caseflow"
)

// Request is one provider invocation, assembled fresh per call. The agent
// never mutates itself between invocations.
type Request struct {
	Model        string
	Fallbacks    []string
	System       string
	Context      []caseflow.Message
	Tools        []map[string]any
	MaxTokens    int
	LoadImages   bool
	ImageCache   map[string][]byte
	OutputJSON   bool
	OutputSchema map[string]any
	SchemaName   string
}

// Provider is the capability surface of one backing API.
type Provider interface {
	Name() string
	SupportsTools() bool
	Invoke(ctx context.Context, req Request) (*AssistantContent, error)
}

// AssistantContent is a normalized provider response plus the invocation
// metadata recorded with it.
type AssistantContent struct {
	Agent        string
	API          string
	Model        string
	TokensInput  int
	TokensOutput int
	TokensTotal  int
	Instructions string
	Tools        []map[string]any
	Context      []string
	Text         string
	ToolCalls    []caseflow.ToolCall
	StOutput     map[string]any
	StOutBM      string
}

// IsEmpty reports whether the response carries neither text, tool calls nor
// structured output.
func (a *AssistantContent) IsEmpty() bool {
	return a == nil ||
		(strings.TrimSpace(a.Text) == "" && len(a.ToolCalls) == 0 && len(a.StOutput) == 0)
}

// AppendText joins an extra block with a blank line.
func (a *AssistantContent) AppendText(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	if a.Text == "" {
		a.Text = block
		return
	}
	a.Text = a.Text + "\n\n" + block
}

// ToMessage converts the normalized response into a persistable assistant
// message.
func (a *AssistantContent) ToMessage(origin string) (*caseflow.AssistantMsg, error) {
	msg := &caseflow.AssistantMsg{
		MessageBase:  caseflow.MessageBase{Origin: origin},
		Text:         a.Text,
		ToolCalls:    a.ToolCalls,
		StOutput:     a.StOutput,
		StOutBM:      a.StOutBM,
		Agent:        a.Agent,
		API:          a.API,
		Model:        a.Model,
		TokensInput:  a.TokensInput,
		TokensOutput: a.TokensOutput,
		TokensTotal:  a.TokensTotal,
		Instructions: a.Instructions,
		Tools:        a.Tools,
		Context:      a.Context,
	}
	if err := msg.Init(); err != nil {
		return nil, err
	}
	return msg, nil
}

// MessageText renders one context message for a text-only channel:
// interactive prompts and replies via their AsText form, assistant
// structured output as compact JSON.
func MessageText(msg caseflow.Message) string {
	switch m := msg.(type) {
	case *caseflow.UserContentMsg:
		return m.Text
	case *caseflow.UserInteractiveReplyMsg:
		return m.AsText()
	case *caseflow.ServerTextMsg:
		return m.Text
	case *caseflow.ServerInteractiveOptsMsg:
		return m.AsText()
	case *caseflow.AssistantMsg:
		if m.Text == "" && len(m.StOutput) > 0 {
			data, err := json.Marshal(m.StOutput)
			if err == nil {
				return string(data)
			}
		}
		return m.Text
	}
	return ""
}
