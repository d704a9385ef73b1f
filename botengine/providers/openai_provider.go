// Package providers implements the botengine.Provider interface for the
// supported APIs: OpenAI-compatible chat completions (openai, openrouter,
// mistral) and Gemini.
package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"

	"caseflow/botengine"
	"caseflow/domains/caseflow"
)

// Endpoints for the OpenAI-compatible APIs. An empty base URL keeps the SDK
// default.
var compatBaseURLs = map[string]string{
	"openai":     "",
	"openrouter": "https://openrouter.ai/api/v1",
	"mistral":    "https://api.mistral.ai/v1",
}

// OpenAICompat speaks the chat-completions protocol against any of the
// OpenAI-compatible endpoints.
type OpenAICompat struct {
	api    string
	apiKey string
}

var _ botengine.Provider = (*OpenAICompat)(nil)

// NewOpenAICompat builds a provider for one compatible API tag.
func NewOpenAICompat(api, apiKey string) (*OpenAICompat, error) {
	if _, ok := compatBaseURLs[api]; !ok {
		return nil, fmt.Errorf("providers: %q is not an openai-compatible api", api)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("providers: missing api key for %s", api)
	}
	return &OpenAICompat{api: api, apiKey: apiKey}, nil
}

func (p *OpenAICompat) Name() string { return p.api }

// SupportsTools is false for APIs on the denylist.
func (p *OpenAICompat) SupportsTools() bool {
	for _, denied := range botengine.APIsNoToolCalls {
		if p.api == denied {
			return false
		}
	}
	return true
}

// Invoke assembles the chat-completions request from the transcript, calls
// the API and normalizes the first choice.
func (p *OpenAICompat) Invoke(ctx context.Context, req botengine.Request) (*botengine.AssistantContent, error) {
	opts := []option.RequestOption{option.WithAPIKey(p.apiKey)}
	if base := compatBaseURLs[p.api]; base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	client := openai.NewClient(opts...)

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: p.assembleMessages(req),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	for _, schema := range req.Tools {
		params.Tools = append(params.Tools, toolParam(schema))
	}
	switch {
	case req.OutputSchema != nil:
		name := req.SchemaName
		if name == "" {
			name = "structured_output"
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: req.OutputSchema,
				},
			},
		}
	case req.OutputJSON:
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}
	if p.api == "openrouter" && len(req.Fallbacks) > 0 {
		params.SetExtraFields(map[string]any{"models": req.Fallbacks})
	}

	completion, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.api, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%s: no choices in response", p.api)
	}

	resp := &botengine.AssistantContent{
		Model:        completion.Model,
		TokensInput:  int(completion.Usage.PromptTokens),
		TokensOutput: int(completion.Usage.CompletionTokens),
		TokensTotal:  int(completion.Usage.TotalTokens),
	}

	choice := completion.Choices[0]
	resp.AppendText(choice.Message.Content)
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		resp.ToolCalls = append(resp.ToolCalls, caseflow.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: args,
		})
	}

	// Structured output: parse the text, clearing it on success so callers
	// see one canonical representation.
	if req.OutputSchema != nil && resp.Text != "" {
		if parsed, err := botengine.ParseStructured(resp.Text, req.OutputSchema); err == nil {
			resp.StOutput = parsed
			resp.StOutBM = req.SchemaName
			resp.Text = ""
		} else {
			logrus.WithError(err).Debugf("[%s] structured output not parseable", p.api)
		}
	}

	logrus.WithFields(logrus.Fields{
		"model":          resp.Model,
		"input_tokens":   resp.TokensInput,
		"output_tokens":  resp.TokensOutput,
		"has_tool_calls": len(resp.ToolCalls) > 0,
	}).Debugf("[%s] chat completed", p.api)

	return resp, nil
}

// assembleMessages maps the stored transcript onto chat-completions turns:
// user and server messages on the user channel, assistant text and tool
// calls on the assistant channel, tool results as tool messages.
func (p *OpenAICompat) assembleMessages(req botengine.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}

	for _, msg := range req.Context {
		switch m := msg.(type) {
		case *caseflow.UserContentMsg:
			messages = append(messages, p.userContentMessage(m, req))
		case *caseflow.UserInteractiveReplyMsg:
			messages = append(messages, openai.UserMessage(m.AsText()))
		case *caseflow.ServerTextMsg:
			messages = append(messages, openai.UserMessage(m.Text))
		case *caseflow.ServerInteractiveOptsMsg:
			messages = append(messages, openai.UserMessage(m.AsText()))
		case *caseflow.AssistantMsg:
			if text := botengine.MessageText(m); text != "" {
				messages = append(messages, openai.AssistantMessage(text))
			}
			if len(m.ToolCalls) > 0 {
				messages = append(messages, assistantToolCalls(m.ToolCalls))
			}
		case *caseflow.ToolResultsMsg:
			for _, tr := range m.ToolResults {
				messages = append(messages, openai.ToolMessage(toolResultText(tr), tr.ID))
			}
		}
	}
	return messages
}

// userContentMessage renders text plus media. Cached images become data-URL
// blocks; anything else degrades to a placeholder.
func (p *OpenAICompat) userContentMessage(m *caseflow.UserContentMsg, req botengine.Request) openai.ChatCompletionMessageParamUnion {
	if m.Media == nil {
		return openai.UserMessage(m.Text)
	}

	var parts []openai.ChatCompletionContentPartUnionParam
	if m.Text != "" {
		parts = append(parts, openai.TextContentPart(m.Text))
	}

	attached := false
	if req.LoadImages && m.Media.IsImage() {
		if raw, ok := req.ImageCache[m.Media.Name]; ok && len(raw) > 0 {
			dataURL := fmt.Sprintf("data:%s;base64,%s", m.Media.Mime, base64.StdEncoding.EncodeToString(raw))
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: dataURL,
			}))
			attached = true
		}
	}
	if !attached {
		parts = append(parts, openai.TextContentPart(fmt.Sprintf("[SYSTEM] User sent media (%s)", m.Media.Mime)))
	}
	return openai.UserMessage(parts)
}

func assistantToolCalls(calls []caseflow.ToolCall) openai.ChatCompletionMessageParamUnion {
	var toolCalls []openai.ChatCompletionMessageToolCallUnionParam
	for _, tc := range calls {
		args, err := json.Marshal(tc.Input)
		if err != nil {
			args = []byte("{}")
		}
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: string(args),
				},
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{
		OfAssistant: &openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls},
	}
}

func toolResultText(tr caseflow.ToolResult) string {
	if s, ok := tr.Content.(string); ok {
		return s
	}
	data, err := json.Marshal(tr.Content)
	if err != nil {
		return fmt.Sprintf("%v", tr.Content)
	}
	return string(data)
}

// toolParam converts a stored tool schema to the SDK form. Schemas may come
// wrapped in the {"type": "function", "function": {...}} envelope or bare.
func toolParam(schema map[string]any) openai.ChatCompletionToolUnionParam {
	def := schema
	if inner, ok := schema["function"].(map[string]any); ok {
		def = inner
	}
	name, _ := def["name"].(string)
	fn := openai.FunctionDefinitionParam{Name: name}
	if desc, ok := def["description"].(string); ok && desc != "" {
		fn.Description = openai.String(desc)
	}
	if params, ok := def["parameters"].(map[string]any); ok {
		fn.Parameters = openai.FunctionParameters(params)
	}
	return openai.ChatCompletionToolUnionParam{
		OfFunction: &openai.ChatCompletionFunctionToolParam{Function: fn},
	}
}
