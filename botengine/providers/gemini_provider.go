package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"caseflow/botengine"
	"caseflow/domains/caseflow"
)

// Gemini speaks the Google Gemini API.
type Gemini struct {
	apiKey string
}

var _ botengine.Provider = (*Gemini)(nil)

func NewGemini(apiKey string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("providers: missing api key for gemini")
	}
	return &Gemini{apiKey: apiKey}, nil
}

func (p *Gemini) Name() string        { return "gemini" }
func (p *Gemini) SupportsTools() bool { return true }

// Invoke assembles the generate-content request from the transcript, calls
// the API and normalizes the first candidate.
func (p *Gemini) Invoke(ctx context.Context, req botengine.Request) (*botengine.AssistantContent, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, "")
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		var decls []*genai.FunctionDeclaration
		for _, schema := range req.Tools {
			decls = append(decls, functionDeclaration(schema))
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	if req.OutputJSON || req.OutputSchema != nil {
		cfg.ResponseMIMEType = "application/json"
		if req.OutputSchema != nil {
			cfg.ResponseSchema = schemaFromMap(req.OutputSchema)
		}
	}

	contents := p.assembleContents(req)

	result, err := p.generateWithRetry(ctx, client, req.Model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini: no candidates in response")
	}

	resp := &botengine.AssistantContent{Model: req.Model}
	if result.UsageMetadata != nil {
		resp.TokensInput = int(result.UsageMetadata.PromptTokenCount)
		resp.TokensOutput = int(result.UsageMetadata.CandidatesTokenCount)
		resp.TokensTotal = int(result.UsageMetadata.TotalTokenCount)
	}

	candidate := result.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			text.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			resp.ToolCalls = append(resp.ToolCalls, caseflow.ToolCall{
				ID:    part.FunctionCall.ID,
				Name:  part.FunctionCall.Name,
				Input: part.FunctionCall.Args,
			})
		}
	}
	resp.AppendText(text.String())

	if req.OutputSchema != nil && resp.Text != "" {
		if parsed, err := botengine.ParseStructured(resp.Text, req.OutputSchema); err == nil {
			resp.StOutput = parsed
			resp.StOutBM = req.SchemaName
			resp.Text = ""
		} else {
			logrus.WithError(err).Debug("[GEMINI] structured output not parseable")
		}
	}

	logrus.WithFields(logrus.Fields{
		"model":          req.Model,
		"input_tokens":   resp.TokensInput,
		"output_tokens":  resp.TokensOutput,
		"has_tool_calls": len(resp.ToolCalls) > 0,
	}).Debug("[GEMINI] chat completed")

	return resp, nil
}

// assembleContents maps the transcript onto Gemini contents: user-channel
// turns as user role, assistant turns as model role with function calls,
// tool results as function responses on the user role.
func (p *Gemini) assembleContents(req botengine.Request) []*genai.Content {
	var contents []*genai.Content

	for _, msg := range req.Context {
		switch m := msg.(type) {
		case *caseflow.UserContentMsg:
			contents = append(contents, p.userContent(m, req))
		case *caseflow.UserInteractiveReplyMsg:
			contents = append(contents, genai.NewContentFromText(m.AsText(), genai.RoleUser))
		case *caseflow.ServerTextMsg:
			contents = append(contents, genai.NewContentFromText(m.Text, genai.RoleUser))
		case *caseflow.ServerInteractiveOptsMsg:
			contents = append(contents, genai.NewContentFromText(m.AsText(), genai.RoleUser))
		case *caseflow.AssistantMsg:
			parts := []*genai.Part{}
			if text := botengine.MessageText(m); text != "" {
				parts = append(parts, &genai.Part{Text: text})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Input},
				})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
			}
		case *caseflow.ToolResultsMsg:
			parts := []*genai.Part{}
			for _, tr := range m.ToolResults {
				parts = append(parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:       tr.ID,
						Response: toolResultMap(tr),
					},
				})
			}
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
		}
	}
	return contents
}

func (p *Gemini) userContent(m *caseflow.UserContentMsg, req botengine.Request) *genai.Content {
	if m.Media == nil {
		return genai.NewContentFromText(m.Text, genai.RoleUser)
	}

	parts := []*genai.Part{}
	if m.Text != "" {
		parts = append(parts, &genai.Part{Text: m.Text})
	}
	attached := false
	if req.LoadImages && m.Media.IsImage() {
		if raw, ok := req.ImageCache[m.Media.Name]; ok && len(raw) > 0 {
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{MIMEType: m.Media.Mime, Data: raw},
			})
			attached = true
		}
	}
	if !attached {
		parts = append(parts, &genai.Part{Text: fmt.Sprintf("[SYSTEM] User sent media (%s)", m.Media.Mime)})
	}
	return &genai.Content{Role: genai.RoleUser, Parts: parts}
}

func toolResultMap(tr caseflow.ToolResult) map[string]any {
	if m, ok := tr.Content.(map[string]any); ok {
		return m
	}
	return map[string]any{"result": tr.Content}
}

// functionDeclaration converts a stored tool schema, unwrapping the
// chat-completions envelope when present.
func functionDeclaration(schema map[string]any) *genai.FunctionDeclaration {
	def := schema
	if inner, ok := schema["function"].(map[string]any); ok {
		def = inner
	}
	name, _ := def["name"].(string)
	desc, _ := def["description"].(string)
	decl := &genai.FunctionDeclaration{Name: name, Description: desc}
	if params, ok := def["parameters"].(map[string]any); ok {
		decl.Parameters = schemaFromMap(params)
	}
	return decl
}

func schemaFromMap(m map[string]any) *genai.Schema {
	data, err := json.Marshal(m)
	if err != nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	var schema genai.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	if schema.Type == "" {
		schema.Type = genai.TypeObject
	}
	return &schema
}

func (p *Gemini) generateWithRetry(ctx context.Context, client *genai.Client, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var result *genai.GenerateContentResponse
	err := retry.Do(
		func() error {
			res, err := client.Models.GenerateContent(ctx, model, contents, cfg)
			if err != nil {
				if overloaded(err) {
					return err
				}
				return retry.Unrecoverable(err)
			}
			result = res
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// overloaded reports whether the API pushed back with a 503.
func overloaded(err error) bool {
	return err != nil && strings.Contains(err.Error(), "503")
}
