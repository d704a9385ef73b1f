package botengine

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/domains/caseflow"
)

type fakeProvider struct {
	name     string
	tools    bool
	response *AssistantContent
	err      error
	lastReq  Request
}

func (f *fakeProvider) Name() string        { return f.name }
func (f *fakeProvider) SupportsTools() bool { return f.tools }
func (f *fakeProvider) Invoke(_ context.Context, req Request) (*AssistantContent, error) {
	f.lastReq = req
	return f.response, f.err
}

func TestNewSingleProvider(t *testing.T) {
	a, err := New("concierge", "openai/gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "openai", a.API())
	assert.Equal(t, "gpt-4o-mini", a.Model())

	a, err = New("concierge", "gemini/gemini-2.5-flash")
	require.NoError(t, err)
	assert.Equal(t, "gemini", a.API())
}

func TestNewOpenRouterList(t *testing.T) {
	a, err := New("router", "meta-llama/llama-3.3-70b", "mistralai/mistral-small-3.1", "openai/gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "openrouter", a.API())
	assert.Equal(t, "meta-llama/llama-3.3-70b", a.Model())
}

func TestNewRejectsInvalidSpecs(t *testing.T) {
	_, err := New("x", "gpt-4o-mini")
	assert.Error(t, err)

	_, err = New("x", "OpenAI/GPT-4o")
	assert.Error(t, err)

	_, err = New("x", "openai/unknown-model")
	assert.Error(t, err)

	_, err = New("x", "acme/some-model")
	assert.Error(t, err)

	_, err = New("x")
	assert.Error(t, err)
}

func TestLoadToolsDenylist(t *testing.T) {
	schema := map[string]any{"name": "lookup"}

	mistral, err := New("m", "mistral/mistral-small")
	require.NoError(t, err)
	assert.Error(t, mistral.LoadTools(schema))

	routed, err := New("r", "openai/gpt-4o-mini", "mistralai/mistral-small-3.1")
	require.NoError(t, err)
	assert.Error(t, routed.LoadTools(schema))

	clean, err := New("c", "openai/gpt-4o-mini")
	require.NoError(t, err)
	assert.NoError(t, clean.LoadTools(schema))
}

func TestMergePrompts(t *testing.T) {
	a, err := New("p", "openai/gpt-4o-mini")
	require.NoError(t, err)

	require.NoError(t, a.LoadPrompts(
		PromptSource{Text: "first"},
		PromptSource{Text: "second\n"},
		PromptSource{Text: "third"},
	))
	assert.Equal(t, "first\n\nsecond\n\nthird", a.MergePrompts())

	empty, err := New("e", "openai/gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "", empty.MergePrompts())
}

func TestLoadPromptsFromFileWithReplacements(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/prompt.txt"
	require.NoError(t, writeFile(path, "Hello {NAME}, welcome to {PLACE}."))

	a, err := New("p", "openai/gpt-4o-mini")
	require.NoError(t, err)
	require.NoError(t, a.LoadPrompts(PromptSource{
		Path:    path,
		Replace: map[string]string{"{NAME}": "Ada", "{PLACE}": "support"},
	}))
	assert.Equal(t, "Hello Ada, welcome to support.", a.MergePrompts())

	assert.Error(t, a.LoadPrompts(PromptSource{}))
}

func TestGetResponseFillsMetadata(t *testing.T) {
	a, err := New("concierge", "openai/gpt-4o-mini")
	require.NoError(t, err)
	require.NoError(t, a.LoadPrompts(PromptSource{Text: "be helpful"}))

	provider := &fakeProvider{
		name: "openai", tools: true,
		response: &AssistantContent{Text: "sure thing", Model: "gpt-4o-mini-2024"},
	}
	a.Bind(provider)

	msg := &caseflow.UserContentMsg{Text: "help"}
	require.NoError(t, msg.Init())

	resp, err := a.GetResponse(context.Background(), []caseflow.Message{msg}, GetOpts{MaxTokens: 512})
	require.NoError(t, err)

	assert.Equal(t, "concierge", resp.Agent)
	assert.Equal(t, "openai", resp.API)
	assert.Equal(t, "gpt-4o-mini-2024", resp.Model)
	assert.Equal(t, "be helpful", resp.Instructions)
	assert.Equal(t, []string{msg.ID}, resp.Context)

	assert.Equal(t, "be helpful", provider.lastReq.System)
	assert.Equal(t, 512, provider.lastReq.MaxTokens)
}

func TestGetResponsePostProcessors(t *testing.T) {
	a, err := New("p", "openai/gpt-4o-mini")
	require.NoError(t, err)
	a.Bind(&fakeProvider{name: "openai", tools: true, response: &AssistantContent{Text: "**bold**"}})
	a.AddPostProcessor(strings.ToUpper)
	a.AddPostProcessor(func(s string) string { return strings.ReplaceAll(s, "*", "") })

	resp, err := a.GetResponse(context.Background(), nil, GetOpts{})
	require.NoError(t, err)
	assert.Equal(t, "BOLD", resp.Text)
}

func TestGetResponseGuards(t *testing.T) {
	a, err := New("p", "openai/gpt-4o-mini")
	require.NoError(t, err)

	_, err = a.GetResponse(context.Background(), nil, GetOpts{})
	assert.Error(t, err)

	a.Bind(&fakeProvider{name: "openai", tools: true, response: &AssistantContent{Text: "x"}})
	_, err = a.GetResponse(context.Background(), nil, GetOpts{LoadImages: true})
	assert.Error(t, err)

	noTools, err := New("n", "openai/gpt-4o-mini")
	require.NoError(t, err)
	require.NoError(t, noTools.LoadTools(map[string]any{"name": "lookup"}))
	noTools.Bind(&fakeProvider{name: "openai", tools: false})
	_, err = noTools.GetResponse(context.Background(), nil, GetOpts{})
	assert.Error(t, err)
}

func TestGetResponseEmptyPassesThrough(t *testing.T) {
	a, err := New("p", "openai/gpt-4o-mini")
	require.NoError(t, err)
	a.Bind(&fakeProvider{name: "openai", tools: true, response: &AssistantContent{}})

	resp, err := a.GetResponse(context.Background(), nil, GetOpts{})
	require.NoError(t, err)
	assert.True(t, resp.IsEmpty())
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
