package botengine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"caseflow/domains/caseflow"
)

// apiModelPattern matches "api/model" specs.
var apiModelPattern = regexp.MustCompile(`^[a-z0-9.:-]{2,}/[a-z0-9.:-]{2,}$`)

// modelAliases maps the short model names accepted in specs to concrete
// model ids, per API. OpenRouter specs bypass this table: the full
// "provider/model" id goes through as-is.
var modelAliases = map[string]map[string]string{
	"openai": {
		"gpt-4o":      "gpt-4o",
		"gpt-4o-mini": "gpt-4o-mini",
		"gpt-5-mini":  "gpt-5-mini",
	},
	"mistral": {
		"mistral-small": "mistral-small-latest",
		"mistral-large": "mistral-large-latest",
		"pixtral-large": "pixtral-large-latest",
	},
	"gemini": {
		"gemini-2.0-flash": "gemini-2.0-flash",
		"gemini-2.5-flash": "gemini-2.5-flash",
		"gemini-2.5-pro":   "gemini-2.5-pro",
	},
}

// APIsNoToolCalls lists APIs that reject tool definitions.
var APIsNoToolCalls = []string{"mistral"}

// Agent is an immutable agent configuration: identity, model routing,
// instructions and tools are fixed after construction, and every invocation
// assembles a fresh Request.
type Agent struct {
	name      string
	api       string
	model     string
	fallbacks []string

	prompts        []string
	tools          []map[string]any
	postProcessors []func(string) string

	provider Provider
}

// PromptSource loads one prompt: a literal string, or a file path with
// optional replacements applied after loading.
type PromptSource struct {
	Text    string
	Path    string
	Replace map[string]string
}

// New parses the model spec(s) and builds the agent. One spec selects its
// API directly; several specs route through OpenRouter with the tail as
// ordered fallbacks.
func New(name string, models ...string) (*Agent, error) {
	a := &Agent{name: name}

	switch len(models) {
	case 0:
		return nil, fmt.Errorf("agent %s: no model spec", name)
	case 1:
		spec := models[0]
		if !apiModelPattern.MatchString(spec) {
			return nil, fmt.Errorf("agent %s: invalid model spec %q", name, spec)
		}
		api, alias, _ := strings.Cut(spec, "/")
		if api == "openrouter" {
			a.api = "openrouter"
			a.model = alias
			break
		}
		aliases, ok := modelAliases[api]
		if !ok {
			return nil, fmt.Errorf("agent %s: unknown api %q", name, api)
		}
		model, ok := aliases[alias]
		if !ok {
			return nil, fmt.Errorf("agent %s: unknown model %q for api %q", name, alias, api)
		}
		a.api = api
		a.model = model
	default:
		for _, spec := range models {
			if !apiModelPattern.MatchString(spec) {
				return nil, fmt.Errorf("agent %s: invalid model spec %q", name, spec)
			}
		}
		a.api = "openrouter"
		a.model = models[0]
		a.fallbacks = models[1:]
	}
	return a, nil
}

func (a *Agent) Name() string  { return a.name }
func (a *Agent) API() string   { return a.api }
func (a *Agent) Model() string { return a.model }

// Bind attaches the provider the agent invokes. Must be called once before
// GetResponse.
func (a *Agent) Bind(p Provider) { a.provider = p }

// LoadPrompts resolves the sources in order and appends them to the
// instruction set.
func (a *Agent) LoadPrompts(sources ...PromptSource) error {
	for _, src := range sources {
		switch {
		case src.Text != "":
			a.prompts = append(a.prompts, src.Text)
		case src.Path != "":
			data, err := os.ReadFile(src.Path)
			if err != nil {
				return fmt.Errorf("agent %s: load prompt: %w", a.name, err)
			}
			prompt := string(data)
			for key, val := range src.Replace {
				prompt = strings.ReplaceAll(prompt, key, val)
			}
			a.prompts = append(a.prompts, prompt)
		default:
			return fmt.Errorf("agent %s: empty prompt source", a.name)
		}
	}
	return nil
}

// LoadTools appends tool schemas, refusing them up front when the primary
// API or any fallback cannot make tool calls.
func (a *Agent) LoadTools(schemas ...map[string]any) error {
	for _, denied := range APIsNoToolCalls {
		if a.api == denied {
			return fmt.Errorf("agent %s: %s api cannot make tool calls", a.name, denied)
		}
		for _, fallback := range a.fallbacks {
			if strings.Contains(fallback, denied) {
				return fmt.Errorf("agent %s: fallback %q cannot make tool calls", a.name, fallback)
			}
		}
	}
	a.tools = append(a.tools, schemas...)
	return nil
}

// LoadToolFiles reads JSON tool schema files; each file holds one schema
// object or a list of them.
func (a *Agent) LoadToolFiles(paths ...string) error {
	var schemas []map[string]any
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("agent %s: load tools: %w", a.name, err)
		}
		var one map[string]any
		if err := json.Unmarshal(data, &one); err == nil {
			schemas = append(schemas, one)
			continue
		}
		var many []map[string]any
		if err := json.Unmarshal(data, &many); err != nil {
			return fmt.Errorf("agent %s: tool file %s: invalid content", a.name, path)
		}
		schemas = append(schemas, many...)
	}
	return a.LoadTools(schemas...)
}

// AddPostProcessor registers a transformation applied to the final response
// text, in registration order.
func (a *Agent) AddPostProcessor(fn func(string) string) {
	a.postProcessors = append(a.postProcessors, fn)
}

// MergePrompts joins the instruction set with one blank line between
// prompts; a prompt already ending in a newline contributes it.
func (a *Agent) MergePrompts() string {
	if len(a.prompts) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, prompt := range a.prompts[:len(a.prompts)-1] {
		sb.WriteString(prompt)
		if strings.HasSuffix(prompt, "\n") {
			sb.WriteString("\n")
		} else {
			sb.WriteString("\n\n")
		}
	}
	sb.WriteString(a.prompts[len(a.prompts)-1])
	return sb.String()
}

// GetOpts tunes one invocation.
type GetOpts struct {
	LoadImages   bool
	ImageCache   map[string][]byte
	MaxTokens    int
	OutputJSON   bool
	OutputSchema map[string]any
	SchemaName   string
}

// GetResponse assembles the request, invokes the provider and records the
// invocation metadata on the normalized response. An empty response is
// returned as-is with a warning; the caller decides what to do with it.
func (a *Agent) GetResponse(ctx context.Context, transcript []caseflow.Message, opts GetOpts) (*AssistantContent, error) {
	if a.provider == nil {
		return nil, fmt.Errorf("agent %s: no provider bound", a.name)
	}
	if opts.LoadImages && len(opts.ImageCache) == 0 {
		return nil, fmt.Errorf("agent %s: image loading requested without an image cache", a.name)
	}
	if len(a.tools) > 0 && !a.provider.SupportsTools() {
		return nil, fmt.Errorf("agent %s: provider %s does not support tools", a.name, a.provider.Name())
	}

	instructions := a.MergePrompts()
	req := Request{
		Model:        a.model,
		Fallbacks:    a.fallbacks,
		System:       instructions,
		Context:      transcript,
		Tools:        a.tools,
		MaxTokens:    opts.MaxTokens,
		LoadImages:   opts.LoadImages,
		ImageCache:   opts.ImageCache,
		OutputJSON:   opts.OutputJSON,
		OutputSchema: opts.OutputSchema,
		SchemaName:   opts.SchemaName,
	}

	resp, err := a.provider.Invoke(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.name, err)
	}
	if resp == nil || resp.IsEmpty() {
		logrus.Warnf("[AGENT] %s: empty response from %s", a.name, a.api)
		return resp, nil
	}

	resp.Agent = a.name
	resp.API = a.api
	if resp.Model == "" {
		resp.Model = a.model
	}
	resp.Instructions = instructions
	resp.Tools = a.tools
	resp.Context = make([]string, 0, len(transcript))
	for _, msg := range transcript {
		resp.Context = append(resp.Context, msg.Base().ID)
	}

	if resp.Text != "" {
		for _, fn := range a.postProcessors {
			resp.Text = fn(resp.Text)
		}
	}
	return resp, nil
}
