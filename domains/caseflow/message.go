// Package caseflow defines the persisted documents of a conversation case:
// the tagged message hierarchy, media descriptors, tool calls, the per-case
// manifest, the per-user case index and user data.
package caseflow

import (
	"encoding/json"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"caseflow/pkg/stamps"
)

// Basemodel tags. The tag is both the discriminator of stored documents and
// the suffix of derived message ids.
const (
	TagUserContent          = "UserContentMsg"
	TagUserInteractiveReply = "UserInteractiveReplyMsg"
	TagServerText           = "ServerTextMsg"
	TagServerInteractive    = "ServerInteractiveOptsMsg"
	TagAssistant            = "AssistantMsg"
	TagToolResults          = "ToolResultsMsg"
)

// Conversation roles as seen by the agent providers. Server messages travel
// on the user channel.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Interactive option caps imposed by the WhatsApp Cloud API.
const (
	MaxButtonOptions = 3
	MaxListOptions   = 10
)

// Message is the closed union of stored message variants. Implementations
// live in this package only.
type Message interface {
	Base() *MessageBase
	Tag() string
	Role() string
	sealed()
}

// MessageBase carries the fields every variant shares. Init fills the
// derived ones.
type MessageBase struct {
	Basemodel      string `json:"basemodel"`
	Origin         string `json:"origin,omitempty"`
	CaseID         int    `json:"case_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
	TimeCreated    string `json:"time_created,omitempty"`
	TimeReceived   string `json:"time_received"`
	ID             string `json:"id"`
}

func (b *MessageBase) Base() *MessageBase { return b }

// finalize fills discriminator, idempotency key, reception time and the
// derived id. Explicit values survive, so replayed documents keep their
// identity.
func (b *MessageBase) finalize(tag string) {
	b.Basemodel = tag
	if b.IdempotencyKey == "" {
		b.IdempotencyKey = stamps.NewUUID()
	}
	if b.TimeReceived == "" {
		b.TimeReceived = stamps.NowUTCISO()
	}
	if b.ID == "" {
		b.ID = stamps.MessageIDStem(b.TimeReceived) + "_" + tag
	}
}

// UserContentMsg is an inbound user message: text, media or both.
type UserContentMsg struct {
	MessageBase
	Text  string     `json:"text,omitempty"`
	Media *MediaData `json:"media,omitempty"`
}

func (m *UserContentMsg) Tag() string  { return TagUserContent }
func (m *UserContentMsg) Role() string { return RoleUser }
func (m *UserContentMsg) sealed()      {}

// Init derives identity and renames attached media to <id>.<ext>. A message
// with neither text nor media is rejected.
func (m *UserContentMsg) Init() error {
	m.finalize(TagUserContent)
	if strings.TrimSpace(m.Text) == "" && m.Media == nil {
		return fmt.Errorf("user content message %s: no text and no media", m.ID)
	}
	if m.Media != nil {
		m.Media.Name = m.ID + m.Media.Extension()
	}
	return nil
}

// UserInteractiveReplyMsg records the option a user picked.
type UserInteractiveReplyMsg struct {
	MessageBase
	Choice InteractiveOption `json:"choice"`
}

func (m *UserInteractiveReplyMsg) Tag() string  { return TagUserInteractiveReply }
func (m *UserInteractiveReplyMsg) Role() string { return RoleUser }
func (m *UserInteractiveReplyMsg) sealed()      {}

func (m *UserInteractiveReplyMsg) Init() error {
	m.finalize(TagUserInteractiveReply)
	return validation.ValidateStruct(&m.Choice,
		validation.Field(&m.Choice.ID, validation.Required),
		validation.Field(&m.Choice.Title, validation.Required),
	)
}

// AsText renders the choice for the agent transcript.
func (m *UserInteractiveReplyMsg) AsText() string {
	return fmt.Sprintf("[Selected option: %s (%s)]", m.Choice.Title, m.Choice.ID)
}

// ServerTextMsg is backend-originated text. UserEyes distinguishes text shown
// to the user from internal notes that only feed the agent.
type ServerTextMsg struct {
	MessageBase
	UserEyes bool   `json:"user_eyes"`
	Text     string `json:"text"`
}

func (m *ServerTextMsg) Tag() string  { return TagServerText }
func (m *ServerTextMsg) Role() string { return RoleUser }
func (m *ServerTextMsg) sealed()      {}

func (m *ServerTextMsg) Init() error {
	m.finalize(TagServerText)
	if strings.TrimSpace(m.Text) == "" {
		return fmt.Errorf("server text message %s: empty text", m.ID)
	}
	return nil
}

// ServerInteractiveOptsMsg is a button or list prompt sent to the user.
// Type is "button" (max 3 options) or "list" (max 10).
type ServerInteractiveOptsMsg struct {
	MessageBase
	UserEyes bool                `json:"user_eyes"`
	Type     string              `json:"type"`
	Header   string              `json:"header,omitempty"`
	Body     string              `json:"body"`
	Footer   string              `json:"footer,omitempty"`
	Button   string              `json:"button,omitempty"`
	Options  []InteractiveOption `json:"options"`
}

func (m *ServerInteractiveOptsMsg) Tag() string  { return TagServerInteractive }
func (m *ServerInteractiveOptsMsg) Role() string { return RoleUser }
func (m *ServerInteractiveOptsMsg) sealed()      {}

func (m *ServerInteractiveOptsMsg) Init() error {
	m.finalize(TagServerInteractive)
	if err := validation.ValidateStruct(m,
		validation.Field(&m.Type, validation.Required, validation.In("button", "list")),
		validation.Field(&m.Body, validation.Required),
		validation.Field(&m.Options, validation.Required),
	); err != nil {
		return err
	}
	limit := MaxButtonOptions
	if m.Type == "list" {
		limit = MaxListOptions
	}
	if len(m.Options) > limit {
		return fmt.Errorf("interactive %s message: %d options exceeds limit %d", m.Type, len(m.Options), limit)
	}
	for _, opt := range m.Options {
		if opt.ID == "" || opt.Title == "" {
			return fmt.Errorf("interactive %s message: option id and title are required", m.Type)
		}
	}
	return nil
}

// AsText renders the prompt and its options for the agent transcript.
func (m *ServerInteractiveOptsMsg) AsText() string {
	var sb strings.Builder
	if m.Header != "" {
		sb.WriteString(m.Header + "\n")
	}
	sb.WriteString(m.Body)
	if m.Footer != "" {
		sb.WriteString("\n" + m.Footer)
	}
	sb.WriteString("\nOptions:")
	for _, opt := range m.Options {
		sb.WriteString(fmt.Sprintf("\n- %s (%s)", opt.Title, opt.ID))
	}
	return sb.String()
}

// AssistantMsg is a normalized model response plus its invocation metadata.
type AssistantMsg struct {
	MessageBase
	Text         string           `json:"text,omitempty"`
	ToolCalls    []ToolCall       `json:"tool_calls,omitempty"`
	StOutput     map[string]any   `json:"st_output,omitempty"`
	StOutBM      string           `json:"st_out_bm,omitempty"`
	Agent        string           `json:"agent,omitempty"`
	API          string           `json:"api,omitempty"`
	Model        string           `json:"model,omitempty"`
	TokensInput  int              `json:"tokens_input,omitempty"`
	TokensOutput int              `json:"tokens_output,omitempty"`
	TokensTotal  int              `json:"tokens_total,omitempty"`
	Instructions string           `json:"instructions,omitempty"`
	Tools        []map[string]any `json:"tools,omitempty"`
	Context      []string         `json:"context,omitempty"`
}

func (m *AssistantMsg) Tag() string  { return TagAssistant }
func (m *AssistantMsg) Role() string { return RoleAssistant }
func (m *AssistantMsg) sealed()      {}

// IsEmpty reports whether the response carries nothing usable.
func (m *AssistantMsg) IsEmpty() bool {
	return strings.TrimSpace(m.Text) == "" && len(m.ToolCalls) == 0 && len(m.StOutput) == 0
}

func (m *AssistantMsg) Init() error {
	m.finalize(TagAssistant)
	if m.IsEmpty() {
		return fmt.Errorf("assistant message %s: empty response", m.ID)
	}
	return nil
}

// AppendText joins an extra block with a blank line.
func (m *AssistantMsg) AppendText(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	if m.Text == "" {
		m.Text = block
		return
	}
	m.Text = m.Text + "\n\n" + block
}

// ToolResultsMsg carries the outputs of executed tool calls back into the
// transcript.
type ToolResultsMsg struct {
	MessageBase
	ToolResults []ToolResult `json:"tool_results"`
}

func (m *ToolResultsMsg) Tag() string  { return TagToolResults }
func (m *ToolResultsMsg) Role() string { return RoleTool }
func (m *ToolResultsMsg) sealed()      {}

func (m *ToolResultsMsg) Init() error {
	m.finalize(TagToolResults)
	if len(m.ToolResults) == 0 {
		return fmt.Errorf("tool results message %s: no results", m.ID)
	}
	return nil
}

// InteractiveOption is a selectable id/title pair.
type InteractiveOption struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ToolCall is one function invocation requested by the model.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

// ToolResult is the outcome of one executed tool call.
type ToolResult struct {
	ID      string `json:"id"`
	Content any    `json:"content"`
	Error   bool   `json:"error,omitempty"`
}

// DecodeMessage resolves a stored document by its basemodel tag. Unknown or
// missing tags yield (nil, nil) so a case with foreign documents stays
// usable.
func DecodeMessage(data []byte) (Message, error) {
	var probe struct {
		Basemodel string `json:"basemodel"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	var msg Message
	switch probe.Basemodel {
	case TagUserContent:
		msg = &UserContentMsg{}
	case TagUserInteractiveReply:
		msg = &UserInteractiveReplyMsg{}
	case TagServerText:
		msg = &ServerTextMsg{}
	case TagServerInteractive:
		msg = &ServerInteractiveOptsMsg{}
	case TagAssistant:
		msg = &AssistantMsg{}
	case TagToolResults:
		msg = &ToolResultsMsg{}
	default:
		return nil, nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", probe.Basemodel, err)
	}
	return msg, nil
}
