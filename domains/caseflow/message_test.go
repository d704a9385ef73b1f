package caseflow

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserContentMsgInit(t *testing.T) {
	msg := &UserContentMsg{
		MessageBase: MessageBase{
			Origin:       "whatsapp",
			TimeReceived: "2026-08-25T12:34:56.789012Z",
		},
		Text: "hello",
	}
	require.NoError(t, msg.Init())

	assert.Equal(t, TagUserContent, msg.Basemodel)
	assert.Equal(t, "2026-08-25_12-34-56-789012_UserContentMsg", msg.ID)
	assert.NotEmpty(t, msg.IdempotencyKey)
	assert.Equal(t, RoleUser, msg.Role())
}

func TestUserContentMsgRejectsEmpty(t *testing.T) {
	msg := &UserContentMsg{}
	assert.Error(t, msg.Init())
}

func TestUserContentMsgMediaRename(t *testing.T) {
	msg := &UserContentMsg{
		MessageBase: MessageBase{TimeReceived: "2026-08-25T09:00:00.000000Z"},
		Media:       &MediaData{Mime: "image/jpeg"},
	}
	require.NoError(t, msg.Init())
	assert.Equal(t, msg.ID+".jpeg", msg.Media.Name)
}

func TestInteractiveReplyValidation(t *testing.T) {
	msg := &UserInteractiveReplyMsg{Choice: InteractiveOption{ID: "a", Title: "A"}}
	require.NoError(t, msg.Init())
	assert.Equal(t, "[Selected option: A (a)]", msg.AsText())

	bad := &UserInteractiveReplyMsg{Choice: InteractiveOption{ID: "a"}}
	assert.Error(t, bad.Init())
}

func TestServerTextMsgRejectsEmpty(t *testing.T) {
	msg := &ServerTextMsg{Text: "   "}
	assert.Error(t, msg.Init())

	ok := &ServerTextMsg{Text: "backend note", UserEyes: false}
	require.NoError(t, ok.Init())
	assert.Equal(t, RoleUser, ok.Role())
}

func makeOptions(n int) []InteractiveOption {
	opts := make([]InteractiveOption, n)
	for i := range opts {
		opts[i] = InteractiveOption{ID: fmt.Sprintf("opt-%d", i), Title: fmt.Sprintf("Option %d", i)}
	}
	return opts
}

func TestServerInteractiveOptionCaps(t *testing.T) {
	btn := &ServerInteractiveOptsMsg{Type: "button", Body: "Pick", Options: makeOptions(3)}
	require.NoError(t, btn.Init())

	over := &ServerInteractiveOptsMsg{Type: "button", Body: "Pick", Options: makeOptions(4)}
	assert.Error(t, over.Init())

	lst := &ServerInteractiveOptsMsg{Type: "list", Button: "Menu", Body: "Pick", Options: makeOptions(10)}
	require.NoError(t, lst.Init())

	overList := &ServerInteractiveOptsMsg{Type: "list", Button: "Menu", Body: "Pick", Options: makeOptions(11)}
	assert.Error(t, overList.Init())

	badType := &ServerInteractiveOptsMsg{Type: "carousel", Body: "Pick", Options: makeOptions(2)}
	assert.Error(t, badType.Init())
}

func TestServerInteractiveAsText(t *testing.T) {
	msg := &ServerInteractiveOptsMsg{
		Type: "button", Header: "Hi", Body: "Pick one", Footer: "thanks",
		Options: []InteractiveOption{{ID: "y", Title: "Yes"}, {ID: "n", Title: "No"}},
	}
	require.NoError(t, msg.Init())
	text := msg.AsText()
	assert.Contains(t, text, "Pick one")
	assert.Contains(t, text, "- Yes (y)")
	assert.Contains(t, text, "- No (n)")
}

func TestAssistantMsg(t *testing.T) {
	empty := &AssistantMsg{}
	assert.True(t, empty.IsEmpty())
	assert.Error(t, empty.Init())

	msg := &AssistantMsg{Text: "answer", Model: "gpt-4o-mini", API: "openai"}
	require.NoError(t, msg.Init())
	assert.Equal(t, RoleAssistant, msg.Role())

	msg.AppendText("more")
	assert.Equal(t, "answer\n\nmore", msg.Text)
	msg.AppendText("   ")
	assert.Equal(t, "answer\n\nmore", msg.Text)

	calls := &AssistantMsg{ToolCalls: []ToolCall{{ID: "c1", Name: "lookup"}}}
	require.NoError(t, calls.Init())
	assert.False(t, calls.IsEmpty())
}

func TestToolResultsMsg(t *testing.T) {
	empty := &ToolResultsMsg{}
	assert.Error(t, empty.Init())

	msg := &ToolResultsMsg{ToolResults: []ToolResult{{ID: "c1", Content: map[string]any{"ok": true}}}}
	require.NoError(t, msg.Init())
	assert.Equal(t, RoleTool, msg.Role())
}

func TestDecodeMessageRoundTrip(t *testing.T) {
	variants := []Message{
		&UserContentMsg{Text: "hi"},
		&UserInteractiveReplyMsg{Choice: InteractiveOption{ID: "a", Title: "A"}},
		&ServerTextMsg{Text: "note", UserEyes: true},
		&ServerInteractiveOptsMsg{Type: "button", Body: "Pick", Options: makeOptions(2)},
		&AssistantMsg{Text: "answer"},
		&ToolResultsMsg{ToolResults: []ToolResult{{ID: "c1", Content: "done"}}},
	}
	for _, v := range variants {
		switch m := v.(type) {
		case *UserContentMsg:
			require.NoError(t, m.Init())
		case *UserInteractiveReplyMsg:
			require.NoError(t, m.Init())
		case *ServerTextMsg:
			require.NoError(t, m.Init())
		case *ServerInteractiveOptsMsg:
			require.NoError(t, m.Init())
		case *AssistantMsg:
			require.NoError(t, m.Init())
		case *ToolResultsMsg:
			require.NoError(t, m.Init())
		}

		data, err := json.Marshal(v)
		require.NoError(t, err)

		decoded, err := DecodeMessage(data)
		require.NoError(t, err)
		require.NotNil(t, decoded, v.Tag())
		assert.Equal(t, v.Tag(), decoded.Tag())
		assert.Equal(t, v.Base().ID, decoded.Base().ID)
	}
}

func TestDecodeMessageUnknownTag(t *testing.T) {
	decoded, err := DecodeMessage([]byte(`{"basemodel":"SomethingElse","id":"x"}`))
	require.NoError(t, err)
	assert.Nil(t, decoded)

	_, err = DecodeMessage([]byte(`not json`))
	assert.Error(t, err)
}
