// Package whatsapp models the Cloud API webhook payload: the envelope
// (entries, changes, value) and the inbound message variants with their
// accessors.
package whatsapp

import "strings"

// Payload is the top-level webhook body.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Value Value  `json:"value"`
	Field string `json:"field"`
}

// Value carries one batch of messages for one operator number.
type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
}

// Metadata identifies the operator (business) number the batch belongs to.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string   `json:"wa_id"`
	Profile *Profile `json:"profile,omitempty"`
}

type Profile struct {
	Name string `json:"name"`
}

// Name returns the profile name of the contact, if any.
func (c Contact) Name() string {
	if c.Profile == nil {
		return ""
	}
	return strings.TrimSpace(c.Profile.Name)
}

// Message is one inbound message. Exactly one of the typed payload fields is
// set, matching Type; unsupported types carry none.
type Message struct {
	Context     *Context     `json:"context,omitempty"`
	From        string       `json:"from"`
	ID          string       `json:"id"`
	Timestamp   string       `json:"timestamp"`
	Type        string       `json:"type"`
	Text        *Text        `json:"text,omitempty"`
	Interactive *Interactive `json:"interactive,omitempty"`
	Image       *Media       `json:"image,omitempty"`
	Video       *Media       `json:"video,omitempty"`
	Audio       *Media       `json:"audio,omitempty"`
	Sticker     *Media       `json:"sticker,omitempty"`
	Reaction    *Reaction    `json:"reaction,omitempty"`
	Errors      []ErrorData  `json:"errors,omitempty"`
}

// Context is present on replies and forwards.
type Context struct {
	From                string `json:"from,omitempty"`
	ID                  string `json:"id,omitempty"`
	Forwarded           bool   `json:"forwarded,omitempty"`
	FrequentlyForwarded bool   `json:"frequently_forwarded,omitempty"`
}

type Text struct {
	Body string `json:"body"`
}

// Interactive holds the user's reply to a button or list prompt.
type Interactive struct {
	Type        string  `json:"type"`
	ButtonReply *Option `json:"button_reply,omitempty"`
	ListReply   *Option `json:"list_reply,omitempty"`
}

// Option is a selectable id/title pair, shared by button and list replies.
type Option struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Choice returns the selected option regardless of the interactive flavor.
func (i *Interactive) Choice() *Option {
	if i == nil {
		return nil
	}
	switch i.Type {
	case "button_reply":
		return i.ButtonReply
	case "list_reply":
		return i.ListReply
	}
	if i.ButtonReply != nil {
		return i.ButtonReply
	}
	return i.ListReply
}

// Media is the common shape of image, video, audio and sticker payloads.
type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Voice    bool   `json:"voice,omitempty"`
	Animated bool   `json:"animated,omitempty"`
}

type Reaction struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type ErrorData struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
}

// MediaData returns the media payload matching Type, or nil for non-media
// messages.
func (m *Message) MediaData() *Media {
	switch m.Type {
	case "image":
		return m.Image
	case "video":
		return m.Video
	case "audio":
		return m.Audio
	case "sticker":
		return m.Sticker
	}
	return nil
}

// TextBody returns the plain text body, or "" for non-text messages.
func (m *Message) TextBody() string {
	if m.Text == nil {
		return ""
	}
	return m.Text.Body
}
