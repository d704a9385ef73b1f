package validations

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"caseflow/domains/whatsapp"
)

// ValidateWebhookPayload rejects malformed webhook bodies before any handler
// work starts. Payloads without messages are valid (status-only webhooks).
func ValidateWebhookPayload(p *whatsapp.Payload) error {
	if p == nil {
		return fmt.Errorf("payload is nil")
	}
	if err := validation.ValidateStruct(p,
		validation.Field(&p.Object, validation.Required, validation.In("whatsapp_business_account")),
		validation.Field(&p.Entry, validation.Required),
	); err != nil {
		return err
	}
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if err := validateValue(&change.Value); err != nil {
				return fmt.Errorf("entry %s: %w", entry.ID, err)
			}
		}
	}
	return nil
}

func validateValue(v *whatsapp.Value) error {
	if err := validation.ValidateStruct(&v.Metadata,
		validation.Field(&v.Metadata.PhoneNumberID, validation.Required),
	); err != nil {
		return err
	}
	for _, msg := range v.Messages {
		if err := ValidateWebhookMessage(&msg); err != nil {
			return err
		}
	}
	return nil
}

// ValidateWebhookMessage checks the invariants of one inbound message: the
// identity fields and the payload matching the declared type.
func ValidateWebhookMessage(m *whatsapp.Message) error {
	if err := validation.ValidateStruct(m,
		validation.Field(&m.From, validation.Required),
		validation.Field(&m.ID, validation.Required),
		validation.Field(&m.Timestamp, validation.Required),
		validation.Field(&m.Type, validation.Required),
	); err != nil {
		return err
	}

	switch m.Type {
	case "text":
		if m.Text == nil {
			return fmt.Errorf("message %s: text payload missing", m.ID)
		}
	case "interactive":
		if m.Interactive == nil || m.Interactive.Choice() == nil {
			return fmt.Errorf("message %s: interactive payload missing", m.ID)
		}
	case "image", "video", "audio", "sticker":
		if m.MediaData() == nil {
			return fmt.Errorf("message %s: %s payload missing", m.ID, m.Type)
		}
	case "reaction":
		if m.Reaction == nil {
			return fmt.Errorf("message %s: reaction payload missing", m.ID)
		}
	}
	return nil
}
