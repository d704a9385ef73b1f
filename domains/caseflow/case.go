package caseflow

import (
	"time"

	"caseflow/pkg/phonenum"
	"caseflow/pkg/stamps"
)

// Case lifecycle states.
const (
	StatusOpen     = "open"
	StatusResolved = "resolved"
	StatusTimeout  = "timeout"
)

// CaseIndex points at the user's open case, if any. It lives at the user
// root.
type CaseIndex struct {
	OpenCaseID *int `json:"open_case_id"`
}

// CaseManifest is the authoritative record of one case: lifecycle timestamps
// and the ordered ids of its messages.
type CaseManifest struct {
	CaseID          int      `json:"case_id"`
	Model           string   `json:"model,omitempty"`
	Status          string   `json:"status"`
	TimeOpened      string   `json:"time_opened"`
	TimeLastMessage string   `json:"time_last_message,omitempty"`
	TimeClosed      string   `json:"time_closed,omitempty"`
	MessageIDs      []string `json:"message_ids"`
}

// NewCaseManifest opens a manifest for caseID, stamped now.
func NewCaseManifest(caseID int) *CaseManifest {
	return &CaseManifest{
		CaseID:     caseID,
		Status:     StatusOpen,
		TimeOpened: stamps.NowUTCISO(),
		MessageIDs: []string{},
	}
}

// Append registers a message id, idempotently, and advances
// time_last_message to the newest of the message's created/received stamps
// and now, truncated to whole seconds.
func (m *CaseManifest) Append(msg Message) {
	base := msg.Base()
	known := false
	for _, id := range m.MessageIDs {
		if id == base.ID {
			known = true
			break
		}
	}
	if !known {
		m.MessageIDs = append(m.MessageIDs, base.ID)
	}

	latest := time.Now().UTC()
	if t, ok := stamps.Parse(base.TimeCreated); ok && t.After(latest) {
		latest = t
	}
	if t, ok := stamps.Parse(base.TimeReceived); ok && t.After(latest) {
		latest = t
	}
	m.TimeLastMessage = latest.Truncate(time.Second).Format(stamps.ISOSecondsLayout)
}

// Close stamps the terminal status. No-op when already closed.
func (m *CaseManifest) Close(status string) {
	if m.Status != StatusOpen {
		return
	}
	m.Status = status
	m.TimeClosed = stamps.NowUTCISO()
}

// LastActivity parses time_last_message, falling back to time_opened.
func (m *CaseManifest) LastActivity() (time.Time, bool) {
	if t, ok := stamps.Parse(m.TimeLastMessage); ok {
		return t, true
	}
	return stamps.Parse(m.TimeOpened)
}

// IsStale reports whether the case has been quiet longer than threshold.
func (m *CaseManifest) IsStale(threshold time.Duration, now time.Time) bool {
	last, ok := m.LastActivity()
	if !ok {
		return true
	}
	return now.Sub(last) > threshold
}

// UserData is the per-user profile document at the user root.
type UserData struct {
	UserID       string   `json:"user_id"`
	RegionCode   string   `json:"code_reg,omitempty"`
	LanguageCode string   `json:"code_lan,omitempty"`
	Country      string   `json:"country,omitempty"`
	Language     string   `json:"language,omitempty"`
	Names        []string `json:"names,omitempty"`
}

// NewUserData builds a profile from the WhatsApp id, resolving region and
// language from the phone prefix.
func NewUserData(userID string) *UserData {
	res := phonenum.Resolve(userID)
	return &UserData{
		UserID:       userID,
		RegionCode:   res.RegionCode,
		LanguageCode: res.LanguageCode,
		Country:      res.Country,
		Language:     res.Language,
	}
}

// AddName records a profile name once. Returns true when the document
// changed.
func (u *UserData) AddName(name string) bool {
	if name == "" {
		return false
	}
	for _, n := range u.Names {
		if n == name {
			return false
		}
	}
	u.Names = append(u.Names, name)
	return true
}
