// Package usecase holds the conversation services: the per-user case
// handler driving the lifecycle on the object store, and the agent hooks
// that generate replies.
package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"caseflow/domains/caseflow"
	"caseflow/domains/whatsapp"
	"caseflow/infrastructure/bucket"
	"caseflow/pkg/stamps"
)

// Defaults for the case lifecycle.
const (
	DefaultMaxContextLen  = 20
	DefaultStaleThreshold = 48 * time.Hour
)

// Sender delivers outbound messages to the user. *whatsapi.Client implements
// it; tests fake it.
type Sender interface {
	SendText(ctx context.Context, operatorID, toNumber, text string) error
	SendInteractive(ctx context.Context, operatorID, toNumber string, msg *caseflow.ServerInteractiveOptsMsg) error
}

// StateMachine consumes the context stream, rebuilt on every context build
// and fed each new message.
type StateMachine interface {
	Reset()
	Ingest(msg caseflow.Message)
}

// Hooks supply the business half of the handler: what to do with an
// ingested message, and how to produce replies. They are injected, not
// inherited, so one handler type serves any conversation flow.
type Hooks interface {
	// ProcessMessage handles one inbound webhook message. Returns true when
	// a response pass should be scheduled.
	ProcessMessage(ctx context.Context, h *CaseHandler, msg *whatsapp.Message, media *caseflow.MediaContent) (bool, error)
	// GenerateResponse produces one reply pass. Returns true when another
	// pass is required (pending tool calls).
	GenerateResponse(ctx context.Context, h *CaseHandler, maxTokens int) (bool, error)
}

// Config tunes one handler instance.
type Config struct {
	MaxContextLen  int
	StaleThreshold time.Duration
	Debug          bool
	LockOpts       []bucket.LockOption
}

func (c Config) withDefaults() Config {
	if c.MaxContextLen <= 0 {
		c.MaxContextLen = DefaultMaxContextLen
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = DefaultStaleThreshold
	}
	return c
}

// CaseHandler owns the case lifecycle for one (operator, user) pair: user
// data, case decision, context, dedup ingestion and send routing.
type CaseHandler struct {
	OperatorNum string
	OperatorID  string
	UserID      string
	UserName    string

	UserData *caseflow.UserData
	CaseID   int
	Manifest *caseflow.CaseManifest
	Context  []caseflow.Message

	cfg      Config
	store    bucket.ObjectStore
	storage  *bucket.Storage
	sender   Sender
	hooks    Hooks
	machine  StateMachine
	userRoot string
}

// NewCaseHandler scopes a handler to the webhook's operator metadata and
// contact, loading (or creating) the user profile.
func NewCaseHandler(ctx context.Context, store bucket.ObjectStore, sender Sender, operator whatsapp.Metadata, user whatsapp.Contact, cfg Config) (*CaseHandler, error) {
	h := &CaseHandler{
		OperatorNum: operator.DisplayPhoneNumber,
		OperatorID:  operator.PhoneNumberID,
		UserID:      user.WaID,
		UserName:    user.Name(),
		cfg:         cfg.withDefaults(),
		store:       store,
		sender:      sender,
	}
	h.storage = bucket.NewStorage(store, h.OperatorID, h.UserID)
	h.userRoot = h.storage.DirUser()

	if err := h.UserDataLookup(ctx); err != nil {
		return nil, fmt.Errorf("case handler: %w", err)
	}
	return h, nil
}

// SetHooks injects the business hooks.
func (h *CaseHandler) SetHooks(hooks Hooks) { h.hooks = hooks }

// SetStateMachine attaches an optional state machine fed from the context.
func (h *CaseHandler) SetStateMachine(m StateMachine) { h.machine = m }

// Storage exposes the scoped storage for hooks.
func (h *CaseHandler) Storage() *bucket.Storage { return h.storage }

func (h *CaseHandler) withLock(ctx context.Context, fn func() error) error {
	return bucket.WithLock(ctx, h.store, h.userRoot, fn, h.cfg.LockOpts...)
}

// UserDataLookup loads the profile, or derives a fresh one from the phone
// prefix, and records a new profile name. Changes persist under the lock.
func (h *CaseHandler) UserDataLookup(ctx context.Context) error {
	changed := false

	var data caseflow.UserData
	found, err := h.storage.JSONRead(ctx, h.storage.PathUserData(), &data)
	if err != nil {
		return err
	}
	if found {
		h.UserData = &data
	} else {
		h.UserData = caseflow.NewUserData(h.UserID)
		changed = true
	}

	if h.UserData.AddName(h.UserName) {
		changed = true
	}

	if changed {
		return h.withLock(ctx, func() error {
			return h.storage.JSONWrite(ctx, h.storage.PathUserData(), h.UserData)
		})
	}
	return nil
}

// CaseDecide resolves the active case: continue the indexed open case when
// it is still open and fresh, otherwise open a new one. A stale open case is
// closed as timeout first.
func (h *CaseHandler) CaseDecide(ctx context.Context) error {
	var index caseflow.CaseIndex
	if _, err := h.storage.JSONRead(ctx, h.storage.PathCaseIndex(), &index); err != nil {
		return err
	}

	if index.OpenCaseID == nil || *index.OpenCaseID <= 0 {
		return h.CaseOpenNew(ctx)
	}

	if err := h.storage.SetCaseID(*index.OpenCaseID); err != nil {
		return err
	}
	manifest, err := h.storage.ManifestLoad(ctx)
	if err != nil {
		return err
	}
	if manifest == nil || manifest.Status != caseflow.StatusOpen {
		return h.CaseOpenNew(ctx)
	}

	if manifest.IsStale(h.cfg.StaleThreshold, time.Now().UTC()) {
		manifest.Close(caseflow.StatusTimeout)
		if err := h.storage.ManifestWrite(ctx, manifest); err != nil {
			return err
		}
		logrus.Infof("[CASE] %s/%s: case %d timed out", h.OperatorID, h.UserID, manifest.CaseID)
		return h.CaseOpenNew(ctx)
	}

	h.CaseID = manifest.CaseID
	h.Manifest = manifest
	return nil
}

// CaseOpenNew allocates the next case id, writes a fresh manifest and points
// the index at it.
func (h *CaseHandler) CaseOpenNew(ctx context.Context) error {
	caseID, err := h.storage.NextCaseID(ctx)
	if err != nil {
		return err
	}
	if err := h.storage.SetCaseID(caseID); err != nil {
		return err
	}

	manifest := caseflow.NewCaseManifest(caseID)
	if err := h.storage.ManifestWrite(ctx, manifest); err != nil {
		return err
	}
	if err := h.setOpenCaseID(ctx, &caseID); err != nil {
		return err
	}

	h.CaseID = caseID
	h.Manifest = manifest
	logrus.Infof("[CASE] %s/%s: opened case %d", h.OperatorID, h.UserID, caseID)
	return nil
}

// CaseMarkResolved closes the active case and clears the open-case index.
func (h *CaseHandler) CaseMarkResolved(ctx context.Context) error {
	if h.Manifest == nil {
		return fmt.Errorf("case handler: no active case to resolve")
	}
	h.Manifest.Close(caseflow.StatusResolved)
	if err := h.storage.ManifestWrite(ctx, h.Manifest); err != nil {
		return err
	}
	if err := h.setOpenCaseID(ctx, nil); err != nil {
		return err
	}
	logrus.Infof("[CASE] %s/%s: case %d resolved", h.OperatorID, h.UserID, h.CaseID)
	return nil
}

func (h *CaseHandler) setOpenCaseID(ctx context.Context, caseID *int) error {
	return h.storage.JSONWrite(ctx, h.storage.PathCaseIndex(), caseflow.CaseIndex{OpenCaseID: caseID})
}

// ContextBuild loads the manifest's messages in order, sorted by creation
// then reception time, optionally truncated to the newest MaxContextLen, and
// replays them into the state machine.
func (h *CaseHandler) ContextBuild(ctx context.Context, truncate bool) error {
	if h.CaseID == 0 || h.Manifest == nil {
		if err := h.CaseDecide(ctx); err != nil {
			return err
		}
	}

	h.Context = h.Context[:0]
	for _, msgID := range h.Manifest.MessageIDs {
		msg, err := h.storage.MessageRead(ctx, msgID)
		if err != nil {
			return err
		}
		if msg != nil {
			h.Context = append(h.Context, msg)
		}
	}

	sort.SliceStable(h.Context, func(i, j int) bool {
		ci, cj := contextSortKey(h.Context[i]), contextSortKey(h.Context[j])
		if !ci.primary.Equal(cj.primary) {
			return ci.primary.Before(cj.primary)
		}
		return ci.secondary.Before(cj.secondary)
	})

	if truncate && len(h.Context) > h.cfg.MaxContextLen {
		h.Context = h.Context[len(h.Context)-h.cfg.MaxContextLen:]
	}

	if h.machine != nil {
		h.machine.Reset()
		for _, msg := range h.Context {
			h.machine.Ingest(msg)
		}
	}
	return nil
}

type sortKey struct {
	primary   time.Time
	secondary time.Time
}

func contextSortKey(msg caseflow.Message) sortKey {
	base := msg.Base()
	received, _ := stamps.Parse(base.TimeReceived)
	created, ok := stamps.Parse(base.TimeCreated)
	if !ok {
		created = received
	}
	return sortKey{primary: created, secondary: received}
}

// ContextUpdate persists one message atomically: document write, manifest
// append, then the dedup marker, all inside one lock scope so a crash before
// the append leaves no marker and the message is re-ingested.
func (h *CaseHandler) ContextUpdate(ctx context.Context, msg caseflow.Message) error {
	if h.Manifest == nil {
		return fmt.Errorf("case handler: no active case for context update")
	}

	err := h.withLock(ctx, func() error {
		if err := h.storage.MessageWrite(ctx, msg); err != nil {
			return err
		}
		// Re-read under the lock so appends by concurrent writers survive.
		stored, err := h.storage.ManifestLoad(ctx)
		if err != nil {
			return err
		}
		if stored != nil {
			h.Manifest = stored
		}
		if err := h.storage.ManifestAppend(ctx, h.Manifest, msg); err != nil {
			return err
		}
		if key := msg.Base().IdempotencyKey; key != "" {
			return h.storage.DedupWrite(ctx, key)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if h.Context != nil {
		h.Context = append(h.Context, msg)
	}
	if h.machine != nil {
		h.machine.Ingest(msg)
	}
	return nil
}

// DedupAndIngest converts a webhook message into a domain message and
// persists it. Duplicates (by wamid) and unsupported types yield (nil, nil).
func (h *CaseHandler) DedupAndIngest(ctx context.Context, message *whatsapp.Message, media *caseflow.MediaContent) (caseflow.Message, error) {
	seen, err := h.storage.DedupExists(ctx, message.ID)
	if err != nil {
		return nil, err
	}
	if seen {
		logrus.Debugf("[CASE] %s/%s: duplicate %s skipped", h.OperatorID, h.UserID, message.ID)
		return nil, nil
	}
	if err := h.CaseDecide(ctx); err != nil {
		return nil, err
	}

	base := caseflow.MessageBase{
		Origin:         "CaseHandler/DedupAndIngest",
		CaseID:         h.CaseID,
		IdempotencyKey: message.ID,
		TimeCreated:    stamps.UnixToISO(message.Timestamp),
	}

	var msg caseflow.Message
	switch {
	case message.TextBody() != "" || message.MediaData() != nil:
		content := &caseflow.UserContentMsg{MessageBase: base, Text: message.TextBody()}
		if md := message.MediaData(); md != nil {
			if content.Text == "" {
				content.Text = md.Caption
			}
			if media != nil {
				content.Media = media.Describe()
			}
		}
		if err := content.Init(); err != nil {
			return nil, err
		}
		msg = content

	case message.Interactive.Choice() != nil:
		choice := message.Interactive.Choice()
		reply := &caseflow.UserInteractiveReplyMsg{
			MessageBase: base,
			Choice: caseflow.InteractiveOption{
				ID:          choice.ID,
				Title:       choice.Title,
				Description: choice.Description,
			},
		}
		if err := reply.Init(); err != nil {
			return nil, err
		}
		msg = reply

	default:
		logrus.Debugf("[CASE] %s/%s: unsupported message type %q ignored", h.OperatorID, h.UserID, message.Type)
		return nil, nil
	}

	if err := h.ContextUpdate(ctx, msg); err != nil {
		return nil, err
	}

	if content, ok := msg.(*caseflow.UserContentMsg); ok && content.Media != nil && media != nil {
		err := h.withLock(ctx, func() error {
			return h.storage.MediaWrite(ctx, content.Media, media)
		})
		if err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// Outbound debug envelopes. Tool traffic only reaches the user in debug
// mode, capped at the WhatsApp text limit.
const (
	maxOutboundRunes   = 4096
	tooLongPlaceholder = "[Result too long to display here]"
)

// SendMessage persists an outbound message and delivers its user-visible
// part. In debug mode assistant text is prefixed and tool traffic is echoed
// to the chat.
func (h *CaseHandler) SendMessage(ctx context.Context, msg caseflow.Message) error {
	if err := h.ContextUpdate(ctx, msg); err != nil {
		return err
	}
	return h.deliver(ctx, msg)
}

func (h *CaseHandler) deliver(ctx context.Context, msg caseflow.Message) error {
	if h.sender == nil {
		return nil
	}

	switch m := msg.(type) {
	case *caseflow.ServerTextMsg:
		if !m.UserEyes {
			return nil
		}
		text := m.Text
		if h.cfg.Debug {
			text = "📝 " + text
		}
		return h.sender.SendText(ctx, h.OperatorID, h.UserID, text)

	case *caseflow.ServerInteractiveOptsMsg:
		if !m.UserEyes {
			return nil
		}
		out := m
		if h.cfg.Debug {
			clone := *m
			clone.Body = "📝 " + clone.Body
			out = &clone
		}
		return h.sender.SendInteractive(ctx, h.OperatorID, h.UserID, out)

	case *caseflow.AssistantMsg:
		if m.Text != "" {
			text := m.Text
			if h.cfg.Debug {
				text = "📝 " + text
			}
			if err := h.sender.SendText(ctx, h.OperatorID, h.UserID, text); err != nil {
				return err
			}
		}
		if h.cfg.Debug {
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Input)
				line := fmt.Sprintf("🔧 Tool call: %s(%s)", tc.Name, capOutbound(string(args)))
				if err := h.sender.SendText(ctx, h.OperatorID, h.UserID, line); err != nil {
					return err
				}
			}
		}
		return nil

	case *caseflow.ToolResultsMsg:
		if !h.cfg.Debug {
			return nil
		}
		for _, tr := range m.ToolResults {
			body, _ := json.Marshal(tr.Content)
			line := fmt.Sprintf("📊 Tool result: %s", capOutbound(string(body)))
			if err := h.sender.SendText(ctx, h.OperatorID, h.UserID, line); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

func capOutbound(s string) string {
	if utf8.RuneCountInString(s) > maxOutboundRunes {
		return tooLongPlaceholder
	}
	return s
}

// ProcessMessage runs the injected hook; without hooks it ingests the
// message and schedules a response pass when something new arrived.
func (h *CaseHandler) ProcessMessage(ctx context.Context, message *whatsapp.Message, media *caseflow.MediaContent) (bool, error) {
	if h.hooks != nil {
		return h.hooks.ProcessMessage(ctx, h, message, media)
	}
	msg, err := h.DedupAndIngest(ctx, message, media)
	if err != nil {
		return false, err
	}
	return msg != nil, nil
}

// GenerateResponse runs the injected hook. Without hooks there is nothing to
// generate.
func (h *CaseHandler) GenerateResponse(ctx context.Context, maxTokens int) (bool, error) {
	if h.hooks == nil {
		return false, nil
	}
	return h.hooks.GenerateResponse(ctx, h, maxTokens)
}
