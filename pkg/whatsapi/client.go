// Package whatsapi is the WhatsApp Cloud API client: media fetch, text,
// interactive and media sends, plus the outbound text formatting helpers.
package whatsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"

	"caseflow/domains/caseflow"
	"caseflow/domains/whatsapp"
)

// MaxTextLen is the Cloud API limit on one text body.
const MaxTextLen = 4096

// Client talks to one Cloud API deployment.
type Client struct {
	apiBase string
	token   string
	http    *http.Client
}

// OutgoingMedia is an upload-then-send media message.
type OutgoingMedia struct {
	Type     string
	Filename string
	Content  []byte
	Mime     string
	Caption  string
	UploadID string
}

// NewClient builds the client. apiBase is the versioned graph root, e.g.
// https://graph.facebook.com/v21.0.
func NewClient(apiBase, token string) *Client {
	return &Client{
		apiBase: apiBase,
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) url(parts ...string) string {
	u := c.apiBase
	for _, p := range parts {
		u += "/" + p
	}
	return u
}

func (c *Client) doJSON(ctx context.Context, method, url string, body any) (map[string]any, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	var result map[string]any
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Authorization", "Bearer "+c.token)
			if body != nil {
				req.Header.Set("Content-Type", "application/json")
			}

			resp, err := c.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode >= 500 {
				return fmt.Errorf("status %d: %s", resp.StatusCode, data)
			}
			if resp.StatusCode >= 400 {
				return retry.Unrecoverable(fmt.Errorf("status %d: %s", resp.StatusCode, data))
			}
			result = map[string]any{}
			if len(data) > 0 {
				if err := json.Unmarshal(data, &result); err != nil {
					return retry.Unrecoverable(fmt.Errorf("parse response: %w", err))
				}
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	return result, nil
}

// FetchMedia resolves a webhook media id to its download URL and fetches the
// bytes. The reported mime type wins over the webhook one when present.
func (c *Client) FetchMedia(ctx context.Context, media *whatsapp.Media) (*caseflow.MediaContent, error) {
	meta, err := c.doJSON(ctx, http.MethodGet, c.url(media.ID), nil)
	if err != nil {
		return nil, fmt.Errorf("media metadata %s: %w", media.ID, err)
	}
	mediaURL, _ := meta["url"].(string)
	if mediaURL == "" {
		return nil, fmt.Errorf("media %s: no download url in response", media.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media download %s: %w", media.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media download %s: status %d", media.ID, resp.StatusCode)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	mimeType := media.MimeType
	if ct, ok := meta["mime_type"].(string); ok && ct != "" {
		mimeType = ct
	}
	return &caseflow.MediaContent{Mime: mimeType, Content: content}, nil
}

// SendText posts text to one user, chunking oversized bodies by recursive
// halving so every part stays under the API limit.
func (c *Client) SendText(ctx context.Context, operatorID, toNumber, text string) error {
	for _, chunk := range SplitText(text, MaxTextLen) {
		payload := map[string]any{
			"messaging_product": "whatsapp",
			"to":                toNumber,
			"type":              "text",
			"text":              map[string]any{"body": chunk},
		}
		resp, err := c.doJSON(ctx, http.MethodPost, c.url(operatorID, "messages"), payload)
		if err != nil {
			return fmt.Errorf("send text: %w", err)
		}
		logrus.WithField("response", resp).Debug("[WHATSAPI] text sent")
	}
	return nil
}

// SendInteractive posts a button or list prompt.
func (c *Client) SendInteractive(ctx context.Context, operatorID, toNumber string, msg *caseflow.ServerInteractiveOptsMsg) error {
	interactive := map[string]any{"type": msg.Type}
	if msg.Header != "" {
		interactive["header"] = map[string]any{"type": "text", "text": msg.Header}
	}
	if msg.Body != "" {
		interactive["body"] = map[string]any{"text": msg.Body}
	}
	if msg.Footer != "" {
		interactive["footer"] = map[string]any{"text": msg.Footer}
	}

	switch msg.Type {
	case "button":
		buttons := make([]map[string]any, 0, len(msg.Options))
		for _, opt := range msg.Options {
			buttons = append(buttons, map[string]any{
				"type":  "reply",
				"reply": map[string]any{"id": opt.ID, "title": opt.Title},
			})
		}
		interactive["action"] = map[string]any{"buttons": buttons}
	case "list":
		rows := make([]map[string]any, 0, len(msg.Options))
		for _, opt := range msg.Options {
			row := map[string]any{"id": opt.ID, "title": opt.Title}
			if opt.Description != "" {
				row["description"] = opt.Description
			}
			rows = append(rows, row)
		}
		interactive["action"] = map[string]any{
			"button":   msg.Button,
			"sections": []map[string]any{{"rows": rows}},
		}
	default:
		return fmt.Errorf("send interactive: unsupported type %q", msg.Type)
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                toNumber,
		"type":              "interactive",
		"interactive":       interactive,
	}
	resp, err := c.doJSON(ctx, http.MethodPost, c.url(operatorID, "messages"), payload)
	if err != nil {
		return fmt.Errorf("send interactive: %w", err)
	}
	logrus.WithField("response", resp).Debug("[WHATSAPI] interactive sent")
	return nil
}

// SendMedia uploads the bytes, then sends a media message referencing the
// upload id.
func (c *Client) SendMedia(ctx context.Context, operatorID, toNumber string, media *OutgoingMedia) error {
	uploadID, err := c.UploadMedia(ctx, operatorID, media)
	if err != nil {
		return err
	}
	media.UploadID = uploadID

	body := map[string]any{"id": uploadID}
	if media.Caption != "" {
		body["caption"] = media.Caption
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                toNumber,
		"type":              media.Type,
		media.Type:          body,
	}
	resp, err := c.doJSON(ctx, http.MethodPost, c.url(operatorID, "messages"), payload)
	if err != nil {
		return fmt.Errorf("send media: %w", err)
	}
	logrus.WithField("response", resp).Debug("[WHATSAPI] media sent")
	return nil
}

// UploadMedia posts bytes to the media endpoint and returns the upload id.
func (c *Client) UploadMedia(ctx context.Context, operatorID string, media *OutgoingMedia) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", media.Filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(media.Content); err != nil {
		return "", err
	}
	if err := writer.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", err
	}
	if err := writer.WriteField("type", media.Mime); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(operatorID, "media"), &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload media: status %d: %s", resp.StatusCode, data)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("upload media: parse response: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("upload media: no id in response")
	}
	return result.ID, nil
}
