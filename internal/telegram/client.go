// Package telegram is a minimal Telegram Bot API client covering what the
// channel poller and notifier need: long-poll updates, formatted sends,
// reaction acks, and attachment downloads.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxMessageLength = 4096

// Update is one entry from getUpdates.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is an incoming Telegram message.
type Message struct {
	MessageID int64       `json:"message_id"`
	Text      string      `json:"text"`
	Caption   string      `json:"caption"`
	Chat      Chat        `json:"chat"`
	From      *User       `json:"from"`
	Document  *Document   `json:"document"`
	Photo     []PhotoSize `json:"photo"`
	Voice     *Audio      `json:"voice"`
	Audio     *Audio      `json:"audio"`
	Video     *Video      `json:"video"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type User struct {
	ID int64 `json:"id"`
}

type Document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

type PhotoSize struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size"`
}

type Audio struct {
	FileID   string `json:"file_id"`
	MimeType string `json:"mime_type"`
}

type Video struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
}

type tgFile struct {
	FilePath string `json:"file_path"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

// Client calls the Bot API over HTTPS.
type Client struct {
	token      string
	apiBase    string // overridable for tests
	fileBase   string
	httpClient *http.Client
}

func NewClient(token string) *Client {
	return &Client{
		token:      token,
		apiBase:    "https://api.telegram.org/bot",
		fileBase:   "https://api.telegram.org/file/bot",
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
}

// GetUpdates long-polls for new updates at the given offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	body := map[string]any{
		"offset":  offset,
		"timeout": int(timeout.Seconds()),
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", body, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage sends text with Markdown-derived HTML formatting, splitting
// messages over Telegram's 4096-char limit at line boundaries. When the API
// rejects the HTML, the chunk is resent as plain text.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	for _, chunk := range splitMessage(text) {
		body := map[string]any{
			"chat_id":    chatID,
			"text":       MarkdownToHTML(chunk),
			"parse_mode": "HTML",
		}
		err := c.call(ctx, "sendMessage", body, nil)
		if err == nil {
			continue
		}
		if _, ok := err.(*apiError); !ok {
			return err
		}
		plain := map[string]any{"chat_id": chatID, "text": chunk}
		if err := c.call(ctx, "sendMessage", plain, nil); err != nil {
			return err
		}
	}
	return nil
}

// SetReaction sets an emoji reaction on a message.
func (c *Client) SetReaction(ctx context.Context, chatID string, messageID int64, emoji string) error {
	body := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"reaction":   []map[string]string{{"type": "emoji", "emoji": emoji}},
	}
	return c.call(ctx, "setMessageReaction", body, nil)
}

// DownloadFile fetches a file's bytes and its basename. Two steps: getFile
// for the path, then a GET against the file endpoint.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	var file tgFile
	if err := c.call(ctx, "getFile", map[string]any{"file_id": fileID}, &file); err != nil {
		return nil, "", err
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("telegram: empty file_path for file_id %s", fileID)
	}

	url := c.fileBase + c.token + "/" + file.FilePath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: create download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, "", fmt.Errorf("telegram: download file HTTP %d: %s", resp.StatusCode, string(body))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: read file body: %w", err)
	}

	parts := strings.Split(file.FilePath, "/")
	return data, parts[len(parts)-1], nil
}

// call posts JSON to a Bot API method and decodes the result envelope.
func (c *Client) call(ctx context.Context, method string, reqBody any, result any) error {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("telegram: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+c.token+"/"+method, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("telegram: read response: %w", err)
	}

	var envelope struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description,omitempty"`
		ErrorCode   int             `json:"error_code,omitempty"`
		Result      json.RawMessage `json:"result,omitempty"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("telegram: decode response: %w (body: %s)", err, string(respBody))
	}
	if !envelope.OK {
		return &apiError{Code: envelope.ErrorCode, Description: envelope.Description}
	}
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("telegram: decode result: %w", err)
		}
	}
	return nil
}

// apiError is a Telegram API error response (ok=false).
type apiError struct {
	Code        int
	Description string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("telegram API error %d: %s", e.Code, e.Description)
}

// splitMessage splits text into chunks under the message length limit,
// preferring line boundaries.
func splitMessage(text string) []string {
	if len(text) <= maxMessageLength {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > 0 {
		if len(remaining) <= maxMessageLength {
			chunks = append(chunks, remaining)
			break
		}
		window := remaining[:maxMessageLength]
		pos := strings.LastIndex(window, "\n")
		if pos == -1 {
			pos = maxMessageLength
		} else {
			pos++
		}
		chunks = append(chunks, remaining[:pos])
		remaining = remaining[pos:]
	}
	return chunks
}
