// Package telegram implements the Bot API transport: long polling for
// updates, message/photo sending, and file downloads.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tslm9/logostamp/internal/domain"
)

const defaultBaseURL = "https://api.telegram.org"

// maxDownloadBytes caps file downloads; the Bot API itself refuses to serve
// files over 20 MB, so anything larger is a protocol violation.
const maxDownloadBytes = 32 << 20

type Config struct {
	Token   string
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	httpClient *http.Client
	token      string
	baseURL    string
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("telegram client requires a bot token")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		token:      cfg.Token,
		baseURL:    baseURL,
	}, nil
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// Update is one long-poll result entry.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type Message struct {
	MessageID int64       `json:"message_id"`
	Chat      Chat        `json:"chat"`
	Text      string      `json:"text"`
	Photo     []PhotoSize `json:"photo"`
	Document  *Document   `json:"document"`
	Sticker   *Sticker    `json:"sticker"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type PhotoSize struct {
	FileID string `json:"file_id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type Document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MIMEType string `json:"mime_type"`
}

type Sticker struct {
	FileID     string `json:"file_id"`
	IsAnimated bool   `json:"is_animated"`
	IsVideo    bool   `json:"is_video"`
}

// GetUpdates long-polls for new updates after offset. pollSeconds is the
// server-side hold time; the HTTP client timeout must exceed it.
func (c *Client) GetUpdates(ctx context.Context, offset int64, pollSeconds int) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(pollSeconds))
	params.Set("allowed_updates", `["message"]`)

	raw, err := c.call(ctx, "getUpdates", params)
	if err != nil {
		return nil, err
	}

	var updates []Update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}

func (c *Client) SendText(ctx context.Context, userID int64, text string) error {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(userID, 10))
	params.Set("text", text)

	_, err := c.call(ctx, "sendMessage", params)
	return err
}

// SendImage uploads image bytes via multipart sendPhoto.
func (c *Client) SendImage(ctx context.Context, userID int64, image []byte, caption string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", strconv.FormatInt(userID, 10)); err != nil {
		return fmt.Errorf("write chat_id field: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("write caption field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("photo", "image.jpg")
	if err != nil {
		return fmt.Errorf("create photo part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return fmt.Errorf("write photo part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize multipart body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendPhoto", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return fmt.Errorf("build sendPhoto request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sendPhoto request: %w", err)
	}
	defer resp.Body.Close()

	if _, err := decodeAPIResponse(resp.Body); err != nil {
		return fmt.Errorf("sendPhoto: %w", err)
	}
	return nil
}

// Download resolves a file reference through getFile and fetches its bytes.
func (c *Client) Download(ctx context.Context, ref domain.FileRef) ([]byte, error) {
	params := url.Values{}
	params.Set("file_id", ref.ID)

	raw, err := c.call(ctx, "getFile", params)
	if err != nil {
		return nil, err
	}

	var file struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode file info: %w", err)
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("file %s has no download path", ref.ID)
	}

	endpoint := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status=%d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file body: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("file %s exceeds %d bytes", ref.ID, maxDownloadBytes)
	}
	return data, nil
}

func (c *Client) call(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := decodeAPIResponse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return raw, nil
}

func decodeAPIResponse(r io.Reader) (json.RawMessage, error) {
	var parsed apiResponse
	if err := json.NewDecoder(r).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !parsed.OK {
		if parsed.Description == "" {
			parsed.Description = "unknown error"
		}
		return nil, fmt.Errorf("api error: %s", parsed.Description)
	}
	return parsed.Result, nil
}
