package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notifier 定义告警输送接口。返回的 message id 供后续回复串联使用。
type Notifier interface {
	SendMessage(ctx context.Context, text string, replyTo *int64) (int64, error)
	SendPhoto(ctx context.Context, photo []byte, caption string, replyTo *int64) (int64, error)
}

// Telegram 通过 Telegram Bot API 推送消息与图片。
type Telegram struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegram 构造 Telegram 告警器。
func NewTelegram(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *Telegram {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// SendMessage 调用 sendMessage API 推送文本，返回 message id。
func (t *Telegram) SendMessage(ctx context.Context, text string, replyTo *int64) (int64, error) {
	payload := map[string]any{
		"chat_id": t.chatID,
		"text":    text,
	}
	if replyTo != nil {
		payload["reply_to_message_id"] = *replyTo
		payload["allow_sending_without_reply"] = true
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal telegram payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.methodURL("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return t.dispatch(req)
}

// SendPhoto 调用 sendPhoto API 推送图片附带文字说明，返回 message id。
func (t *Telegram) SendPhoto(ctx context.Context, photo []byte, caption string, replyTo *int64) (int64, error) {
	buf := &bytes.Buffer{}
	form := multipart.NewWriter(buf)

	if err := form.WriteField("chat_id", t.chatID); err != nil {
		return 0, fmt.Errorf("write telegram form: %w", err)
	}
	if caption != "" {
		if err := form.WriteField("caption", caption); err != nil {
			return 0, fmt.Errorf("write telegram form: %w", err)
		}
	}
	if replyTo != nil {
		_ = form.WriteField("reply_to_message_id", strconv.FormatInt(*replyTo, 10))
		_ = form.WriteField("allow_sending_without_reply", "true")
	}

	part, err := form.CreateFormFile("photo", "chart.png")
	if err != nil {
		return 0, fmt.Errorf("create telegram photo part: %w", err)
	}
	if _, err := part.Write(photo); err != nil {
		return 0, fmt.Errorf("write telegram photo: %w", err)
	}
	if err := form.Close(); err != nil {
		return 0, fmt.Errorf("close telegram form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.methodURL("sendPhoto"), buf)
	if err != nil {
		return 0, fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	return t.dispatch(req)
}

func (t *Telegram) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.botToken, method)
}

func (t *Telegram) dispatch(req *http.Request) (int64, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read telegram response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK     bool `json:"ok"`
		Result struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return 0, fmt.Errorf("decode telegram response: %w", err)
	}
	if !result.OK {
		return 0, fmt.Errorf("telegram 返回 ok=false")
	}

	t.logger.Debug().Int64("message_id", result.Result.MessageID).Msg("telegram 消息已发送")
	return result.Result.MessageID, nil
}

var _ Notifier = (*Telegram)(nil)
