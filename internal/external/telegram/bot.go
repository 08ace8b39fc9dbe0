// Package telegram implements the notification sink and the slash-command
// bot. Delivery failures are the caller's problem to absorb: every send
// returns an error but nothing here retries beyond the HTTP layer.
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/wonny/kairos/pkg/config"
	"github.com/wonny/kairos/pkg/httputil"
	"github.com/wonny/kairos/pkg/logger"
)

const (
	apiBase = "https://api.telegram.org"

	// 텔레그램 메시지 하드 리밋
	maxMessageLen = 4096
	maxCaptionLen = 1024

	// 분할 전송 간격: 순서 보장 겸 flood 제어
	chunkSpacing = 500 * time.Millisecond
)

// CommandHandler produces the reply text for one slash command.
type CommandHandler func(ctx context.Context) (string, error)

// Bot is the Telegram client: outbound sink plus inbound command loop.
type Bot struct {
	cfg        config.TelegramConfig
	httpClient *httputil.Client
	logger     *logger.Logger
	baseURL    string
	sleep      func(time.Duration)

	mu       sync.RWMutex
	handlers map[string]CommandHandler
}

// NewBot creates a Telegram bot. An empty token makes every send a no-op
// success so collection-only deployments run without a bot.
func NewBot(cfg config.TelegramConfig, httpClient *httputil.Client, log *logger.Logger) *Bot {
	return &Bot{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     log.WithComponent("telegram"),
		baseURL:    apiBase,
		sleep:      time.Sleep,
		handlers:   make(map[string]CommandHandler),
	}
}

// Enabled reports whether a bot token is configured.
func (b *Bot) Enabled() bool {
	return b.cfg.Token != "" && b.cfg.ChatID != ""
}

// RegisterCommand binds a slash command (e.g. "/status") to a handler.
func (b *Bot) RegisterCommand(command string, handler CommandHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[command] = handler
}

// SendText delivers a text message, splitting anything over the 4096-char
// limit into ordered chunks with a short gap between them.
func (b *Bot) SendText(ctx context.Context, text string) error {
	if !b.Enabled() {
		return nil
	}

	chunks := SplitMessage(text, maxMessageLen)
	for i, chunk := range chunks {
		if i > 0 {
			b.sleep(chunkSpacing)
		}
		if err := b.sendOne(ctx, chunk); err != nil {
			return fmt.Errorf("send chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

func (b *Bot) sendOne(ctx context.Context, text string) error {
	form := url.Values{}
	form.Set("chat_id", b.cfg.ChatID)
	form.Set("text", text)
	form.Set("parse_mode", "HTML")
	form.Set("disable_web_page_preview", "true")

	resp, err := b.httpClient.PostForm(ctx, b.methodURL("sendMessage"), form)
	if err != nil {
		return err
	}

	var tr apiResponse
	if err := httputil.ReadJSON(resp, &tr); err != nil {
		return err
	}
	if !tr.OK {
		return fmt.Errorf("telegram error %d: %s", tr.ErrorCode, tr.Description)
	}
	return nil
}

// SendPhoto delivers a PNG with a caption, truncated to the caption limit.
func (b *Bot) SendPhoto(ctx context.Context, png []byte, caption string) error {
	if !b.Enabled() {
		return nil
	}

	if len([]rune(caption)) > maxCaptionLen {
		caption = string([]rune(caption)[:maxCaptionLen])
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("chat_id", b.cfg.ChatID)
	_ = mw.WriteField("caption", caption)
	_ = mw.WriteField("parse_mode", "HTML")

	fw, err := mw.CreateFormFile("photo", "chart.png")
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, bytes.NewReader(png)); err != nil {
		return fmt.Errorf("write photo: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close form: %w", err)
	}

	resp, err := b.httpClient.Post(ctx, b.methodURL("sendPhoto"), mw.FormDataContentType(), &buf)
	if err != nil {
		return err
	}

	var tr apiResponse
	if err := httputil.ReadJSON(resp, &tr); err != nil {
		return err
	}
	if !tr.OK {
		return fmt.Errorf("telegram error %d: %s", tr.ErrorCode, tr.Description)
	}
	return nil
}

func (b *Bot) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", b.baseURL, b.cfg.Token, method)
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Result      struct {
		UpdateID int64 `json:"update_id"`
	} `json:"result"`
}

type updatesResponse struct {
	OK     bool `json:"ok"`
	Result []struct {
		UpdateID int64 `json:"update_id"`
		Message  struct {
			Text string `json:"text"`
			Chat struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
	} `json:"result"`
}

// RunCommandLoop long-polls getUpdates and dispatches registered slash
// commands until ctx is done. Unknown commands get a short usage reply.
func (b *Bot) RunCommandLoop(ctx context.Context) {
	if !b.Enabled() {
		return
	}

	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}

		updates, err := b.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.WithError(err).Warn("getUpdates failed")
			b.sleep(5 * time.Second)
			continue
		}

		for _, u := range updates.Result {
			offset = u.UpdateID + 1
			b.dispatch(ctx, u.Message.Text)
		}
	}
}

func (b *Bot) getUpdates(ctx context.Context, offset int64) (*updatesResponse, error) {
	u := fmt.Sprintf("%s?timeout=30&offset=%d", b.methodURL("getUpdates"), offset)
	resp, err := b.httpClient.Get(ctx, u)
	if err != nil {
		return nil, err
	}

	var ur updatesResponse
	if err := httputil.ReadJSON(resp, &ur); err != nil {
		return nil, err
	}
	return &ur, nil
}

func (b *Bot) dispatch(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	command := text
	if i := strings.IndexAny(command, " @"); i >= 0 {
		command = command[:i]
	}

	b.mu.RLock()
	handler, ok := b.handlers[command]
	b.mu.RUnlock()

	if !ok {
		b.mu.RLock()
		names := make([]string, 0, len(b.handlers))
		for name := range b.handlers {
			names = append(names, name)
		}
		b.mu.RUnlock()
		_ = b.SendText(ctx, "알 수 없는 명령입니다. 사용 가능: "+strings.Join(names, " "))
		return
	}

	reply, err := handler(ctx)
	if err != nil {
		b.logger.WithError(err).WithField("command", command).Warn("Command handler failed")
		reply = fmt.Sprintf("⚠️ %s 처리 실패: %v", command, err)
	}
	if err := b.SendText(ctx, reply); err != nil {
		b.logger.WithError(err).WithField("command", command).Warn("Command reply send failed")
	}
}

// SplitMessage breaks text into limit-sized chunks, preferring newline
// boundaries so formatted blocks stay readable. Limits are in runes
// because Telegram counts characters, not bytes.
func SplitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
		// 경계 개행은 다음 청크 머리에서 제거
		if len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
