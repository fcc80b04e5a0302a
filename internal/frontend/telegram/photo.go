package telegram

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/teleclaude/teleclaude/internal/session"
)

const photoDownloadTimeout = 30 * time.Second

// photoMimeType covers every Telegram photo: the Bot API recompresses
// uploads to JPEG.
const photoMimeType = "image/jpeg"

// handlePhoto downloads an incoming photo and forwards it to the agent as a
// data URI embedded in the query, with the caption ahead of it.
func (b *Bot) handlePhoto(ctx context.Context, sess *session.Session, msg *tgbotapi.Message) {
	d := b.dispatcher()
	if d == nil {
		return
	}

	data, err := b.downloadPhoto(ctx, largestPhoto(msg.Photo).FileID)
	if err != nil {
		b.logger.Warn("photo download failed", zap.Error(err))
		b.reply("❌ Failed to download image")
		return
	}
	b.logger.Info("photo downloaded", zap.Int("bytes", len(data)))

	b.reply("📸 Image received, analyzing...")
	d.HandleMessage(ctx, sess, imageQuery(msg.Caption, data, photoMimeType))
}

// largestPhoto picks the highest-resolution size variant.
func largestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best
}

func (b *Bot) downloadPhoto(ctx context.Context, fileID string) ([]byte, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, photoDownloadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, file.Link(b.api.Token), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// imageQuery builds the agent query for a photo. The CLI accepts images as
// data URIs inside a plain text prompt.
func imageQuery(caption string, data []byte, mime string) string {
	uri := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
	if strings.TrimSpace(caption) == "" {
		return uri
	}
	return caption + "\n\n" + uri
}
