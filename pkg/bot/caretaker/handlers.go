package caretaker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"chatkeeper/pkg/channel"
	"chatkeeper/pkg/fetch/shortvideo"
	"chatkeeper/pkg/format"
	"chatkeeper/pkg/queue"
)

const (
	// galleryBatchSize is the platform cap on media-group size.
	galleryBatchSize = 10

	// maxVoiceRunes bounds which answers get a spoken rendering.
	maxVoiceRunes = 333

	answerApology    = "Извините, сейчас я не могу ответить. Попробуйте позже!"
	videoUnavailable = "Не удаётся открыть видео"
)

// handleShortVideo mirrors a short-video post into the chat: the original
// link message is removed best-effort, image galleries go out as photo
// batches, and the clip itself is sent by URL with an upload fallback for
// renditions the platform refuses to pull remotely.
func (b *Bot) handleShortVideo(ctx context.Context, event queue.Event, link string) error {
	info, err := b.collab.Videos.FetchInfo(ctx, link)
	if err != nil {
		return fmt.Errorf("fetch short-video info: %w", err)
	}

	caption := videoCaption(info)
	b.removeOriginal(ctx, event, "TikTok")

	if len(info.Images) > 0 {
		b.sendGallery(ctx, event, info.Images, caption)
	}

	if info.IsAudio() {
		if err := b.current().SendAudioURL(ctx, event.ChatID, info.PlayURL); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
		return nil
	}

	if err := b.current().SendVideoURL(ctx, event.ChatID, info.PlayURL, caption); err != nil {
		b.log.Info("Remote video send failed, retrying as upload", "correlation_id", event.CorrelationID, "error", err)
		return b.uploadVideo(ctx, event, info.PlayURL, caption)
	}

	return nil
}

// handleReel replaces a reel link with the video itself. Fetch or send
// failures produce one reply pointing at the original message; timeouts
// escalate instead so the session restart policy sees them.
func (b *Bot) handleReel(ctx context.Context, event queue.Event, link string) error {
	stream, err := b.collab.Reels.FetchStream(ctx, link)
	if err != nil {
		if isSystemicTimeout(err) {
			return fmt.Errorf("fetch reel stream: %w", err)
		}
		b.replyVideoUnavailable(ctx, event, err)
		return nil
	}
	defer stream.Close()

	b.removeOriginal(ctx, event, "Instagram")

	if err := b.current().SendVideoUpload(ctx, event.ChatID, stream, ""); err != nil {
		b.replyVideoUnavailable(ctx, event, err)
	}

	return nil
}

// handleWebPage answers a bare link with a page screenshot, replying to the
// original message when possible and degrading to a captioned plain send.
func (b *Bot) handleWebPage(ctx context.Context, event queue.Event, link string) error {
	shot, err := b.collab.Pages.Screenshot(ctx, link)
	if err != nil {
		return fmt.Errorf("render screenshot: %w", err)
	}

	if err := b.current().SendPhoto(ctx, event.ChatID, bytes.NewReader(shot), "", event.MessageID); err != nil {
		b.log.Info("Screenshot reply failed, sending as plain message", "correlation_id", event.CorrelationID, "error", err)
		if err := b.current().SendPhoto(ctx, event.ChatID, bytes.NewReader(shot), "Скриншот страницы: "+link, 0); err != nil {
			return fmt.Errorf("send screenshot: %w", err)
		}
	}

	return nil
}

// handleMention answers a prompt addressed to the bot. The provider chain
// already tried the fallback model, so a chain error is terminal and gets the
// one apology reply.
func (b *Bot) handleMention(ctx context.Context, event queue.Event, _ string) error {
	botName := b.currentBotName()
	prompt := strings.TrimSpace(strings.ReplaceAll(event.Text, botName, ""))
	if prompt == "" {
		return nil
	}
	b.log.Debug("Assistant prompt assembled", "correlation_id", event.CorrelationID, "prompt_length", len(prompt))

	answer, err := b.collab.Answers.Complete(ctx, prompt)
	if err != nil {
		b.log.Error("No answer from any provider", "correlation_id", event.CorrelationID, "error", err)
		if replyErr := b.current().Reply(ctx, event.ChatID, answerApology, channel.ReplyOptions{Silent: true}); replyErr != nil {
			b.log.Error("Could not send apology reply", "correlation_id", event.CorrelationID, "error", replyErr)
		}
		return nil
	}

	return b.deliverAnswer(ctx, event, answer)
}

// deliverAnswer prefers a voice reply for short prose answers, then a
// formatted text reply, then a plain-text reply as the last resort.
func (b *Bot) deliverAnswer(ctx context.Context, event queue.Event, answer string) error {
	if b.collab.Voice != nil && wantsVoice(answer) {
		if b.deliverVoice(ctx, event, answer) {
			return nil
		}
	}

	if err := b.current().Reply(ctx, event.ChatID, format.EscapeMarkdown(answer), channel.ReplyOptions{MarkdownV2: true}); err != nil {
		b.log.Warn("Formatted reply failed, sending plain text", "correlation_id", event.CorrelationID, "error", err)
		if err := b.current().Reply(ctx, event.ChatID, answer, channel.ReplyOptions{Silent: true}); err != nil {
			return fmt.Errorf("send answer: %w", err)
		}
	}

	return nil
}

func (b *Bot) deliverVoice(ctx context.Context, event queue.Event, answer string) bool {
	stream, err := b.collab.Voice.Synthesize(ctx, answer)
	if err != nil {
		b.log.Warn("Voice synthesis failed, falling back to text", "correlation_id", event.CorrelationID, "error", err)
		return false
	}
	defer stream.Close()

	if err := b.current().SendVoice(ctx, event.ChatID, stream, format.EscapeMarkdown(answer)); err != nil {
		b.log.Warn("Voice reply failed, falling back to text", "correlation_id", event.CorrelationID, "error", err)
		return false
	}

	return true
}

// wantsVoice: short answers without a code fence read well aloud.
func wantsVoice(answer string) bool {
	return utf8.RuneCountInString(answer) <= maxVoiceRunes && !strings.Contains(answer, "```")
}

// removeOriginal deletes the link message and posts a notice naming the
// sender. Missing delete rights are logged and skipped; the handler carries
// on with the content send either way.
func (b *Bot) removeOriginal(ctx context.Context, event queue.Event, label string) {
	if err := b.current().DeleteMessage(ctx, event.ChatID, event.MessageID); err != nil {
		if channel.IsPermissionDenied(err) {
			b.log.Warn("Not enough rights to delete original message, continuing", "correlation_id", event.CorrelationID)
		} else {
			b.log.Warn("Could not delete original message, continuing", "correlation_id", event.CorrelationID, "error", err)
		}
		return
	}

	notice := fmt.Sprintf("@%s %s ссылка удалена", event.SenderName, label)
	if err := b.current().Reply(ctx, event.ChatID, notice, channel.ReplyOptions{Silent: true}); err != nil {
		b.log.Warn("Could not send removal notice", "correlation_id", event.CorrelationID, "error", err)
	}
}

// sendGallery sends post images as photo batches with the stats caption on
// the first item of the first batch only. A failed batch stops the gallery
// but not the handler.
func (b *Bot) sendGallery(ctx context.Context, event queue.Event, images []string, caption string) {
	batches := format.Chunk(images, galleryBatchSize)
	for i, batch := range batches {
		items := make([]channel.MediaItem, 0, len(batch))
		for _, url := range batch {
			items = append(items, channel.MediaItem{Kind: "photo", FileRef: url})
		}
		if i == 0 {
			items[0].Caption = caption
			items[0].HTML = true
		}

		if _, err := b.current().SendMediaBatch(ctx, event.ChatID, items); err != nil {
			b.log.Error("Gallery batch send failed", "correlation_id", event.CorrelationID, "batch", i+1, "error", err)
			return
		}
		b.log.Debug("Gallery batch sent", "correlation_id", event.CorrelationID, "batch", i+1, "of", len(batches), "size", len(items))
	}
}

// uploadVideo proxies a rendition the platform would not fetch by URL:
// download to the transient store, re-send as an upload, delete the file.
func (b *Bot) uploadVideo(ctx context.Context, event queue.Event, url, caption string) error {
	path, err := b.collab.Store.Download(ctx, url)
	if err != nil {
		return fmt.Errorf("download video: %w", err)
	}
	defer b.collab.Store.Remove(path)

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open downloaded video: %w", err)
	}
	defer file.Close()

	if err := b.current().SendVideoUpload(ctx, event.ChatID, file, caption); err != nil {
		return fmt.Errorf("send video upload: %w", err)
	}

	return nil
}

func (b *Bot) replyVideoUnavailable(ctx context.Context, event queue.Event, cause error) {
	b.log.Error("Could not deliver reel video", "correlation_id", event.CorrelationID, "error", cause)
	if err := b.current().Reply(ctx, event.ChatID, videoUnavailable, channel.ReplyOptions{ReplyTo: event.MessageID}); err != nil {
		b.log.Error("Could not send video-unavailable reply", "correlation_id", event.CorrelationID, "error", err)
	}
}

func (b *Bot) sendPartyPoll(ctx context.Context, chatID int64) {
	err := b.current().SendPoll(ctx, chatID, "🚨🚨🚨 Объявлен сбор 🚨🚨🚨", []string{
		"✅ Приду",
		"❌ Не приду",
		"⏰ Опоздаю",
		"🔩 Посмотрю на ваше поведение",
	})
	if err != nil {
		b.log.Error("Could not send party poll", "error", err)
	}
}

func videoCaption(info shortvideo.Info) string {
	return fmt.Sprintf("🎥 Автор: «%s»\n👀 Просмотров: %s\n❤️ Лайков: %s\n💬 Комментариев: %s",
		info.Author,
		format.Count(info.PlayCount),
		format.Count(info.LikeCount),
		format.Count(info.CommentCount))
}
