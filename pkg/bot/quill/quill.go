// Package quill implements the admin publishing bot. Album items arriving as
// a media group are buffered through a debounce window, watermarked, and
// re-posted to the admin chat as a preview with publish/delete actions; the
// publish action pushes the album to the configured channel. The bot also
// answers the /online command with the storefront player report.
package quill

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"

	"chatkeeper/pkg/channel"
	"chatkeeper/pkg/channel/telegram"
	"chatkeeper/pkg/config"
	"chatkeeper/pkg/format"
	"chatkeeper/pkg/mediagroup"
	"chatkeeper/pkg/queue"
)

// albumBatchSize is the platform cap on media-group size.
const albumBatchSize = 10

// messenger extends the shared send surface with the file plumbing the
// watermark pipeline needs and the channel-publishing calls.
type messenger interface {
	channel.Messenger
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
	UploadPhoto(ctx context.Context, chatID int64, photo io.Reader) (string, error)
	PublishMediaBatch(ctx context.Context, channelRef string, items []channel.MediaItem) ([]int, error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
	SendActionButtons(ctx context.Context, chatID int64, text string, buttons []channel.ActionButton) error
}

type session interface {
	messenger
	Updates(ctx context.Context) (<-chan telego.Update, error)
}

// Stamper watermarks one photo.
type Stamper interface {
	Apply(src io.Reader) ([]byte, error)
}

// Reporter builds the /online player report.
type Reporter interface {
	BuildOnlineReport(ctx context.Context) (string, error)
}

// albumItem is one buffered album member plus the chat it arrived in.
type albumItem struct {
	media  queue.MediaPayload
	chatID int64
}

// previewAlbum is a posted preview awaiting a publish or delete action.
type previewAlbum struct {
	items      []channel.MediaItem
	messageIDs []int
	chatID     int64
}

// Bot is the quill bot instance.
type Bot struct {
	cfg     config.QuillConfig
	log     *slog.Logger
	stamper Stamper
	report  Reporter

	queue  *queue.Queue
	groups *mediagroup.Buffer[albumItem]

	newSession func(ctx context.Context) (session, error)

	mu        sync.RWMutex
	messenger messenger
	runCtx    context.Context
	previews  map[string]previewAlbum
}

// New wires the bot. The stamper may be nil, in which case photos pass
// through unwatermarked.
func New(cfg config.QuillConfig, stamper Stamper, report Reporter, log *slog.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("quill token is required")
	}
	if cfg.AdminID == 0 {
		return nil, fmt.Errorf("quill admin id is required")
	}
	if log == nil {
		log = slog.Default()
	}

	b := &Bot{
		cfg:      cfg,
		log:      log.With("component", "bot.quill"),
		stamper:  stamper,
		report:   report,
		previews: make(map[string]previewAlbum),
	}
	b.newSession = func(_ context.Context) (session, error) {
		return telegram.NewSession(cfg.Token, b.log)
	}

	quiet := time.Duration(cfg.GroupQuietMillis) * time.Millisecond
	b.queue = queue.New(b.dispatch, b.log)
	b.groups = mediagroup.New(quiet, b.flushGroup, b.log)

	return b, nil
}

func (b *Bot) Name() string { return "quill" }

// Run connects the session and consumes updates until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	sess, err := b.newSession(ctx)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	b.setMessenger(sess)

	b.mu.Lock()
	b.runCtx = ctx
	b.mu.Unlock()

	updates, err := sess.Updates(ctx)
	if err != nil {
		return err
	}
	defer b.groups.Stop()

	b.log.Info("Session started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.onUpdate(ctx, update)
		}
	}
}

// onUpdate translates admin updates into queue events. Non-admin traffic is
// dropped at the door.
func (b *Bot) onUpdate(ctx context.Context, update telego.Update) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.From.ID != b.cfg.AdminID {
			return
		}

		var messageID int
		var chatID int64
		if msg := cb.Message; msg != nil {
			messageID = msg.GetMessageID()
			chatID = msg.GetChat().ID
		}
		b.queue.Enqueue(ctx, queue.NewCallbackEvent(queue.CallbackPayload{
			ID:        cb.ID,
			Data:      cb.Data,
			MessageID: messageID,
		}, chatID))
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.From.ID != b.cfg.AdminID {
		return
	}

	if strings.HasPrefix(msg.Text, "/online") {
		b.queue.Enqueue(ctx, queue.NewEvent(msg.Text, msg.From.Username, msg.Chat.ID, msg.MessageID))
		return
	}

	media, ok := mediaPayload(msg)
	if !ok {
		return
	}
	b.queue.Enqueue(ctx, queue.NewMediaEvent(media, msg.MediaGroupID, msg.Chat.ID, msg.MessageID))
}

// mediaPayload extracts the album-relevant part of a message. For photos the
// largest rendition wins.
func mediaPayload(msg *telego.Message) (queue.MediaPayload, bool) {
	payload := queue.MediaPayload{Caption: msg.Caption}
	for _, entity := range msg.CaptionEntities {
		payload.Entities = append(payload.Entities, queue.CaptionEntity{
			Type:   string(entity.Type),
			Offset: entity.Offset,
			Length: entity.Length,
			URL:    entity.URL,
		})
	}

	switch {
	case len(msg.Photo) > 0:
		payload.PhotoFileID = msg.Photo[len(msg.Photo)-1].FileID
	case msg.Video != nil:
		payload.VideoFileID = msg.Video.FileID
	default:
		return queue.MediaPayload{}, false
	}

	return payload, true
}

// dispatch routes one queue event by its payload kind.
func (b *Bot) dispatch(ctx context.Context, event queue.Event) error {
	switch event.Kind {
	case queue.KindText:
		if strings.HasPrefix(event.Text, "/online") {
			return b.sendOnlineReport(ctx, event.ChatID)
		}
		return nil

	case queue.KindMedia:
		item := albumItem{media: *event.Media, chatID: event.ChatID}
		if event.GroupID != "" {
			b.groups.Add(event.GroupID, item)
			return nil
		}
		// Standalone media posts preview as a one-item album.
		return b.postPreview(ctx, uuid.NewString(), []albumItem{item})

	case queue.KindCallback:
		return b.handleCallback(ctx, event)
	}

	return nil
}

// flushGroup runs on the debounce timer goroutine once a group's quiet window
// elapses.
func (b *Bot) flushGroup(groupID string, items []albumItem) {
	ctx := b.currentRunCtx()
	if ctx.Err() != nil {
		return
	}

	if err := b.postPreview(ctx, groupID, items); err != nil {
		b.log.Error("Album preview failed", "group_id", groupID, "error", err)
		if replyErr := b.current().Reply(ctx, items[0].chatID, "Произошла ошибка при обработке сообщения", channel.ReplyOptions{Silent: true}); replyErr != nil {
			b.log.Error("Could not send album failure reply", "group_id", groupID, "error", replyErr)
		}
	}
}

// postPreview watermarks the album, sends it back to the admin chat in
// batches with the rendered caption on the first item, and attaches the
// publish/delete action buttons.
func (b *Bot) postPreview(ctx context.Context, albumID string, items []albumItem) error {
	chatID := items[0].chatID
	caption := b.renderedCaption(items[0].media)

	media := make([]channel.MediaItem, 0, len(items))
	for _, item := range items {
		media = append(media, b.toMediaItem(ctx, chatID, item.media))
	}
	media[0].Caption = caption
	media[0].HTML = true

	var messageIDs []int
	for _, batch := range format.Chunk(media, albumBatchSize) {
		ids, err := b.current().SendMediaBatch(ctx, chatID, batch)
		if err != nil {
			return fmt.Errorf("send album preview: %w", err)
		}
		messageIDs = append(messageIDs, ids...)
	}

	b.mu.Lock()
	b.previews[albumID] = previewAlbum{items: media, messageIDs: messageIDs, chatID: chatID}
	b.mu.Unlock()

	err := b.current().SendActionButtons(ctx, chatID, "Выберите действие:", []channel.ActionButton{
		{Label: "Опубликовать", Data: "publish_" + albumID},
		{Label: "Удалить", Data: "delete_" + albumID},
	})
	if err != nil {
		b.log.Warn("Could not attach action buttons", "album_id", albumID, "error", err)
	}

	b.log.Info("Album preview posted", "album_id", albumID, "items", len(media))
	return nil
}

// toMediaItem converts one payload, watermarking photos. Any failure in the
// watermark pipeline falls back to the unmodified original.
func (b *Bot) toMediaItem(ctx context.Context, chatID int64, media queue.MediaPayload) channel.MediaItem {
	if media.VideoFileID != "" {
		return channel.MediaItem{Kind: "video", FileRef: media.VideoFileID}
	}

	item := channel.MediaItem{Kind: "photo", FileRef: media.PhotoFileID}
	if b.stamper == nil {
		return item
	}

	stampedID, err := b.watermarkPhoto(ctx, chatID, media.PhotoFileID)
	if err != nil {
		b.log.Warn("Watermark failed, keeping original photo", "file_id", media.PhotoFileID, "error", err)
		return item
	}

	item.FileRef = stampedID
	return item
}

// watermarkPhoto downloads the photo, stamps it, and re-uploads the result to
// obtain a platform file id usable in a media group.
func (b *Bot) watermarkPhoto(ctx context.Context, chatID int64, fileID string) (string, error) {
	data, err := b.current().DownloadFile(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("download photo: %w", err)
	}

	stamped, err := b.stamper.Apply(bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	uploadedID, err := b.current().UploadPhoto(ctx, chatID, bytes.NewReader(stamped))
	if err != nil {
		return "", fmt.Errorf("upload stamped photo: %w", err)
	}

	return uploadedID, nil
}

// handleCallback executes a publish or delete action on a posted preview.
func (b *Bot) handleCallback(ctx context.Context, event queue.Event) error {
	data := event.Callback.Data

	switch {
	case strings.HasPrefix(data, "publish_"):
		return b.publishAlbum(ctx, event, strings.TrimPrefix(data, "publish_"))
	case strings.HasPrefix(data, "delete_"):
		return b.deleteAlbum(ctx, event, strings.TrimPrefix(data, "delete_"))
	}

	return b.current().AnswerCallback(ctx, event.Callback.ID, "")
}

func (b *Bot) publishAlbum(ctx context.Context, event queue.Event, albumID string) error {
	album, ok := b.preview(albumID)
	if !ok {
		return b.current().AnswerCallback(ctx, event.Callback.ID, "Альбом не найден")
	}

	for _, batch := range format.Chunk(album.items, albumBatchSize) {
		if _, err := b.current().PublishMediaBatch(ctx, b.cfg.ChannelID, batch); err != nil {
			if answerErr := b.current().AnswerCallback(ctx, event.Callback.ID, "Ошибка публикации"); answerErr != nil {
				b.log.Error("Could not answer callback", "error", answerErr)
			}
			return fmt.Errorf("publish album %s: %w", albumID, err)
		}
	}

	if err := b.current().AnswerCallback(ctx, event.Callback.ID, "✅ Опубликовано в канале"); err != nil {
		b.log.Warn("Could not answer callback", "album_id", albumID, "error", err)
	}
	b.removeActionPrompt(ctx, event)

	b.log.Info("Album published", "album_id", albumID, "channel", b.cfg.ChannelID)
	return nil
}

func (b *Bot) deleteAlbum(ctx context.Context, event queue.Event, albumID string) error {
	album, ok := b.takePreview(albumID)
	if !ok {
		return b.current().AnswerCallback(ctx, event.Callback.ID, "Альбом не найден")
	}

	for _, messageID := range album.messageIDs {
		if err := b.current().DeleteMessage(ctx, album.chatID, messageID); err != nil {
			b.log.Warn("Could not delete preview message", "album_id", albumID, "message_id", messageID, "error", err)
		}
	}

	if err := b.current().AnswerCallback(ctx, event.Callback.ID, "Удалено"); err != nil {
		b.log.Warn("Could not answer callback", "album_id", albumID, "error", err)
	}
	b.removeActionPrompt(ctx, event)

	b.log.Info("Album preview deleted", "album_id", albumID)
	return nil
}

// removeActionPrompt deletes the message carrying the action buttons.
func (b *Bot) removeActionPrompt(ctx context.Context, event queue.Event) {
	if event.Callback.MessageID == 0 {
		return
	}
	if err := b.current().DeleteMessage(ctx, event.ChatID, event.Callback.MessageID); err != nil {
		b.log.Debug("Could not delete action prompt", "error", err)
	}
}

func (b *Bot) sendOnlineReport(ctx context.Context, chatID int64) error {
	if b.report == nil {
		return nil
	}

	report, err := b.report.BuildOnlineReport(ctx)
	if err != nil {
		return fmt.Errorf("build online report: %w", err)
	}

	if err := b.current().Reply(ctx, chatID, report, channel.ReplyOptions{HTML: true}); err != nil {
		return fmt.Errorf("send online report: %w", err)
	}

	return nil
}

func (b *Bot) preview(albumID string) (previewAlbum, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	album, ok := b.previews[albumID]
	return album, ok
}

func (b *Bot) takePreview(albumID string) (previewAlbum, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	album, ok := b.previews[albumID]
	if ok {
		delete(b.previews, albumID)
	}
	return album, ok
}

func (b *Bot) current() messenger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.messenger
}

func (b *Bot) setMessenger(m messenger) {
	b.mu.Lock()
	b.messenger = m
	b.mu.Unlock()
}

func (b *Bot) currentRunCtx() context.Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.runCtx == nil {
		return context.Background()
	}
	return b.runCtx
}
