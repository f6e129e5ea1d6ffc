package telegram

import (
	"context"
	"fmt"
	"io"
	"strings"

	"chatkeeper/pkg/channel"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Session implements channel.Messenger against the live Bot API connection.

func (s *Session) Reply(ctx context.Context, chatID int64, text string, opts channel.ReplyOptions) error {
	params := tu.Message(tu.ID(chatID), text)
	if opts.Silent {
		params = params.WithDisableNotification()
	}
	if opts.MarkdownV2 {
		params = params.WithParseMode(telego.ModeMarkdownV2)
	}
	if opts.HTML {
		params = params.WithParseMode(telego.ModeHTML)
	}
	if opts.ReplyTo != 0 {
		params = params.WithReplyParameters(&telego.ReplyParameters{MessageID: opts.ReplyTo})
	}

	if _, err := s.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	return nil
}

func (s *Session) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	err := s.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    tu.ID(chatID),
		MessageID: messageID,
	})
	if err != nil {
		return fmt.Errorf("delete message %d: %w", messageID, err)
	}

	return nil
}

func (s *Session) SendPhoto(ctx context.Context, chatID int64, photo io.Reader, caption string, replyTo int) error {
	params := tu.Photo(tu.ID(chatID), tu.File(tu.NameReader(photo, "screenshot.png")))
	if caption != "" {
		params = params.WithCaption(caption)
	}
	if replyTo != 0 {
		params = params.WithReplyParameters(&telego.ReplyParameters{MessageID: replyTo})
	} else {
		params = params.WithDisableNotification()
	}

	if _, err := s.bot.SendPhoto(ctx, params); err != nil {
		return fmt.Errorf("send photo: %w", err)
	}

	return nil
}

func (s *Session) SendVideoURL(ctx context.Context, chatID int64, url, caption string) error {
	params := tu.Video(tu.ID(chatID), tu.FileFromURL(url)).WithDisableNotification()
	if caption != "" {
		params = params.WithCaption(caption)
	}

	if _, err := s.bot.SendVideo(ctx, params); err != nil {
		return fmt.Errorf("send video: %w", err)
	}

	return nil
}

func (s *Session) SendVideoUpload(ctx context.Context, chatID int64, video io.Reader, caption string) error {
	params := tu.Video(tu.ID(chatID), tu.File(tu.NameReader(video, "video.mp4"))).
		WithSupportsStreaming().
		WithDisableNotification()
	if caption != "" {
		params = params.WithCaption(caption)
	}

	if _, err := s.bot.SendVideo(ctx, params); err != nil {
		return fmt.Errorf("send video upload: %w", err)
	}

	return nil
}

func (s *Session) SendAudioURL(ctx context.Context, chatID int64, url string) error {
	params := tu.Audio(tu.ID(chatID), tu.FileFromURL(url)).WithDisableNotification()

	if _, err := s.bot.SendAudio(ctx, params); err != nil {
		return fmt.Errorf("send audio: %w", err)
	}

	return nil
}

func (s *Session) SendVoice(ctx context.Context, chatID int64, voice io.Reader, caption string) error {
	params := tu.Voice(tu.ID(chatID), tu.File(tu.NameReader(voice, "answer.ogg")))
	if caption != "" {
		params = params.WithCaption(caption).WithParseMode(telego.ModeMarkdownV2)
	}

	if _, err := s.bot.SendVoice(ctx, params); err != nil {
		return fmt.Errorf("send voice: %w", err)
	}

	return nil
}

func (s *Session) SendMediaBatch(ctx context.Context, chatID int64, items []channel.MediaItem) ([]int, error) {
	media := make([]telego.InputMedia, 0, len(items))
	for _, item := range items {
		media = append(media, inputMedia(item))
	}

	sent, err := s.bot.SendMediaGroup(ctx, tu.MediaGroup(tu.ID(chatID), media...))
	if err != nil {
		return nil, fmt.Errorf("send media group: %w", err)
	}

	ids := make([]int, 0, len(sent))
	for _, msg := range sent {
		ids = append(ids, msg.MessageID)
	}

	return ids, nil
}

func (s *Session) SendPoll(ctx context.Context, chatID int64, question string, options []string) error {
	pollOptions := make([]telego.InputPollOption, 0, len(options))
	for _, option := range options {
		pollOptions = append(pollOptions, telego.InputPollOption{Text: option})
	}

	anonymous := false
	_, err := s.bot.SendPoll(ctx, &telego.SendPollParams{
		ChatID:      tu.ID(chatID),
		Question:    question,
		Options:     pollOptions,
		IsAnonymous: &anonymous,
	})
	if err != nil {
		return fmt.Errorf("send poll: %w", err)
	}

	return nil
}

// UploadPhoto pushes photo bytes through a throwaway chat message and returns
// the resulting platform file id. The carrier message is deleted best-effort.
func (s *Session) UploadPhoto(ctx context.Context, chatID int64, photo io.Reader) (string, error) {
	sent, err := s.bot.SendPhoto(ctx, tu.Photo(tu.ID(chatID), tu.File(tu.NameReader(photo, "upload.png"))).WithDisableNotification())
	if err != nil {
		return "", fmt.Errorf("upload photo: %w", err)
	}
	if len(sent.Photo) == 0 {
		return "", fmt.Errorf("upload returned no photo sizes")
	}

	if err := s.DeleteMessage(ctx, chatID, sent.MessageID); err != nil {
		s.log.Debug("Could not delete upload carrier message", "error", err)
	}

	// Last size is the largest rendition.
	return sent.Photo[len(sent.Photo)-1].FileID, nil
}

// PublishMediaBatch sends a media batch to a channel referenced by @username
// or numeric id.
func (s *Session) PublishMediaBatch(ctx context.Context, channelRef string, items []channel.MediaItem) ([]int, error) {
	media := make([]telego.InputMedia, 0, len(items))
	for _, item := range items {
		media = append(media, inputMedia(item))
	}

	sent, err := s.bot.SendMediaGroup(ctx, tu.MediaGroup(chatRef(channelRef), media...))
	if err != nil {
		return nil, fmt.Errorf("publish media group: %w", err)
	}

	ids := make([]int, 0, len(sent))
	for _, msg := range sent {
		ids = append(ids, msg.MessageID)
	}

	return ids, nil
}

// SendActionButtons sends a prompt message with one row of inline buttons.
func (s *Session) SendActionButtons(ctx context.Context, chatID int64, text string, buttons []channel.ActionButton) error {
	row := make([]telego.InlineKeyboardButton, 0, len(buttons))
	for _, button := range buttons {
		row = append(row, tu.InlineKeyboardButton(button.Label).WithCallbackData(button.Data))
	}

	params := tu.Message(tu.ID(chatID), text).
		WithReplyMarkup(tu.InlineKeyboard(row)).
		WithDisableNotification()

	if _, err := s.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send action buttons: %w", err)
	}

	return nil
}

// AnswerCallback acknowledges an inline-keyboard press.
func (s *Session) AnswerCallback(ctx context.Context, callbackID, text string) error {
	params := &telego.AnswerCallbackQueryParams{CallbackQueryID: callbackID}
	if text != "" {
		params.Text = text
	}

	if err := s.bot.AnswerCallbackQuery(ctx, params); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}

	return nil
}

func inputMedia(item channel.MediaItem) telego.InputMedia {
	var file telego.InputFile
	switch {
	case item.Upload != nil:
		file = tu.File(tu.NameReader(item.Upload, "media"))
	case strings.HasPrefix(item.FileRef, "http://"), strings.HasPrefix(item.FileRef, "https://"):
		file = tu.FileFromURL(item.FileRef)
	default:
		file = tu.FileFromID(item.FileRef)
	}

	if item.Kind == "video" {
		video := tu.MediaVideo(file)
		if item.Caption != "" {
			video = video.WithCaption(item.Caption)
			if item.HTML {
				video = video.WithParseMode(telego.ModeHTML)
			}
		}
		return video
	}

	photo := tu.MediaPhoto(file)
	if item.Caption != "" {
		photo = photo.WithCaption(item.Caption)
		if item.HTML {
			photo = photo.WithParseMode(telego.ModeHTML)
		}
	}

	return photo
}
