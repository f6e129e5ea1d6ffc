package quill

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatkeeper/pkg/channel"
	"chatkeeper/pkg/config"
	"chatkeeper/pkg/queue"
)

type fakeMessenger struct {
	mu sync.Mutex

	replies     []string
	replyOpts   []channel.ReplyOptions
	deleted     []int
	batches     [][]channel.MediaItem
	published   [][]channel.MediaItem
	publishRefs []string
	callbacks   []string
	prompts     []string
	downloads   []string
	downloadErr error
	uploadErr   error

	nextMessageID int
}

func (f *fakeMessenger) Reply(_ context.Context, _ int64, text string, opts channel.ReplyOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)
	f.replyOpts = append(f.replyOpts, opts)
	return nil
}

func (f *fakeMessenger) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeMessenger) SendPhoto(context.Context, int64, io.Reader, string, int) error { return nil }

func (f *fakeMessenger) SendVideoURL(context.Context, int64, string, string) error { return nil }

func (f *fakeMessenger) SendVideoUpload(context.Context, int64, io.Reader, string) error { return nil }

func (f *fakeMessenger) SendAudioURL(context.Context, int64, string) error { return nil }

func (f *fakeMessenger) SendVoice(context.Context, int64, io.Reader, string) error { return nil }

func (f *fakeMessenger) SendMediaBatch(_ context.Context, _ int64, items []channel.MediaItem) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, items)

	ids := make([]int, len(items))
	for i := range ids {
		f.nextMessageID++
		ids[i] = f.nextMessageID
	}
	return ids, nil
}

func (f *fakeMessenger) SendPoll(context.Context, int64, string, []string) error { return nil }

func (f *fakeMessenger) DownloadFile(_ context.Context, fileID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	f.downloads = append(f.downloads, fileID)
	return []byte("raw-" + fileID), nil
}

func (f *fakeMessenger) UploadPhoto(_ context.Context, _ int64, photo io.Reader) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	data, _ := io.ReadAll(photo)
	return "uploaded-" + string(data), nil
}

func (f *fakeMessenger) PublishMediaBatch(_ context.Context, channelRef string, items []channel.MediaItem) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, items)
	f.publishRefs = append(f.publishRefs, channelRef)
	return make([]int, len(items)), nil
}

func (f *fakeMessenger) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, text)
	return nil
}

func (f *fakeMessenger) SendActionButtons(_ context.Context, _ int64, text string, buttons []channel.ActionButton) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	labels := make([]string, 0, len(buttons))
	for _, button := range buttons {
		labels = append(labels, button.Data)
	}
	f.prompts = append(f.prompts, text+"|"+strings.Join(labels, ","))
	return nil
}

func (f *fakeMessenger) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

// fakeStamper marks photo bytes so the pipeline is observable end to end.
type fakeStamper struct {
	failFor string
}

func (s *fakeStamper) Apply(src io.Reader) ([]byte, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	if s.failFor != "" && strings.Contains(string(data), s.failFor) {
		return nil, errors.New("decode image: unsupported format")
	}
	return append([]byte("wm-"), data...), nil
}

type fakeReporter struct {
	report string
	err    error
}

func (r *fakeReporter) BuildOnlineReport(context.Context) (string, error) {
	return r.report, r.err
}

func newTestBot(t *testing.T) (*Bot, *fakeMessenger) {
	t.Helper()

	bot, err := New(config.QuillConfig{
		Token:            "test-token",
		AdminID:          42,
		ChannelID:        "@games_zone",
		ChannelTitle:     "Games Zone",
		GroupQuietMillis: 20,
	}, &fakeStamper{}, &fakeReporter{report: "<b>🔥 Онлайн популярных игр в Steam:</b>"}, nil)
	require.NoError(t, err)

	m := &fakeMessenger{}
	bot.setMessenger(m)

	return bot, m
}

func photoEvent(fileID, groupID string, caption string) queue.Event {
	return queue.NewMediaEvent(queue.MediaPayload{PhotoFileID: fileID, Caption: caption}, groupID, 42, 0)
}

func TestAlbumFlushBatchesAndCaption(t *testing.T) {
	bot, m := newTestBot(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		caption := ""
		if i == 0 {
			caption = "Новый анонс"
		}
		require.NoError(t, bot.dispatch(ctx, photoEvent(fmt.Sprintf("p%02d", i), "g1", caption)))
	}
	assert.Equal(t, 12, bot.groups.Pending("g1"), "single timer, items appended while pending")

	require.Eventually(t, func() bool { return m.batchCount() == 2 }, time.Second, 5*time.Millisecond)

	require.Len(t, m.batches[0], 10)
	require.Len(t, m.batches[1], 2)

	first := m.batches[0][0]
	assert.Contains(t, first.Caption, "Новый анонс")
	assert.Contains(t, first.Caption, `Подписаться: <a href="https://t.me/games_zone"><b>Games Zone</b></a>`)
	assert.True(t, first.HTML)
	for _, item := range m.batches[0][1:] {
		assert.Empty(t, item.Caption, "caption only on the first item of the first batch")
	}
	for _, item := range m.batches[1] {
		assert.Empty(t, item.Caption)
	}

	// Every photo went through download → stamp → re-upload.
	assert.Equal(t, "uploaded-wm-raw-p00", first.FileRef)
	assert.Contains(t, m.prompts[0], "publish_g1")
	assert.Contains(t, m.prompts[0], "delete_g1")
}

func TestWatermarkFailureKeepsOriginalItem(t *testing.T) {
	bot, m := newTestBot(t)
	bot.stamper = &fakeStamper{failFor: "p1"}
	ctx := context.Background()

	require.NoError(t, bot.dispatch(ctx, photoEvent("p0", "g2", "")))
	require.NoError(t, bot.dispatch(ctx, photoEvent("p1", "g2", "")))

	require.Eventually(t, func() bool { return m.batchCount() == 1 }, time.Second, 5*time.Millisecond)

	require.Len(t, m.batches[0], 2)
	assert.Equal(t, "uploaded-wm-raw-p0", m.batches[0][0].FileRef)
	assert.Equal(t, "p1", m.batches[0][1].FileRef, "failed transform falls back to the original")
}

func TestStandaloneMediaPostsSingleItemPreview(t *testing.T) {
	bot, m := newTestBot(t)

	require.NoError(t, bot.dispatch(context.Background(), photoEvent("solo", "", "Один кадр")))

	require.Len(t, m.batches, 1)
	require.Len(t, m.batches[0], 1)
	assert.Contains(t, m.batches[0][0].Caption, "Один кадр")
}

func TestVideoItemsPassThroughUnstamped(t *testing.T) {
	bot, m := newTestBot(t)
	ctx := context.Background()

	video := queue.NewMediaEvent(queue.MediaPayload{VideoFileID: "v1"}, "g3", 42, 0)
	require.NoError(t, bot.dispatch(ctx, video))

	require.Eventually(t, func() bool { return m.batchCount() == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, "video", m.batches[0][0].Kind)
	assert.Equal(t, "v1", m.batches[0][0].FileRef)
	assert.Empty(t, m.downloads, "videos are not watermarked")
}

func TestPublishCallbackSendsAlbumToChannel(t *testing.T) {
	bot, m := newTestBot(t)
	ctx := context.Background()

	require.NoError(t, bot.dispatch(ctx, photoEvent("solo", "", "")))
	require.Len(t, bot.previews, 1)

	var albumID string
	for id := range bot.previews {
		albumID = id
	}

	callback := queue.NewCallbackEvent(queue.CallbackPayload{ID: "cb1", Data: "publish_" + albumID, MessageID: 99}, 42)
	require.NoError(t, bot.dispatch(ctx, callback))

	require.Len(t, m.published, 1)
	assert.Equal(t, "@games_zone", m.publishRefs[0])
	assert.Contains(t, m.callbacks, "✅ Опубликовано в канале")
	assert.Contains(t, m.deleted, 99, "action prompt is removed")
}

func TestDeleteCallbackRemovesPreviewMessages(t *testing.T) {
	bot, m := newTestBot(t)
	ctx := context.Background()

	require.NoError(t, bot.dispatch(ctx, photoEvent("solo", "", "")))

	var albumID string
	var messageIDs []int
	for id, album := range bot.previews {
		albumID = id
		messageIDs = album.messageIDs
	}
	require.NotEmpty(t, messageIDs)

	callback := queue.NewCallbackEvent(queue.CallbackPayload{ID: "cb2", Data: "delete_" + albumID}, 42)
	require.NoError(t, bot.dispatch(ctx, callback))

	for _, id := range messageIDs {
		assert.Contains(t, m.deleted, id)
	}
	assert.Empty(t, bot.previews, "preview entry is destroyed after delete")
}

func TestUnknownAlbumCallback(t *testing.T) {
	bot, m := newTestBot(t)

	callback := queue.NewCallbackEvent(queue.CallbackPayload{ID: "cb3", Data: "publish_missing"}, 42)
	require.NoError(t, bot.dispatch(context.Background(), callback))

	assert.Empty(t, m.published)
	assert.Contains(t, m.callbacks, "Альбом не найден")
}

func TestOnlineCommandRepliesWithReport(t *testing.T) {
	bot, m := newTestBot(t)

	event := queue.NewEvent("/online", "admin", 42, 1)
	require.NoError(t, bot.dispatch(context.Background(), event))

	require.Len(t, m.replies, 1)
	assert.Contains(t, m.replies[0], "Steam")
	assert.True(t, m.replyOpts[0].HTML)
}

func TestRenderCaptionHTML(t *testing.T) {
	caption := "Скидка на игру тут и там"
	entities := []queue.CaptionEntity{
		{Type: "text_link", Offset: 15, Length: 3, URL: "https://store.example/one"},
		{Type: "bold", Offset: 0, Length: 6},
		{Type: "text_link", Offset: 21, Length: 3, URL: "https://store.example/two"},
	}

	rendered := renderCaptionHTML(caption, entities)
	assert.Equal(t, `Скидка на игру <a href="https://store.example/one">тут</a> и <a href="https://store.example/two">там</a>`, rendered)
}

func TestRenderCaptionHTMLWithoutEntities(t *testing.T) {
	assert.Equal(t, "просто текст", renderCaptionHTML("просто текст", nil))
	assert.Equal(t, "", renderCaptionHTML("", nil))
}
