package caretaker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatkeeper/pkg/channel"
	"chatkeeper/pkg/config"
	"chatkeeper/pkg/fetch/shortvideo"
	"chatkeeper/pkg/queue"
)

type recordedReply struct {
	text string
	opts channel.ReplyOptions
}

type fakeMessenger struct {
	mu sync.Mutex

	replies    []recordedReply
	deleted    []int
	deleteErr  error
	photoCaps  []string
	photoReplyErr error
	videoURLs  []string
	videoURLErr error
	uploads    []string
	audioURLs  []string
	voiceCaps  []string
	voiceErr   error
	batches    [][]channel.MediaItem
	polls      []string
}

func (f *fakeMessenger) Reply(_ context.Context, _ int64, text string, opts channel.ReplyOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, recordedReply{text: text, opts: opts})
	return nil
}

func (f *fakeMessenger) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeMessenger) SendPhoto(_ context.Context, _ int64, _ io.Reader, caption string, replyTo int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if replyTo != 0 && f.photoReplyErr != nil {
		return f.photoReplyErr
	}
	f.photoCaps = append(f.photoCaps, caption)
	return nil
}

func (f *fakeMessenger) SendVideoURL(_ context.Context, _ int64, url, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.videoURLErr != nil {
		return f.videoURLErr
	}
	f.videoURLs = append(f.videoURLs, url)
	return nil
}

func (f *fakeMessenger) SendVideoUpload(_ context.Context, _ int64, video io.Reader, _ string) error {
	data, _ := io.ReadAll(video)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, string(data))
	return nil
}

func (f *fakeMessenger) SendAudioURL(_ context.Context, _ int64, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audioURLs = append(f.audioURLs, url)
	return nil
}

func (f *fakeMessenger) SendVoice(_ context.Context, _ int64, _ io.Reader, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.voiceErr != nil {
		return f.voiceErr
	}
	f.voiceCaps = append(f.voiceCaps, caption)
	return nil
}

func (f *fakeMessenger) SendMediaBatch(_ context.Context, _ int64, items []channel.MediaItem) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, items)
	return make([]int, len(items)), nil
}

func (f *fakeMessenger) SendPoll(_ context.Context, _ int64, question string, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls = append(f.polls, question)
	return nil
}

func (f *fakeMessenger) replyTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	texts := make([]string, 0, len(f.replies))
	for _, r := range f.replies {
		texts = append(texts, r.text)
	}
	return texts
}

type fakeVideos struct {
	info shortvideo.Info
	err  error
}

func (f *fakeVideos) FetchInfo(context.Context, string) (shortvideo.Info, error) {
	return f.info, f.err
}

type fakeReels struct {
	data string
	err  error
}

func (f *fakeReels) FetchStream(context.Context, string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.data)), nil
}

type fakePages struct {
	png []byte
	err error
}

func (f *fakePages) Screenshot(context.Context, string) ([]byte, error) {
	return f.png, f.err
}

type fakeAnswers struct {
	mu      sync.Mutex
	answer  string
	err     error
	prompts []string
}

func (f *fakeAnswers) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return f.answer, f.err
}

type fakeVoice struct {
	err   error
	calls int
}

func (f *fakeVoice) Synthesize(context.Context, string) (io.ReadCloser, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader("audio")), nil
}

type fakeStore struct {
	path    string
	err     error
	removed []string
}

func (f *fakeStore) Download(context.Context, string) (string, error) {
	return f.path, f.err
}

func (f *fakeStore) Remove(path string) {
	f.removed = append(f.removed, path)
}

type testRig struct {
	bot       *Bot
	messenger *fakeMessenger
	videos    *fakeVideos
	reels     *fakeReels
	pages     *fakePages
	answers   *fakeAnswers
	voice     *fakeVoice
	store     *fakeStore
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	rig := &testRig{
		messenger: &fakeMessenger{},
		videos:    &fakeVideos{},
		reels:     &fakeReels{},
		pages:     &fakePages{png: []byte("png")},
		answers:   &fakeAnswers{answer: "ответ"},
		voice:     &fakeVoice{},
		store:     &fakeStore{},
	}

	bot, err := New(config.CaretakerConfig{Token: "test-token"}, Collaborators{
		Videos:  rig.videos,
		Reels:   rig.reels,
		Pages:   rig.pages,
		Answers: rig.answers,
		Voice:   rig.voice,
		Store:   rig.store,
	}, nil)
	require.NoError(t, err)

	bot.setMessenger(rig.messenger)
	bot.setBotName("@keeper_bot")
	rig.bot = bot

	return rig
}

func event(text string) queue.Event {
	return queue.NewEvent(text, "tester", 100, 7)
}

func TestMentionWinsOverVideoLink(t *testing.T) {
	rig := newTestRig(t)

	err := rig.bot.dispatch(context.Background(), event("@keeper_bot глянь https://tiktok.com/@x/video/1"))
	require.NoError(t, err)

	assert.Len(t, rig.answers.prompts, 1, "mention pattern must win over the video-link pattern")
	assert.Equal(t, "глянь https://tiktok.com/@x/video/1", rig.answers.prompts[0])
	assert.Empty(t, rig.messenger.videoURLs)
}

func TestNoMatchDropsSilently(t *testing.T) {
	rig := newTestRig(t)

	err := rig.bot.dispatch(context.Background(), event("просто сообщение без ссылок"))
	require.NoError(t, err)

	assert.Empty(t, rig.messenger.replyTexts())
	assert.Empty(t, rig.answers.prompts)
}

func TestShortVideoDeleteAndSend(t *testing.T) {
	rig := newTestRig(t)
	rig.videos.info = shortvideo.Info{PlayURL: "https://cdn.example/v.mp4", Author: "кот", PlayCount: 1200}

	err := rig.bot.dispatch(context.Background(), event("https://tiktok.com/@x/video/1"))
	require.NoError(t, err)

	assert.Equal(t, []int{7}, rig.messenger.deleted)
	require.Len(t, rig.messenger.videoURLs, 1)

	texts := rig.messenger.replyTexts()
	require.Len(t, texts, 1)
	assert.Equal(t, "@tester TikTok ссылка удалена", texts[0])
}

func TestDeletePermissionFailureDoesNotAbortHandler(t *testing.T) {
	rig := newTestRig(t)
	rig.videos.info = shortvideo.Info{PlayURL: "https://cdn.example/v.mp4"}
	rig.messenger.deleteErr = errors.New("Bad Request: message can't be deleted")

	err := rig.bot.dispatch(context.Background(), event("https://tiktok.com/@x/video/1"))
	require.NoError(t, err)

	assert.Len(t, rig.messenger.videoURLs, 1, "video must still be sent")
	assert.Empty(t, rig.messenger.replyTexts(), "no removal notice without the removal")
}

func TestGalleryBatchesOfTenWithCaptionOnFirst(t *testing.T) {
	rig := newTestRig(t)

	images := make([]string, 12)
	for i := range images {
		images[i] = fmt.Sprintf("https://cdn.example/img%d.jpg", i)
	}
	rig.videos.info = shortvideo.Info{PlayURL: "https://cdn.example/v.mp3", Author: "кот", Images: images}

	err := rig.bot.dispatch(context.Background(), event("https://tiktok.com/@x/photo/1"))
	require.NoError(t, err)

	require.Len(t, rig.messenger.batches, 2)
	assert.Len(t, rig.messenger.batches[0], 10)
	assert.Len(t, rig.messenger.batches[1], 2)

	assert.NotEmpty(t, rig.messenger.batches[0][0].Caption, "caption goes on the first item of the first batch")
	for _, item := range rig.messenger.batches[0][1:] {
		assert.Empty(t, item.Caption)
	}
	for _, item := range rig.messenger.batches[1] {
		assert.Empty(t, item.Caption)
	}

	// .mp3 play URL routes to the audio send.
	assert.Len(t, rig.messenger.audioURLs, 1)
	assert.Empty(t, rig.messenger.videoURLs)
}

func TestShortVideoUploadFallback(t *testing.T) {
	rig := newTestRig(t)
	rig.videos.info = shortvideo.Info{PlayURL: "https://cdn.example/huge.mp4"}
	rig.messenger.videoURLErr = errors.New("Bad Request: failed to get HTTP URL content")

	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("clip-bytes"), 0o644))
	rig.store.path = path

	err := rig.bot.dispatch(context.Background(), event("https://tiktok.com/@x/video/1"))
	require.NoError(t, err)

	require.Len(t, rig.messenger.uploads, 1)
	assert.Equal(t, "clip-bytes", rig.messenger.uploads[0])
	assert.Equal(t, []string{path}, rig.store.removed, "downloaded file is cleaned up")
}

func TestReelFailureSendsExactlyOneReply(t *testing.T) {
	rig := newTestRig(t)
	rig.reels.err = errors.New("no video url found in reel post")

	err := rig.bot.dispatch(context.Background(), event("https://instagram.com/reel/abc"))
	require.NoError(t, err)

	replies := rig.messenger.replies
	require.Len(t, replies, 1)
	assert.Equal(t, "Не удаётся открыть видео", replies[0].text)
	assert.Equal(t, 7, replies[0].opts.ReplyTo)
}

func TestReelSuccessUploadsStream(t *testing.T) {
	rig := newTestRig(t)
	rig.reels.data = "reel-bytes"

	err := rig.bot.dispatch(context.Background(), event("https://instagram.com/reel/abc"))
	require.NoError(t, err)

	require.Len(t, rig.messenger.uploads, 1)
	assert.Equal(t, "reel-bytes", rig.messenger.uploads[0])
}

func TestWebPageScreenshotPlainSendFallback(t *testing.T) {
	rig := newTestRig(t)
	rig.messenger.photoReplyErr = errors.New("Bad Request: message to be replied not found")

	err := rig.bot.dispatch(context.Background(), event("https://example.com/article"))
	require.NoError(t, err)

	require.Len(t, rig.messenger.photoCaps, 1)
	assert.Contains(t, rig.messenger.photoCaps[0], "https://example.com/article")
}

func TestMentionVoiceReplyWithEscapedCaption(t *testing.T) {
	rig := newTestRig(t)
	rig.answers.answer = "Короткий ответ."

	err := rig.bot.dispatch(context.Background(), event("@keeper_bot привет"))
	require.NoError(t, err)

	assert.Equal(t, 1, rig.voice.calls)
	require.Len(t, rig.messenger.voiceCaps, 1)
	assert.Equal(t, `Короткий ответ\.`, rig.messenger.voiceCaps[0])
	assert.Empty(t, rig.messenger.replyTexts())
}

func TestMentionSkipsVoiceForCode(t *testing.T) {
	rig := newTestRig(t)
	rig.answers.answer = "Вот пример:\n```go\nfmt.Println(1)\n```" + strings.Repeat(" и ещё текст", 40)

	err := rig.bot.dispatch(context.Background(), event("@keeper_bot покажи код"))
	require.NoError(t, err)

	assert.Zero(t, rig.voice.calls)
	assert.Len(t, rig.messenger.replyTexts(), 1)
}

func TestMentionVoiceFailureFallsBackToText(t *testing.T) {
	rig := newTestRig(t)
	rig.answers.answer = "Ответ."
	rig.voice.err = errors.New("voice synthesis unavailable")

	err := rig.bot.dispatch(context.Background(), event("@keeper_bot привет"))
	require.NoError(t, err)

	texts := rig.messenger.replyTexts()
	require.Len(t, texts, 1)
	assert.Equal(t, `Ответ\.`, texts[0])
}

func TestMentionAllProvidersFailOneApology(t *testing.T) {
	rig := newTestRig(t)
	rig.answers.err = errors.New("all assistant providers failed")

	err := rig.bot.dispatch(context.Background(), event("@keeper_bot привет"))
	require.NoError(t, err)

	texts := rig.messenger.replyTexts()
	require.Len(t, texts, 1, "exactly one failure reply")
	assert.Equal(t, answerApology, texts[0])
}

func TestHandlerErrorSendsGenericApology(t *testing.T) {
	rig := newTestRig(t)
	rig.videos.err = errors.New("resolver rejected link")

	err := rig.bot.dispatch(context.Background(), event("https://tiktok.com/@x/video/1"))
	require.Error(t, err)

	texts := rig.messenger.replyTexts()
	require.Len(t, texts, 1)
	assert.Equal(t, "Произошла ошибка", texts[0])

	select {
	case <-rig.bot.restartCh:
		t.Fatal("ordinary failure must not schedule a restart")
	default:
	}
}

func TestTimeoutSchedulesRestart(t *testing.T) {
	rig := newTestRig(t)
	rig.videos.err = errors.New("resolver request: context deadline exceeded (Client.Timeout exceeded)")

	err := rig.bot.dispatch(context.Background(), event("https://tiktok.com/@x/video/1"))
	require.Error(t, err)

	select {
	case <-rig.bot.restartCh:
	default:
		t.Fatal("timeout failure must schedule a restart")
	}
}

type fakeSession struct {
	*fakeMessenger
	updates chan telego.Update
}

func (s *fakeSession) Updates(context.Context) (<-chan telego.Update, error) {
	return s.updates, nil
}

func (s *fakeSession) Username(context.Context) (string, error) {
	return "@keeper_bot", nil
}

func textUpdate(text string) telego.Update {
	return telego.Update{Message: &telego.Message{
		MessageID: 7,
		Text:      text,
		Chat:      telego.Chat{ID: 100},
		From:      &telego.User{Username: "tester"},
	}}
}

func TestRunRestartsSessionAfterTimeout(t *testing.T) {
	rig := newTestRig(t)
	rig.videos.err = errors.New("fetch timed out")

	var mu sync.Mutex
	var sessions []*fakeSession
	rig.bot.newSession = func(context.Context) (session, error) {
		mu.Lock()
		defer mu.Unlock()
		s := &fakeSession{fakeMessenger: &fakeMessenger{}, updates: make(chan telego.Update, 1)}
		sessions = append(sessions, s)
		return s, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- rig.bot.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sessions) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	sessions[0].updates <- textUpdate("https://tiktok.com/@x/video/1")
	mu.Unlock()

	// The timed-out event is drained, then the session is replaced.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sessions) == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return rig.bot.queue.Len() == 0
	}, time.Second, 5*time.Millisecond, "timed-out event must not be re-processed by the new session")

	cancel()
	require.NoError(t, <-done)
}

func TestPartyCommandSendsPoll(t *testing.T) {
	rig := newTestRig(t)

	rig.bot.onUpdate(context.Background(), textUpdate("/party"))

	require.Len(t, rig.messenger.polls, 1)
	assert.Contains(t, rig.messenger.polls[0], "Объявлен сбор")
}
