package assistant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/talkgate/internal/channels"
	"github.com/nextlevelbuilder/talkgate/internal/conversation"
	"github.com/nextlevelbuilder/talkgate/internal/providers"
	"github.com/nextlevelbuilder/talkgate/internal/store"
)

type fakeProvider struct {
	mu    sync.Mutex
	reqs  []providers.ChatRequest
	reply func(req providers.ChatRequest) (*providers.ChatResponse, error)
}

func (f *fakeProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.reply(req)
}

func (f *fakeProvider) DefaultModel() string { return "fake-model" }
func (f *fakeProvider) Name() string         { return "fake" }

func (f *fakeProvider) last() providers.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func echoProvider() *fakeProvider {
	return &fakeProvider{reply: func(req providers.ChatRequest) (*providers.ChatResponse, error) {
		last := req.Messages[len(req.Messages)-1].Content
		return &providers.ChatResponse{Content: " re: " + last + " ", Model: "fake-model"}, nil
	}}
}

type memExchanges struct {
	mu  sync.Mutex
	all []store.ExchangeData
}

func (m *memExchanges) Record(_ context.Context, ex store.ExchangeData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.all = append(m.all, ex)
	return nil
}
func (m *memExchanges) List(context.Context, store.ExchangeListOpts) ([]store.ExchangeData, error) {
	return nil, nil
}
func (m *memExchanges) Count(context.Context) (int, error) { return len(m.all), nil }
func (m *memExchanges) Close() error                       { return nil }

type countingObserver struct {
	calls, errs int
}

func (o *countingObserver) ObserveLLM(_ context.Context, _ string, _ time.Duration, err error) {
	o.calls++
	if err != nil {
		o.errs++
	}
}

func newCache(t *testing.T, maxTurns int) *conversation.Cache {
	t.Helper()
	c, err := conversation.New(conversation.Config{MaxTurns: maxTurns, TTL: time.Hour})
	require.NoError(t, err)
	return c
}

func kakaoMsg(user, text string) channels.Inbound {
	return channels.Inbound{Channel: channels.Kakao, UserID: user, Content: text}
}

func TestRespondBuildsPromptFromHistory(t *testing.T) {
	p := echoProvider()
	conv := newCache(t, 4)
	log := &memExchanges{}
	obs := &countingObserver{}
	svc := New(p, conv, Config{BotName: "상담봇", MaxTokens: 123, MaxQuickReplies: 3}, WithExchangeStore(log), WithObserver(obs))

	r1, err := svc.Respond(context.Background(), kakaoMsg("u1", " 안녕 "))
	require.NoError(t, err)
	assert.Equal(t, "re: 안녕", r1.Text)
	assert.Equal(t, "kakaotalk:direct:u1", r1.SessionKey)
	assert.Equal(t, []string{"도움이 더 필요해요", "처음으로"}, r1.QuickReplies)

	_, err = svc.Respond(context.Background(), kakaoMsg("u1", "두번째"))
	require.NoError(t, err)

	req := p.last()
	require.Len(t, req.Messages, 4)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "상담봇")
	assert.Equal(t, providers.Message{Role: "user", Content: "안녕"}, req.Messages[1])
	assert.Equal(t, providers.Message{Role: "assistant", Content: "re: 안녕"}, req.Messages[2])
	assert.Equal(t, providers.Message{Role: "user", Content: "두번째"}, req.Messages[3])
	assert.Equal(t, 123, req.Options[providers.OptMaxTokens])
	assert.Equal(t, "u1", req.Options[providers.OptUser])
	assert.Equal(t, "fake-model", req.Model)

	assert.Len(t, conv.Context("kakaotalk:direct:u1"), 4)
	assert.Len(t, log.all, 2)
	assert.Equal(t, "두번째", log.all[1].UserText)
	assert.Equal(t, 2, obs.calls)
	assert.Equal(t, 0, obs.errs)
}

func TestRespondIntentPromptAndReplies(t *testing.T) {
	p := echoProvider()
	svc := New(p, newCache(t, 20), Config{MaxQuickReplies: 2})
	in := kakaoMsg("u1", "배송 언제 와요")
	in.Intent = IntentOrder

	r, err := svc.Respond(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []string{"주문 조회", "배송 조회"}, r.QuickReplies)
	assert.Contains(t, p.last().Messages[0].Content, "현재 상황: 고객이 주문 관련 문의")
}

func TestRespondFallbackOnError(t *testing.T) {
	boom := errors.New("upstream down")
	p := &fakeProvider{reply: func(providers.ChatRequest) (*providers.ChatResponse, error) { return nil, boom }}
	conv := newCache(t, 20)
	log := &memExchanges{}
	obs := &countingObserver{}
	svc := New(p, conv, Config{MaxQuickReplies: 3}, WithExchangeStore(log), WithObserver(obs))

	r, err := svc.Respond(context.Background(), kakaoMsg("u1", "hi"))
	assert.ErrorIs(t, err, boom)
	assert.True(t, r.Fallback)
	assert.Equal(t, FallbackReply, r.Text)
	assert.Equal(t, FallbackQuickReplies, r.QuickReplies)
	assert.Empty(t, conv.Context("kakaotalk:direct:u1"), "failed exchanges are not remembered")
	require.Len(t, log.all, 1)
	assert.True(t, log.all[0].Fallback)
	assert.Equal(t, 1, obs.errs)
}

func TestRespondEmptyCompletionFallsBack(t *testing.T) {
	p := &fakeProvider{reply: func(providers.ChatRequest) (*providers.ChatResponse, error) {
		return &providers.ChatResponse{Content: "   "}, nil
	}}
	svc := New(p, newCache(t, 20), Config{})
	r, err := svc.Respond(context.Background(), kakaoMsg("u1", "hi"))
	assert.ErrorIs(t, err, ErrEmptyCompletion)
	assert.True(t, r.Fallback)
}

func TestRespondWithoutProvider(t *testing.T) {
	svc := New(nil, newCache(t, 20), Config{})
	assert.False(t, svc.Available())
	r, err := svc.Respond(context.Background(), kakaoMsg("u1", "hi"))
	assert.ErrorIs(t, err, ErrNoProvider)
	assert.True(t, r.Fallback)
}

func TestStartOverClearsHistory(t *testing.T) {
	p := echoProvider()
	conv := newCache(t, 20)
	svc := New(p, conv, Config{})

	_, err := svc.Respond(context.Background(), kakaoMsg("u1", "hi"))
	require.NoError(t, err)
	require.Len(t, conv.Context("kakaotalk:direct:u1"), 2)

	r, err := svc.Respond(context.Background(), kakaoMsg("u1", StartOverCommand))
	require.NoError(t, err)
	assert.Equal(t, StartOverReply, r.Text)
	assert.Empty(t, conv.Context("kakaotalk:direct:u1"))
	assert.Len(t, p.reqs, 1, "start over does not call the model")
}

func TestAnonymousSessionsAreIsolated(t *testing.T) {
	svc := New(echoProvider(), newCache(t, 20), Config{})
	r1, err := svc.Respond(context.Background(), channels.Inbound{Channel: channels.Test, Content: "a"})
	require.NoError(t, err)
	r2, err := svc.Respond(context.Background(), channels.Inbound{Channel: channels.Test, Content: "b"})
	require.NoError(t, err)
	assert.NotEqual(t, r1.SessionKey, r2.SessionKey)
}

func TestInternalChannelsSkipExchangeLog(t *testing.T) {
	log := &memExchanges{}
	svc := New(echoProvider(), newCache(t, 20), Config{}, WithExchangeStore(log))

	for _, ch := range []string{channels.Test, channels.Admin} {
		_, err := svc.Respond(context.Background(), channels.Inbound{Channel: ch, UserID: "op", Content: "ping"})
		require.NoError(t, err)
	}
	assert.Empty(t, log.all)

	_, err := svc.Respond(context.Background(), kakaoMsg("u1", "hi"))
	require.NoError(t, err)
	require.Len(t, log.all, 1)
	assert.Equal(t, channels.Kakao, log.all[0].Channel)
}

func TestSummarize(t *testing.T) {
	p := &fakeProvider{reply: func(providers.ChatRequest) (*providers.ChatResponse, error) {
		return &providers.ChatResponse{Content: "요약1\n요약2\n요약3", Model: "sum-model"}, nil
	}}
	conv := newCache(t, 20)
	svc := New(p, conv, Config{MaxTokens: 500, SummaryLines: 3, SummaryMaxTokens: 200})

	in := channels.Inbound{Channel: channels.MessengerBot, UserID: "엄마", ChatID: "가족방", PeerKind: conversation.PeerGroup, Content: "긴 메시지"}
	r, err := svc.Summarize(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "📝 메시지 요약:\n요약1\n요약2\n요약3", r.Text)
	assert.Equal(t, "sum-model", r.Model)
	assert.Equal(t, "messenger_bot:group:가족방", r.SessionKey)

	req := p.last()
	require.Len(t, req.Messages, 1)
	assert.Contains(t, req.Messages[0].Content, "정확히 3줄")
	assert.Equal(t, 200, req.Options[providers.OptMaxTokens])
	assert.Equal(t, 0, conv.Len(), "summaries do not touch history")
}

func TestSummarizeFallback(t *testing.T) {
	p := &fakeProvider{reply: func(providers.ChatRequest) (*providers.ChatResponse, error) {
		return nil, errors.New("nope")
	}}
	svc := New(p, newCache(t, 20), Config{})
	r, err := svc.Summarize(context.Background(), channels.Inbound{Channel: channels.MessengerBot, ChatID: "room", Content: "hello"})
	assert.Error(t, err)
	assert.True(t, r.Fallback)
	assert.Contains(t, r.Text, "hello...")
}

func TestPacerHonoursContext(t *testing.T) {
	svc := New(echoProvider(), newCache(t, 20), Config{RequestsPerSecond: 0.001, Burst: 1})
	_, err := svc.Respond(context.Background(), kakaoMsg("u1", "first"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	r, err := svc.Respond(ctx, kakaoMsg("u1", "second"))
	assert.Error(t, err)
	assert.True(t, r.Fallback)
}

func TestPromptHelpers(t *testing.T) {
	assert.NotContains(t, SystemPrompt("", "unknown"), "현재 상황")
	assert.Contains(t, SystemPrompt("", IntentSupport), "기술적 문제")
	assert.Len(t, QuickReplies(IntentAccount, 0), 3)
	assert.Len(t, QuickReplies(IntentAccount, 1), 1)

	// Returned slices are copies.
	qr := QuickReplies("", 3)
	qr[0] = "changed"
	assert.Equal(t, "도움이 더 필요해요", QuickReplies("", 3)[0])
}
