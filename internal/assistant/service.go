// Package assistant turns an inbound chat message into a model reply: it
// assembles the prompt from the conversation cache, paces and traces the
// model call, and records the exchange.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/talkgate/internal/channels"
	"github.com/nextlevelbuilder/talkgate/internal/channels/messengerbot"
	"github.com/nextlevelbuilder/talkgate/internal/conversation"
	"github.com/nextlevelbuilder/talkgate/internal/providers"
	"github.com/nextlevelbuilder/talkgate/internal/store"
)

// ErrNoProvider is returned when no model provider is configured.
var ErrNoProvider = errors.New("assistant: no model provider configured")

// ErrEmptyCompletion is returned when the model answered with blank text.
var ErrEmptyCompletion = errors.New("assistant: empty completion")

const recordTimeout = 5 * time.Second

// Config tunes model calls.
type Config struct {
	BotName          string
	Model            string // empty = provider default
	MaxTokens        int
	Temperature      float64
	PresencePenalty  float64
	FrequencyPenalty float64
	MaxQuickReplies  int

	// RequestsPerSecond paces outbound model calls across all users; 0 = unpaced.
	RequestsPerSecond float64
	Burst             int

	SummaryLines     int
	SummaryMaxTokens int
	SummaryModel     string
}

// Observer receives one event per model call.
type Observer interface {
	ObserveLLM(ctx context.Context, model string, d time.Duration, err error)
}

// Reply is what a channel renders back to the user.
type Reply struct {
	Text         string        `json:"text"`
	QuickReplies []string      `json:"quickReplies,omitempty"`
	Model        string        `json:"model,omitempty"`
	SessionKey   string        `json:"sessionKey"`
	Fallback     bool          `json:"fallback,omitempty"`
	Latency      time.Duration `json:"latency"`
}

// Service is safe for concurrent use.
type Service struct {
	provider  providers.Provider
	conv      *conversation.Cache
	cfg       Config
	pacer     *rate.Limiter
	exchanges store.ExchangeStore
	observer  Observer
	tracer    trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithExchangeStore records every exchange.
func WithExchangeStore(s store.ExchangeStore) Option { return func(svc *Service) { svc.exchanges = s } }

// WithObserver receives model-call metrics.
func WithObserver(o Observer) Option { return func(svc *Service) { svc.observer = o } }

// New creates a Service. provider may be nil; every call then falls back.
func New(provider providers.Provider, conv *conversation.Cache, cfg Config, opts ...Option) *Service {
	s := &Service{
		provider: provider,
		conv:     conv,
		cfg:      cfg,
		tracer:   otel.Tracer("talkgate/assistant"),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.pacer = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Available reports whether a provider is configured.
func (s *Service) Available() bool { return s.provider != nil }

// Model returns the model used for replies.
func (s *Service) Model() string {
	if s.cfg.Model != "" {
		return s.cfg.Model
	}
	if s.provider != nil {
		return s.provider.DefaultModel()
	}
	return ""
}

// Conversations exposes the cache for the admin surface.
func (s *Service) Conversations() *conversation.Cache { return s.conv }

// Respond answers one user message, continuing the sender's conversation.
// On model failure it returns the fallback reply together with the error;
// the reply is always renderable.
func (s *Service) Respond(ctx context.Context, in channels.Inbound) (Reply, error) {
	text := strings.TrimSpace(in.Content)
	key := in.SessionKey()
	if key == "" {
		// Anonymous senders get a one-off session nothing else can address.
		key = conversation.BuildKey(in.Channel, conversation.PeerDirect, "anon-"+uuid.NewString())
	}

	if text == StartOverCommand {
		s.conv.Clear(key)
		slog.Info("conversation.start_over", "session", key)
		return Reply{Text: StartOverReply, QuickReplies: QuickReplies("", s.cfg.MaxQuickReplies), SessionKey: key}, nil
	}

	history := s.conv.Context(key)
	msgs := make([]providers.Message, 0, len(history)+2)
	msgs = append(msgs, providers.Message{Role: "system", Content: SystemPrompt(s.cfg.BotName, in.Intent)})
	for _, t := range history {
		msgs = append(msgs, providers.Message{Role: t.Role, Content: t.Content})
	}
	msgs = append(msgs, providers.Message{Role: "user", Content: text})

	slog.Debug("assistant.respond",
		"session", key,
		"intent", in.Intent,
		"history_turns", len(history),
		"preview", channels.Preview(text, 60),
	)

	start := time.Now()
	resp, err := s.complete(ctx, s.Model(), msgs, s.cfg.MaxTokens, in.UserID)
	latency := time.Since(start)

	if err != nil {
		slog.Error("assistant.llm_failed", "session", key, "error", err)
		reply := Reply{
			Text:         FallbackReply,
			QuickReplies: capReplies(FallbackQuickReplies, s.cfg.MaxQuickReplies),
			SessionKey:   key,
			Fallback:     true,
			Latency:      latency,
		}
		s.record(ctx, in, key, text, reply)
		return reply, err
	}

	content := strings.TrimSpace(resp.Content)
	// Committed before the reply is sent; a client that disconnects now
	// still has the exchange in its history.
	if err := s.conv.Append(key, text, content); err != nil {
		slog.Warn("conversation.append_failed", "session", key, "error", err)
	}

	reply := Reply{
		Text:         content,
		QuickReplies: QuickReplies(in.Intent, s.cfg.MaxQuickReplies),
		Model:        resp.Model,
		SessionKey:   key,
		Latency:      latency,
	}
	s.record(ctx, in, key, text, reply)
	return reply, nil
}

// Summarize condenses one message into a few lines. It does not read or
// write conversation history.
func (s *Service) Summarize(ctx context.Context, in channels.Inbound) (Reply, error) {
	key := in.SessionKey()
	model := s.cfg.SummaryModel
	if model == "" {
		model = s.Model()
	}
	maxTokens := s.cfg.SummaryMaxTokens
	if maxTokens <= 0 {
		maxTokens = s.cfg.MaxTokens
	}
	msgs := []providers.Message{{Role: "user", Content: messengerbot.SummaryPrompt(s.cfg.SummaryLines, in.Content)}}

	start := time.Now()
	resp, err := s.complete(ctx, model, msgs, maxTokens, in.UserID)
	reply := Reply{SessionKey: key, Model: model, Latency: time.Since(start)}
	if err != nil {
		slog.Error("assistant.summary_failed", "session", key, "error", err)
		reply.Fallback = true
		reply.Text = messengerbot.FallbackReply(in.Content)
		s.record(ctx, in, key, in.Content, reply)
		return reply, err
	}
	reply.Text = messengerbot.FormatSummary(resp.Content)
	if resp.Model != "" {
		reply.Model = resp.Model
	}
	s.record(ctx, in, key, in.Content, reply)
	return reply, nil
}

// complete paces, traces and measures one provider call.
func (s *Service) complete(ctx context.Context, model string, msgs []providers.Message, maxTokens int, user string) (*providers.ChatResponse, error) {
	if s.provider == nil {
		return nil, ErrNoProvider
	}

	ctx, span := s.tracer.Start(ctx, "assistant.complete", trace.WithAttributes(
		attribute.String("llm.provider", s.provider.Name()),
		attribute.String("llm.model", model),
		attribute.Int("llm.messages", len(msgs)),
	))
	defer span.End()

	if s.pacer != nil {
		if err := s.pacer.Wait(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "paced out")
			return nil, fmt.Errorf("wait for model slot: %w", err)
		}
	}

	opts := map[string]interface{}{
		providers.OptTemperature:      s.cfg.Temperature,
		providers.OptPresencePenalty:  s.cfg.PresencePenalty,
		providers.OptFrequencyPenalty: s.cfg.FrequencyPenalty,
	}
	if maxTokens > 0 {
		opts[providers.OptMaxTokens] = maxTokens
	}
	if user != "" {
		opts[providers.OptUser] = user
	}

	start := time.Now()
	resp, err := s.provider.Chat(ctx, providers.ChatRequest{Messages: msgs, Model: model, Options: opts})
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = ErrEmptyCompletion
	}
	if s.observer != nil {
		s.observer.ObserveLLM(ctx, model, time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resp.Usage != nil {
		span.SetAttributes(attribute.Int("llm.total_tokens", resp.Usage.TotalTokens))
	}
	return resp, nil
}

// record writes the exchange outside any store lock. Failures are logged
// and never reach the user. Operator test traffic is not recorded.
func (s *Service) record(ctx context.Context, in channels.Inbound, key, userText string, reply Reply) {
	if s.exchanges == nil || channels.IsInternalChannel(in.Channel) {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	err := s.exchanges.Record(ctx, store.ExchangeData{
		SessionKey: key,
		Channel:    in.Channel,
		UserID:     in.UserID,
		Intent:     in.Intent,
		UserText:   userText,
		Reply:      reply.Text,
		Model:      reply.Model,
		LatencyMS:  reply.Latency.Milliseconds(),
		Fallback:   reply.Fallback,
	})
	if err != nil {
		slog.Warn("exchange.record_failed", "session", key, "error", err)
	}
}

func capReplies(replies []string, max int) []string {
	if max > 0 && len(replies) > max {
		replies = replies[:max]
	}
	return append([]string(nil), replies...)
}
