package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/wolfman30/chat-relay/internal/llm"
	"github.com/wolfman30/chat-relay/internal/observability/metrics"
	"github.com/wolfman30/chat-relay/internal/provider"
	"github.com/wolfman30/chat-relay/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var relayTracer = otel.Tracer("chatrelay.internal.relay")

// unresolvedModelLabel labels metrics for requests rejected before the model resolved.
const unresolvedModelLabel = "unknown"

// ConversationRequest is one incoming chat turn.
type ConversationRequest struct {
	Message        string
	PersonaPrompt  string
	History        []llm.ChatMessage
	AgentName      string
	InsertionIndex int
	ModelID        string
}

// ProviderResolver looks up provider configs by model id.
type ProviderResolver interface {
	Resolve(modelID string) (provider.Config, error)
	DefaultModel() string
}

// CompletionInvoker opens an upstream streaming completion.
type CompletionInvoker interface {
	Open(ctx context.Context, cfg provider.Config, req llm.Request) (llm.Stream, error)
}

// Options bounds upstream waits. Zero disables a bound.
type Options struct {
	HandshakeTimeout  time.Duration
	StreamMaxDuration time.Duration
}

// Service runs the relay pipeline: validate, resolve, compose, assemble, invoke.
type Service struct {
	resolver ProviderResolver
	invoker  CompletionInvoker
	metrics  *metrics.RelayMetrics
	logger   *logging.Logger
	opts     Options
}

// NewService wires a relay service.
func NewService(resolver ProviderResolver, invoker CompletionInvoker, m *metrics.RelayMetrics, logger *logging.Logger, opts Options) *Service {
	if resolver == nil {
		panic("relay: provider resolver cannot be nil")
	}
	if invoker == nil {
		panic("relay: completion invoker cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		resolver: resolver,
		invoker:  invoker,
		metrics:  m,
		logger:   logger,
		opts:     opts,
	}
}

// Reply is an upstream stream that has produced its first chunk (or finished) and is
// ready to be relayed. Callers must call Stream or Close exactly once.
type Reply struct {
	Model string

	ctx     context.Context
	cancel  context.CancelFunc
	stream  llm.Stream
	started time.Time
}

// Close abandons the upstream stream.
func (r *Reply) Close() {
	_ = r.stream.Close()
	r.cancel()
}

// Open validates req and opens the upstream stream. Nothing is sent upstream when the
// request is invalid, the model unknown or its credential missing. Upstream failures
// that happen before the first chunk are returned here, so the caller can still
// answer with a plain error response.
func (s *Service) Open(ctx context.Context, req ConversationRequest) (reply *Reply, err error) {
	model := strings.TrimSpace(req.ModelID)
	if model == "" {
		model = s.resolver.DefaultModel()
	}

	ctx, span := relayTracer.Start(ctx, "relay.open")
	defer span.End()
	span.SetAttributes(
		attribute.String("chatrelay.model", model),
		attribute.Int("chatrelay.history_len", len(req.History)),
		attribute.Int("chatrelay.insertion_index", req.InsertionIndex),
	)
	// Client-supplied ids only become metric labels once the registry accepts them.
	metricModel := unresolvedModelLabel
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.metrics.ObserveRequest(metricModel, outcomeFor(err))
			s.logger.Warn("relay: request rejected", "model", model, "error", err)
		}
	}()

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	cfg, err := s.resolver.Resolve(model)
	if err != nil {
		if errors.Is(err, provider.ErrMissingCredential) {
			metricModel = model
		}
		return nil, err
	}
	metricModel = model
	messages, err := AssembleContext(ComposeSystemPrompt(req.PersonaPrompt, req.AgentName), req.History, req.Message, req.InsertionIndex)
	if err != nil {
		return nil, err
	}

	var (
		streamCtx    context.Context
		cancelStream context.CancelFunc
	)
	if s.opts.StreamMaxDuration > 0 {
		streamCtx, cancelStream = context.WithTimeout(ctx, s.opts.StreamMaxDuration)
	} else {
		streamCtx, cancelStream = context.WithCancel(ctx)
	}
	handshakeCtx, cancelHandshake := context.WithCancelCause(streamCtx)
	cancel := func() {
		cancelHandshake(nil)
		cancelStream()
	}
	var timer *time.Timer
	if s.opts.HandshakeTimeout > 0 {
		timer = time.AfterFunc(s.opts.HandshakeTimeout, func() { cancelHandshake(ErrHandshakeTimeout) })
	}
	// stopTimer reports whether the watchdog had already fired.
	stopTimer := func() bool {
		return timer != nil && !timer.Stop()
	}

	started := time.Now()
	stream, err := s.invoker.Open(handshakeCtx, cfg, llm.Request{Model: model, Messages: messages})
	if err == nil {
		stream, err = prime(stream)
	}
	if stopTimer() && err == nil {
		_ = stream.Close()
		err = ErrHandshakeTimeout
	}
	s.metrics.ObserveHandshake(model, err == nil, time.Since(started).Seconds())
	if err != nil {
		if errors.Is(context.Cause(handshakeCtx), ErrHandshakeTimeout) && !errors.Is(err, ErrHandshakeTimeout) {
			err = fmt.Errorf("%w after %s: %w", ErrHandshakeTimeout, s.opts.HandshakeTimeout, err)
		}
		cancel()
		return nil, err
	}

	s.logger.Debug("relay: upstream stream opened",
		"model", model,
		"provider", cfg.Kind,
		"turns", len(messages),
		"handshake_ms", time.Since(started).Milliseconds(),
	)
	return &Reply{
		Model:   model,
		ctx:     handshakeCtx,
		cancel:  cancel,
		stream:  stream,
		started: started,
	}, nil
}

// Stream relays the reply into sink and closes the upstream stream. A nil error means
// the upstream finished cleanly.
func (s *Service) Stream(reply *Reply, sink EventSink) error {
	defer reply.Close()

	ctx, span := relayTracer.Start(reply.ctx, "relay.stream")
	defer span.End()

	res, err := Transcode(ctx, reply.stream, sink)
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = outcomeFor(err)
		if errors.Is(context.Cause(reply.ctx), context.DeadlineExceeded) {
			outcome = metrics.OutcomeTimeout
		}
	}
	elapsed := time.Since(reply.started)
	s.metrics.ObserveRequest(reply.Model, outcome)
	s.metrics.ObserveStream(reply.Model, outcome, res.Events, elapsed.Seconds())
	span.SetAttributes(
		attribute.Int("chatrelay.events", res.Events),
		attribute.String("chatrelay.state", res.State.String()),
		attribute.String("chatrelay.finish_reason", res.FinishReason),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("relay: stream ended with error",
			"model", reply.Model,
			"events", res.Events,
			"outcome", outcome,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return err
	}
	s.logger.Info("relay: stream completed",
		"model", reply.Model,
		"events", res.Events,
		"finish_reason", res.FinishReason,
		"duration_ms", elapsed.Milliseconds(),
	)
	return nil
}

func validateRequest(req ConversationRequest) error {
	if strings.TrimSpace(req.Message) == "" {
		return invalidRequest("message is required")
	}
	if strings.TrimSpace(req.AgentName) == "" {
		return invalidRequest("aiName is required")
	}
	if req.InsertionIndex < 0 {
		return fmt.Errorf("%w: index %d is negative", ErrInvalidInsertionIndex, req.InsertionIndex)
	}
	for i, turn := range req.History {
		switch turn.Role {
		case llm.ChatRoleUser, llm.ChatRoleAssistant:
		case llm.ChatRoleSystem:
			return invalidRequest("history[%d]: system turns are not accepted", i)
		default:
			return invalidRequest("history[%d]: unknown role %q", i, turn.Role)
		}
		if strings.TrimSpace(turn.Content) == "" {
			return invalidRequest("history[%d]: content is required", i)
		}
	}
	return nil
}

// prime pulls from stream until the first non-empty fragment or a clean end, so that
// handshake failures surface before any response is committed.
func prime(stream llm.Stream) (llm.Stream, error) {
	p := &primedStream{Stream: stream}
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			p.eof = true
			return p, nil
		}
		if err != nil {
			_ = stream.Close()
			return nil, err
		}
		p.head = append(p.head, chunk)
		if chunk.Text != "" {
			return p, nil
		}
	}
}

type primedStream struct {
	llm.Stream
	head []llm.Chunk
	eof  bool
}

func (p *primedStream) Recv() (llm.Chunk, error) {
	if len(p.head) > 0 {
		chunk := p.head[0]
		p.head = p.head[1:]
		return chunk, nil
	}
	if p.eof {
		return llm.Chunk{}, io.EOF
	}
	return p.Stream.Recv()
}

func outcomeFor(err error) string {
	var uerr *llm.UpstreamError
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrInvalidRequest):
		return metrics.OutcomeInvalid
	case errors.Is(err, provider.ErrUnsupportedModel):
		return metrics.OutcomeUnsupported
	case errors.Is(err, provider.ErrMissingCredential):
		return metrics.OutcomeNoCredential
	case errors.Is(err, ErrHandshakeTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, ErrDownstreamClosed):
		return metrics.OutcomeClientGone
	case errors.As(err, &uerr):
		return metrics.OutcomeUpstreamError
	default:
		return metrics.OutcomeStreamError
	}
}
