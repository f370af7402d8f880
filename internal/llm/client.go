package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/wolfman30/chat-relay/internal/provider"
	"github.com/wolfman30/chat-relay/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is one turn of the conversation sent upstream.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a streaming completion request. Model is passed to the provider verbatim.
type Request struct {
	Model    string
	Messages []ChatMessage
}

// Chunk is one incremental piece of the upstream reply. Text may be empty for
// role-only or metadata chunks.
type Chunk struct {
	Text         string
	FinishReason string
}

// Stream is a pull-based upstream reply. Recv returns io.EOF once the provider
// finished cleanly. Close abandons the upstream request and is safe to call twice.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// UpstreamError is returned for every provider failure: transport errors,
// rejected handshakes and mid-stream failures.
type UpstreamError struct {
	Provider   string
	Model      string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm: %s %s: status %d: %s", e.Provider, e.Model, e.StatusCode, msg)
	}
	return fmt.Sprintf("llm: %s %s: %s", e.Provider, e.Model, msg)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

var llmTracer = otel.Tracer("chatrelay.internal.llm")

// Invoker opens streaming completions against the provider selected by the registry.
type Invoker struct {
	httpClient *http.Client
	bedrock    bedrockConverseStreamAPI
	gemini     geminiOpener
	logger     *logging.Logger
}

// InvokerOption customizes an Invoker.
type InvokerOption func(*Invoker)

// WithHTTPClient sets the client used for OpenAI-compatible providers.
func WithHTTPClient(c *http.Client) InvokerOption {
	return func(i *Invoker) {
		if c != nil {
			i.httpClient = c
		}
	}
}

// WithBedrock enables the bedrock provider kind.
func WithBedrock(api bedrockConverseStreamAPI) InvokerOption {
	return func(i *Invoker) {
		i.bedrock = api
	}
}

// WithLogger sets the invoker logger.
func WithLogger(logger *logging.Logger) InvokerOption {
	return func(i *Invoker) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// NewInvoker builds an invoker. The default HTTP client has no overall timeout
// because replies are streamed; callers bound requests through the context.
func NewInvoker(opts ...InvokerOption) *Invoker {
	inv := &Invoker{
		httpClient: &http.Client{},
		gemini:     openGeminiStream,
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Open starts a streaming completion. Errors are always *UpstreamError.
func (i *Invoker) Open(ctx context.Context, cfg provider.Config, req Request) (Stream, error) {
	ctx, span := llmTracer.Start(ctx, "llm.open")
	defer span.End()
	span.SetAttributes(
		attribute.String("chatrelay.llm.kind", string(cfg.Kind)),
		attribute.String("chatrelay.llm.provider", providerName(cfg)),
		attribute.String("chatrelay.llm.model", req.Model),
		attribute.Int("chatrelay.llm.messages", len(req.Messages)),
	)

	var (
		stream Stream
		err    error
	)
	switch cfg.Kind {
	case provider.KindOpenAI:
		stream, err = i.openOpenAI(ctx, cfg, req)
	case provider.KindBedrock:
		if i.bedrock == nil {
			err = errors.New("bedrock client is not configured")
			break
		}
		stream, err = openBedrockStream(ctx, i.bedrock, req)
	case provider.KindGemini:
		stream, err = i.gemini(ctx, cfg.Credential, req)
	default:
		err = fmt.Errorf("unsupported provider kind %q", cfg.Kind)
	}
	if err != nil {
		uerr := asUpstreamError(cfg, req.Model, err)
		span.RecordError(uerr)
		span.SetStatus(codes.Error, uerr.Message)
		i.logger.Warn("llm: upstream open failed",
			"provider", uerr.Provider,
			"model", req.Model,
			"status", uerr.StatusCode,
			"error", uerr.Message,
		)
		return nil, uerr
	}
	return &upstreamStream{Stream: stream, cfg: cfg, model: req.Model}, nil
}

// upstreamStream normalizes Recv errors into *UpstreamError.
type upstreamStream struct {
	Stream
	cfg   provider.Config
	model string
}

func (s *upstreamStream) Recv() (Chunk, error) {
	chunk, err := s.Stream.Recv()
	if err != nil && !errors.Is(err, io.EOF) {
		return Chunk{}, asUpstreamError(s.cfg, s.model, err)
	}
	return chunk, err
}

func asUpstreamError(cfg provider.Config, model string, err error) *UpstreamError {
	var uerr *UpstreamError
	if errors.As(err, &uerr) {
		if uerr.Provider == "" {
			uerr.Provider = providerName(cfg)
		}
		if uerr.Model == "" {
			uerr.Model = model
		}
		return uerr
	}
	return &UpstreamError{
		Provider: providerName(cfg),
		Model:    model,
		Message:  err.Error(),
		Err:      err,
	}
}

func providerName(cfg provider.Config) string {
	if cfg.Kind == provider.KindOpenAI {
		if u, err := url.Parse(cfg.BaseURL); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return string(cfg.Kind)
}
