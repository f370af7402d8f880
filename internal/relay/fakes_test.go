package relay

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/wolfman30/chat-relay/internal/llm"
	"github.com/wolfman30/chat-relay/internal/provider"
)

type step struct {
	chunk llm.Chunk
	err   error
}

func text(s string) step { return step{chunk: llm.Chunk{Text: s}} }

func fail(err error) step { return step{err: err} }

// fakeStream replays steps, then reports io.EOF. If block is set it waits for Close
// once the steps run out.
type fakeStream struct {
	mu     sync.Mutex
	steps  []step
	block  bool
	closed chan struct{}
	once   sync.Once
}

func newFakeStream(steps ...step) *fakeStream {
	return &fakeStream{steps: steps, closed: make(chan struct{})}
}

func (s *fakeStream) Recv() (llm.Chunk, error) {
	s.mu.Lock()
	if len(s.steps) > 0 {
		next := s.steps[0]
		s.steps = s.steps[1:]
		s.mu.Unlock()
		return next.chunk, next.err
	}
	block := s.block
	s.mu.Unlock()
	if block {
		<-s.closed
		return llm.Chunk{}, errors.New("stream closed")
	}
	return llm.Chunk{}, io.EOF
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeResolver struct {
	configs      map[string]provider.Config
	errs         map[string]error
	defaultModel string
}

func (f *fakeResolver) Resolve(modelID string) (provider.Config, error) {
	if err, ok := f.errs[modelID]; ok {
		return provider.Config{}, err
	}
	cfg, ok := f.configs[modelID]
	if !ok {
		return provider.Config{}, provider.ErrUnsupportedModel
	}
	return cfg, nil
}

func (f *fakeResolver) DefaultModel() string { return f.defaultModel }

func (f *fakeResolver) Models() []provider.ModelInfo {
	var out []provider.ModelInfo
	for model, cfg := range f.configs {
		out = append(out, provider.ModelInfo{Model: model, Kind: cfg.Kind, Configured: true})
	}
	return out
}

func newFakeResolver(models ...string) *fakeResolver {
	r := &fakeResolver{configs: map[string]provider.Config{}, errs: map[string]error{}}
	for _, m := range models {
		r.configs[m] = provider.Config{
			Model:         m,
			Kind:          provider.KindOpenAI,
			CredentialRef: "TEST_API_KEY",
			Credential:    "sk-test",
			BaseURL:       "https://llm.example.com/v1",
		}
	}
	if len(models) > 0 {
		r.defaultModel = models[0]
	}
	return r
}

type fakeInvoker struct {
	mu       sync.Mutex
	calls    []llm.Request
	configs  []provider.Config
	stream   llm.Stream
	err      error
	openHook func(ctx context.Context) (llm.Stream, error)
}

func (f *fakeInvoker) Open(ctx context.Context, cfg provider.Config, req llm.Request) (llm.Stream, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.configs = append(f.configs, cfg)
	f.mu.Unlock()
	if f.openHook != nil {
		return f.openHook(ctx)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingSink struct {
	events []StreamEvent
	err    error
	failAt int
}

func (s *recordingSink) Send(ev StreamEvent) error {
	if s.err != nil && len(s.events) == s.failAt {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) contents() []string {
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Content)
	}
	return out
}
