package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// geminiOpener opens a Gemini stream; replaced in tests.
type geminiOpener func(ctx context.Context, apiKey string, req Request) (Stream, error)

func openGeminiStream(ctx context.Context, apiKey string, req Request) (Stream, error) {
	system, history, last, err := splitGeminiMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	model := client.GenerativeModel(req.Model)
	if system != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}
	cs := model.StartChat()
	cs.History = history

	return &geminiStream{
		it:     cs.SendMessageStream(ctx, last...),
		client: client,
		cancel: cancel,
	}, nil
}

// splitGeminiMessages maps the assembled context onto Gemini's chat model: system turns
// become the system instruction, the final user turn is the message sent and the turns
// before it are chat history.
func splitGeminiMessages(messages []ChatMessage) (string, []*genai.Content, []genai.Part, error) {
	system, turns, err := alternateTurns(messages)
	if err != nil {
		return "", nil, nil, err
	}

	history := make([]*genai.Content, 0, len(turns)-1)
	for _, turn := range turns[:len(turns)-1] {
		role := "user"
		if turn.Role == ChatRoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: geminiParts(turn.Texts)})
	}
	return strings.Join(system, "\n\n"), history, geminiParts(turns[len(turns)-1].Texts), nil
}

func geminiParts(texts []string) []genai.Part {
	parts := make([]genai.Part, 0, len(texts))
	for _, text := range texts {
		parts = append(parts, genai.Text(text))
	}
	return parts
}

type geminiStream struct {
	it     *genai.GenerateContentResponseIterator
	client *genai.Client
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func (s *geminiStream) Recv() (Chunk, error) {
	resp, err := s.it.Next()
	if errors.Is(err, iterator.Done) {
		return Chunk{}, io.EOF
	}
	if err != nil {
		return Chunk{}, err
	}
	if len(resp.Candidates) == 0 {
		return Chunk{}, nil
	}
	candidate := resp.Candidates[0]
	var chunk Chunk
	if candidate.FinishReason != genai.FinishReasonUnspecified {
		chunk.FinishReason = candidate.FinishReason.String()
	}
	if candidate.Content != nil {
		var b strings.Builder
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		chunk.Text = b.String()
	}
	return chunk, nil
}

func (s *geminiStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}
