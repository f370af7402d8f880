package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"github.com/wolfman30/chat-relay/internal/provider"
)

func (i *Invoker) openOpenAI(ctx context.Context, cfg provider.Config, req Request) (Stream, error) {
	clientCfg := openai.DefaultConfig(cfg.Credential)
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.HTTPClient = i.httpClient
	client := openai.NewClientWithConfig(clientCfg)

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
	}

	stream, err := client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fromOpenAIError(err)
	}
	return &openAIStream{stream: stream}, nil
}

// fromOpenAIError lifts go-openai errors into *UpstreamError, keeping the HTTP status.
func fromOpenAIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &UpstreamError{
			StatusCode: reqErr.HTTPStatusCode,
			Message:    parseOpenAIErrorMessage(reqErr.Body, reqErr.HTTPStatusCode),
			Err:        err,
		}
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.HTTPStatusCode)
		}
		return &UpstreamError{
			StatusCode: apiErr.HTTPStatusCode,
			Message:    msg,
			Err:        err,
		}
	}
	return err
}

// parseOpenAIErrorMessage extracts the provider message from an error body go-openai
// could not decode. Some compatible endpoints return a flat {"message": ...}.
func parseOpenAIErrorMessage(raw []byte, status int) string {
	var env struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &env); err == nil {
		if env.Error != nil && env.Error.Message != "" {
			return env.Error.Message
		}
		if env.Message != "" {
			return env.Message
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return http.StatusText(status)
}

// openAIStream adapts *openai.ChatCompletionStream. go-openai reports both [DONE] and a
// connection closed without it as io.EOF.
type openAIStream struct {
	stream *openai.ChatCompletionStream

	closeOnce sync.Once
	closeErr  error
}

func (s *openAIStream) Recv() (Chunk, error) {
	resp, err := s.stream.Recv()
	if errors.Is(err, io.EOF) {
		return Chunk{}, io.EOF
	}
	if err != nil {
		if uerr := fromOpenAIError(err); uerr != err {
			return Chunk{}, uerr
		}
		return Chunk{}, fmt.Errorf("read stream chunk: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Chunk{}, nil
	}
	choice := resp.Choices[0]
	return Chunk{Text: choice.Delta.Content, FinishReason: string(choice.FinishReason)}, nil
}

func (s *openAIStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.stream.Close()
	})
	return s.closeErr
}
