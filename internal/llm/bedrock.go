package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type bedrockConverseStreamAPI interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// converseEventReader is the subset of *bedrockruntime.ConverseStreamEventStream we consume.
type converseEventReader interface {
	Events() <-chan brtypes.ConverseStreamOutput
	Close() error
	Err() error
}

func openBedrockStream(ctx context.Context, api bedrockConverseStreamAPI, req Request) (Stream, error) {
	input, err := buildConverseStreamInput(req)
	if err != nil {
		return nil, err
	}
	out, err := api.ConverseStream(ctx, input)
	if err != nil {
		return nil, err
	}
	events := out.GetStream()
	if events == nil {
		return nil, errors.New("bedrock stream is nil")
	}
	return newBedrockStream(events), nil
}

func buildConverseStreamInput(req Request) (*bedrockruntime.ConverseStreamInput, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, errors.New("bedrock model id is required")
	}

	system, turns, err := alternateTurns(req.Messages)
	if err != nil {
		return nil, err
	}
	var systemBlocks []brtypes.SystemContentBlock
	for _, text := range system {
		systemBlocks = append(systemBlocks, &brtypes.SystemContentBlockMemberText{Value: text})
	}
	messages := make([]brtypes.Message, 0, len(turns))
	for _, turn := range turns {
		role := brtypes.ConversationRoleUser
		if turn.Role == ChatRoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		messages = append(messages, bedrockTextMessage(role, turn.Texts))
	}

	return &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(req.Model),
		System:   systemBlocks,
		Messages: messages,
	}, nil
}

func bedrockTextMessage(role brtypes.ConversationRole, texts []string) brtypes.Message {
	content := make([]brtypes.ContentBlock, 0, len(texts))
	for _, text := range texts {
		content = append(content, &brtypes.ContentBlockMemberText{Value: text})
	}
	return brtypes.Message{Role: role, Content: content}
}

type bedrockStream struct {
	reader converseEventReader
	done   bool

	closeOnce sync.Once
	closeErr  error
}

func newBedrockStream(reader converseEventReader) *bedrockStream {
	return &bedrockStream{reader: reader}
}

func (s *bedrockStream) Recv() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}
	for {
		event, ok := <-s.reader.Events()
		if !ok {
			s.done = true
			if err := s.reader.Err(); err != nil {
				return Chunk{}, err
			}
			return Chunk{}, io.EOF
		}
		switch v := event.(type) {
		case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
			if text, ok := v.Value.Delta.(*brtypes.ContentBlockDeltaMemberText); ok {
				return Chunk{Text: text.Value}, nil
			}
		case *brtypes.ConverseStreamOutputMemberMessageStop:
			return Chunk{FinishReason: string(v.Value.StopReason)}, nil
		}
	}
}

func (s *bedrockStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.reader.Close()
	})
	return s.closeErr
}
