package relay

import (
	"fmt"

	"github.com/wolfman30/chat-relay/internal/llm"
)

// MaxHistoryTurns bounds how many prior turns are forwarded upstream.
const MaxHistoryTurns = 10

// RetainHistory returns the most recent MaxHistoryTurns entries of history.
func RetainHistory(history []llm.ChatMessage) []llm.ChatMessage {
	if len(history) <= MaxHistoryTurns {
		return history
	}
	return history[len(history)-MaxHistoryTurns:]
}

// InsertionPosition maps an offset counted from the end of the retained history to an
// index into it. k=0 appends; k=retained places the turn before all history.
func InsertionPosition(retained, k int) (int, error) {
	if k < 0 || k > retained {
		return 0, fmt.Errorf("%w: index %d with %d retained turns", ErrInvalidInsertionIndex, k, retained)
	}
	return retained - k, nil
}

// AssembleContext builds [system] ++ last10(history) with the user message inserted k
// turns from the end. The result always has exactly one system turn, at index 0.
func AssembleContext(system string, history []llm.ChatMessage, message string, k int) ([]llm.ChatMessage, error) {
	retained := RetainHistory(history)
	pos, err := InsertionPosition(len(retained), k)
	if err != nil {
		return nil, err
	}

	out := make([]llm.ChatMessage, 0, len(retained)+2)
	out = append(out, llm.ChatMessage{Role: llm.ChatRoleSystem, Content: system})
	out = append(out, retained[:pos]...)
	out = append(out, llm.ChatMessage{Role: llm.ChatRoleUser, Content: message})
	out = append(out, retained[pos:]...)
	return out, nil
}
