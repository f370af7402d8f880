package llm

import (
	"errors"
	"fmt"
	"strings"
)

// continueTurnText stands in for a user turn where a provider requires one but the
// conversation has none: before a leading assistant turn, or after a trailing one.
const continueTurnText = "..."

// roleTurn is one provider message built from one or more consecutive same-role turns.
type roleTurn struct {
	Role  string
	Texts []string
}

// alternateTurns prepares messages for providers that require strictly alternating
// user/assistant turns that start and end with a user turn (Bedrock Converse, Gemini
// chat). System turns are returned separately and consecutive same-role turns are merged.
func alternateTurns(messages []ChatMessage) ([]string, []roleTurn, error) {
	var (
		system []string
		turns  []roleTurn
	)
	for _, msg := range messages {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		switch msg.Role {
		case ChatRoleSystem:
			system = append(system, msg.Content)
			continue
		case ChatRoleUser, ChatRoleAssistant:
		default:
			return nil, nil, fmt.Errorf("unsupported role %q", msg.Role)
		}
		if n := len(turns); n > 0 && turns[n-1].Role == msg.Role {
			turns[n-1].Texts = append(turns[n-1].Texts, msg.Content)
			continue
		}
		turns = append(turns, roleTurn{Role: msg.Role, Texts: []string{msg.Content}})
	}

	if len(turns) == 0 {
		return nil, nil, errors.New("at least one user or assistant message is required")
	}
	if turns[0].Role == ChatRoleAssistant {
		turns = append([]roleTurn{{Role: ChatRoleUser, Texts: []string{continueTurnText}}}, turns...)
	}
	if turns[len(turns)-1].Role == ChatRoleAssistant {
		turns = append(turns, roleTurn{Role: ChatRoleUser, Texts: []string{continueTurnText}})
	}
	return system, turns, nil
}
