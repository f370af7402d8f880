package relay

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest        = errors.New("relay: invalid request")
	ErrInvalidInsertionIndex = fmt.Errorf("%w: insertion index out of range", ErrInvalidRequest)
	ErrHandshakeTimeout      = errors.New("relay: upstream did not start streaming in time")
	ErrDownstreamClosed      = errors.New("relay: client stream closed")
)

func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
