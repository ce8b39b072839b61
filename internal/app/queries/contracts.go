package queries

import (
	"context"
	"errors"
	"fmt"
)

// Query is a read request. Keys share the command namespace ("chat.message.list").
type Query interface {
	Key() string
}

type Handler[Q Query, R any] interface {
	Handle(ctx context.Context, query Q) (R, error)
}

// Bus routes queries to registered handlers.
type Bus interface {
	Ask(ctx context.Context, query Query) (any, error)
}

var (
	ErrHandlerNotFound = errors.New("queries: handler not found")
	ErrInvalidQuery    = errors.New("queries: invalid query for handler")
	ErrResultType      = errors.New("queries: result type mismatch")
	ErrNilBus          = errors.New("queries: nil bus")
	ErrBadWindow       = errors.New("queries: page and limit must not be negative")
)

// CheckWindow rejects negative paging input. Zero means "first page" and "default size".
func CheckWindow(page, limit int) error {
	if page < 0 || limit < 0 {
		return fmt.Errorf("%w (page=%d limit=%d)", ErrBadWindow, page, limit)
	}
	return nil
}

// Ask runs the query through the bus and asserts the result type.
func Ask[Q Query, R any](ctx context.Context, bus Bus, query Q) (R, error) {
	var zero R
	if bus == nil {
		return zero, ErrNilBus
	}
	res, err := bus.Ask(ctx, query)
	if err != nil || res == nil {
		return zero, err
	}
	switch value := res.(type) {
	case R:
		return value, nil
	case *R:
		if value != nil {
			return *value, nil
		}
	}
	return zero, fmt.Errorf("%w: %s returned %T", ErrResultType, query.Key(), res)
}
