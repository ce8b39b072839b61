package middleware

import (
	"context"

	"github.com/cedromirror/talkcart-web-sub008/internal/app/commands"
	"github.com/cedromirror/talkcart-web-sub008/internal/app/queries"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
)

type Authorizer interface {
	Authorize(ctx context.Context, message any) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, message any) error

func (f AuthorizerFunc) Authorize(ctx context.Context, message any) error {
	return f(ctx, message)
}

// Actored is implemented by messages issued on behalf of an authenticated user.
type Actored interface {
	Actor() string
}

// RequireActor rejects actored messages that carry no user.
var RequireActor = AuthorizerFunc(func(_ context.Context, message any) error {
	if m, ok := message.(Actored); ok && m.Actor() == "" {
		return conversation.ErrForbidden
	}
	return nil
})

func Authorization(a Authorizer) CommandMiddleware {
	if a == nil {
		panic("middleware: authorizer required")
	}
	return func(next commands.Bus) commands.Bus {
		nextFn := wrapCommand(next)
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			if err := a.Authorize(ctx, cmd); err != nil {
				return nil, err
			}
			return nextFn(ctx, cmd)
		})
	}
}

func QueryAuthorization(a Authorizer) QueryMiddleware {
	if a == nil {
		panic("middleware: authorizer required")
	}
	return func(next queries.Bus) queries.Bus {
		nextFn := wrapQuery(next)
		return queryFunc(func(ctx context.Context, q queries.Query) (any, error) {
			if err := a.Authorize(ctx, q); err != nil {
				return nil, err
			}
			return nextFn(ctx, q)
		})
	}
}
