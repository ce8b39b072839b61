package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/cedromirror/talkcart-web-sub008/internal/app/commands"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
)

// CommandObserver receives the outcome of every dispatched command.
type CommandObserver interface {
	ObserveCommand(key, outcome string, took time.Duration)
}

// Logging logs failed commands and reports every outcome to the observer, if any.
func Logging(logger *slog.Logger, observer CommandObserver) CommandMiddleware {
	return func(next commands.Bus) commands.Bus {
		nextFn := wrapCommand(next)
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			start := time.Now()
			res, err := nextFn(ctx, cmd)
			outcome := "ok"
			if err != nil {
				outcome = "error"
				if code, ok := conversation.CodeOf(err); ok {
					outcome = string(code)
				} else if logger != nil {
					logger.Error("command failed", "command", cmd.Key(), "error", err)
				}
			}
			if observer != nil {
				observer.ObserveCommand(cmd.Key(), outcome, time.Since(start))
			}
			return res, err
		})
	}
}
