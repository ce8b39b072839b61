package notify

import (
	"context"
	"log/slog"

	"github.com/cedromirror/talkcart-web-sub008/internal/app/policies"
)

// LogNotifier writes notifications to the structured log. It backs the notifier
// binary until a push or email transport is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Send(ctx context.Context, to string, template string, data any) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification", "to", to, "template", template, "data", data)
	return nil
}

var _ policies.Notifier = LogNotifier{}
