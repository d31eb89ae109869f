package infrastructure

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/yourusername/fetchq-go/internal/domain"
	"github.com/yourusername/fetchq-go/pkg/logger"
)

// Notifier sends desktop notifications for finished tasks
type Notifier struct {
	method string
	run    func(ctx context.Context, name string, args ...string) error
	logger *zap.Logger
}

// NewNotifier creates a notifier using osascript or notify-send
func NewNotifier(method string, log *zap.Logger) *Notifier {
	return &Notifier{
		method: method,
		run:    runCommand,
		logger: logger.OrNop(log),
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// Publish notifies on completed and failed tasks and ignores other events
func (n *Notifier) Publish(ctx context.Context, event domain.TaskEvent) error {
	var title, message string
	switch event.Type {
	case domain.EventCompleted:
		title = "Download Completed"
		message = "Success: " + truncateString(event.Source, 30)
	case domain.EventFailed:
		title = "Download Failed"
		message = fmt.Sprintf("Failed: %s (%s)", truncateString(event.Source, 30), event.Category)
	default:
		return nil
	}
	return n.Send(ctx, title, message)
}

// Send shows a single notification
func (n *Notifier) Send(ctx context.Context, title, message string) error {
	var err error
	switch n.method {
	case "osascript":
		script := fmt.Sprintf(`display notification %s with title %s`, appleScriptString(message), appleScriptString(title))
		err = n.run(ctx, "osascript", "-e", script)
	case "notify-send":
		err = n.run(ctx, "notify-send", title, message)
	default:
		n.logger.Warn("Unknown notification method", zap.String("method", n.method))
		return nil
	}

	if err != nil {
		n.logger.Error("Failed to send notification", zap.String("method", n.method), zap.Error(err))
		return fmt.Errorf("failed to send notification: %w", err)
	}

	n.logger.Debug("Notification sent", zap.String("title", title), zap.String("message", message))
	return nil
}

func appleScriptString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// truncateString truncates a string to the specified length
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
