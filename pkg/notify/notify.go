// Package notify delivers operator notifications. Delivery is always
// best-effort: a failed notification never fails the trade that
// triggered it.
package notify

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"
)

// Notifier sends a human-readable message to an operator channel.
type Notifier interface {
	Notify(ctx context.Context, subject, message string) error
}

// LogNotifier writes notifications to the service log. Used when no
// external channel is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, subject, message string) error {
	logx.WithContext(ctx).Infof("notify: %s: %s", subject, message)
	return nil
}

// Multi fans a notification out to several channels. All channels are
// attempted; the first error is returned.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, subject, message string) error {
	var firstErr error
	for _, n := range m {
		if err := n.Notify(ctx, subject, message); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
