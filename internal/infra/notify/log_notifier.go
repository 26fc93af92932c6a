// Package notify holds the fallback Notifier used when no broker is configured.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
)

// LogNotifier writes notifications to the log instead of delivering them.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, msg *domain.Notification) error {
	n.logger.Info("notification",
		zap.String("kind", string(msg.Kind)),
		zap.String("account_id", msg.AccountID),
		zap.String("reference_id", msg.ReferenceID),
		zap.String("subject", msg.Subject),
	)
	return nil
}
