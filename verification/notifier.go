package verification

import (
	"context"
	"log/slog"
	"time"

	"votechain/observability/logging"
)

// OTPMessage is handed to a Notifier for delivery to the voter.
type OTPMessage struct {
	UserID    string
	Code      string
	ExpiresAt time.Time
}

// Notifier delivers one-time codes out of band (SMS, email).
type Notifier interface {
	DeliverOTP(ctx context.Context, msg OTPMessage) error
}

// LogNotifier logs delivery with the code redacted. Intended for development
// and testing.
type LogNotifier struct {
	Logger *slog.Logger
}

// DeliverOTP logs the delivery.
func (n *LogNotifier) DeliverOTP(ctx context.Context, msg OTPMessage) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "deliver verification code",
		logging.MaskField("userId", msg.UserID),
		logging.MaskField("code", msg.Code),
		slog.Time("expiresAt", msg.ExpiresAt))
	return nil
}
