package email

import (
	"context"

	"github.com/smallbiznis/accessportal/internal/audit/masking"
	"go.uber.org/zap"
)

type Provider interface {
	Send(ctx context.Context, msg Message) error
}

// LogProvider records the message instead of delivering it. It is the
// default transport until a mail relay is configured.
type LogProvider struct {
	log *zap.Logger
}

func NewLogProvider(log *zap.Logger) *LogProvider {
	return &LogProvider{log: log.Named("email.log")}
}

func (p *LogProvider) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipient
	}
	masked := make([]string, 0, len(msg.To))
	for _, to := range msg.To {
		masked = append(masked, masking.MaskSecret(to))
	}
	p.log.Info("email queued",
		zap.Strings("to", masked),
		zap.String("subject", msg.Subject),
		zap.Int("html_bytes", len(msg.HTML)),
		zap.Int("text_bytes", len(msg.Text)),
	)
	return nil
}
