package email

import (
	"github.com/smallbiznis/accessportal/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

// NewFromConfig picks the transport named by EMAIL_TRANSPORT. Anything other
// than "smtp" logs messages only.
func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	if cfg.Email.Transport == "smtp" && cfg.Email.SMTPHost != "" {
		return NewSMTP(Config{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
			From:     cfg.Email.SMTPFrom,
		})
	}
	return NewLogProvider(log)
}
