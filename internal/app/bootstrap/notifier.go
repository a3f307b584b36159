package bootstrap

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/clinic-automation/internal/config"
	"github.com/wolfman30/clinic-automation/internal/notify"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// BuildEmailTransport returns the transport named by EMAIL_PROVIDER.
func BuildEmailTransport(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (notify.Transport, error) {
	switch cfg.EmailProvider {
	case "sendgrid":
		t := notify.NewSendGridTransport(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		if t == nil {
			return nil, fmt.Errorf("bootstrap: sendgrid transport requires SENDGRID_API_KEY")
		}
		return t, nil
	case "ses":
		from := cfg.SESFromEmail
		if from == "" {
			from = cfg.Clinic.Email
		}
		return notify.NewSESTransport(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: from,
			FromName:  cfg.Clinic.Name,
		}, logger), nil
	case "", "stub":
		logger.Warn("email delivery stubbed; messages are logged only")
		return notify.NewStubTransport(logger), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown email provider %q", cfg.EmailProvider)
	}
}

// BuildNotifier assembles the notification service. The Slack channel is
// added when SLACK_WEBHOOK_URL is set.
func BuildNotifier(cfg *appconfig.Config, awsCfg aws.Config, observer notify.DeliveryObserver, logger *logging.Logger) (*notify.Notifier, error) {
	if logger == nil {
		logger = logging.Default()
	}
	email, err := BuildEmailTransport(cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	opts := notify.Options{
		Email:       email,
		Clinic:      cfg.Clinic,
		StaffEmails: cfg.StaffEmails,
		AdminEmail:  cfg.AdminEmail,
		Logger:      logger,
		Observer:    observer,
	}
	if cfg.SlackWebhookURL != "" {
		opts.Chat = notify.NewSlackTransport(cfg.SlackWebhookURL, nil)
	}
	return notify.New(opts), nil
}
