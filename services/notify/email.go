package notifysvc

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/user"
)

// EmailNotifier delivers notifications over mail. Action buttons become
// links into the frontend.
type EmailNotifier struct {
	conf    *core.Config
	usrSvc  user.ServiceInterface
	mailSvc core.EmailService
	logger  core.Logger
}

var _ core.Notifier = (*EmailNotifier)(nil)

func NewEmailNotifier(conf *core.Config, usrSvc user.ServiceInterface, mailSvc core.EmailService, logger core.Logger) *EmailNotifier {
	return &EmailNotifier{
		conf:    conf,
		usrSvc:  usrSvc,
		mailSvc: mailSvc,
		logger:  logger,
	}
}

func (n *EmailNotifier) Notify(ctx context.Context, notif core.Notification) {
	usr, err := n.usrSvc.GetByID(ctx, notif.Recipient)
	if err != nil {
		n.logger.Warn("notification recipient not found", "recipient", notif.Recipient, "err", err)
		return
	}
	if usr.Email == "" {
		return
	}

	body := notif.Message
	for _, action := range notif.Actions {
		body += fmt.Sprintf("\n%s: %s/leave-requests/%s?action=%s",
			action.Label, n.conf.FrontendBaseURL, action.RequestID, action.Action)
	}
	n.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject: notif.Subject,
		Body:    body,
	})
}
