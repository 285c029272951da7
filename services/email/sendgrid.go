package emailsvc

import (
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/trezcool/masomo-live/core"
)

var (
	host     = "https://api.sendgrid.com"
	endpoint = "/v3/mail/send"
)

const (
	sendAttempts = 4
	sendBackoff  = 500 * time.Millisecond
)

// errRetryable marks a delivery failure worth another attempt.
type errRetryable struct{ error }

type sendgridService struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
	tmpls      *core.EmailTemplates
	logger     core.Logger

	api      func(rest.Request) (*rest.Response, error)
	attempts int
	backoff  time.Duration // doubled after each failed attempt
}

var _ core.EmailService = (*sendgridService)(nil)

// NewSendgridService returns an email service delivering through the SendGrid v3 API.
func NewSendgridService(conf *core.Config, tmpls *core.EmailTemplates, logger core.Logger) core.EmailService {
	from := conf.DefaultFromEmail()
	return &sendgridService{
		key:        conf.SendgridApiKey,
		from:       sgmail.NewEmail(from.Name, from.Address),
		subjPrefix: "[" + conf.AppName + "] ",
		tmpls:      tmpls,
		logger:     logger,
		api:        sendgrid.API,
		attempts:   sendAttempts,
		backoff:    sendBackoff,
	}
}

func (svc sendgridService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		msg := msg
		go func() {
			if err := msg.Render(svc.tmpls); err != nil {
				svc.logger.Error(fmt.Sprintf("rendering email: %v", err), err)
				return
			}
			if msg.HasRecipients() && (msg.HasContent() || msg.HasAttachments()) {
				if err := svc.deliver(*msg); err != nil {
					svc.logger.Error(fmt.Sprintf("email %q to %s not delivered: %v", msg.Subject, recipients(*msg), err), err)
				}
			}
		}()
	}
}

func (svc sendgridService) prepare(msg core.EmailMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = svc.subjPrefix + msg.Subject

	for _, to := range msg.To {
		p.AddTos(svc.getSGEmail(to))
	}
	for _, cc := range msg.Cc {
		p.AddCCs(svc.getSGEmail(cc))
	}
	for _, bcc := range msg.Bcc {
		p.AddBCCs(svc.getSGEmail(bcc))
	}

	m := sgmail.NewV3Mail()
	if msg.From.Address != "" {
		m.SetFrom(svc.getSGEmail(msg.From))
	} else {
		m.SetFrom(svc.from)
	}
	m.AddPersonalizations(p)

	m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	if msg.HTMLContent != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}

	for _, a := range msg.Attachments {
		m.AddAttachment(svc.getSGAttachment(a))
	}

	return m
}

func (svc sendgridService) getSGEmail(addr mail.Address) *sgmail.Email {
	return sgmail.NewEmail(addr.Name, addr.Address)
}

func (svc sendgridService) getSGAttachment(at core.Attachment) *sgmail.Attachment {
	return &sgmail.Attachment{
		Content:     at.Content.String(),
		Type:        at.ContentType,
		Filename:    at.Filename,
		Disposition: "attachment",
	}
}

// deliver sends msg, retrying transport errors, throttling and server errors with exponential backoff.
// Client errors are final: the same payload would be rejected again.
func (svc sendgridService) deliver(msg core.EmailMessage) error {
	body := sgmail.GetRequestBody(svc.prepare(msg))
	wait := svc.backoff

	var err error
	for attempt := 1; attempt <= svc.attempts; attempt++ {
		if err = svc.send(body); err == nil {
			return nil
		}
		if _, ok := err.(errRetryable); !ok {
			return err
		}
		if attempt < svc.attempts {
			svc.logger.Warn(fmt.Sprintf("sending email %q (attempt %d/%d): %v", msg.Subject, attempt, svc.attempts, err))
			time.Sleep(wait)
			wait *= 2
		}
	}
	return errors.Wrapf(err, "giving up after %d attempts", svc.attempts)
}

func (svc sendgridService) send(body []byte) error {
	req := sendgrid.GetRequest(svc.key, endpoint, host)
	req.Method = http.MethodPost
	req.Body = body

	res, err := svc.api(req)
	switch {
	case err != nil:
		return errRetryable{errors.Wrap(err, "sendgrid.API()")}
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= http.StatusInternalServerError:
		return errRetryable{errors.Errorf("status: %d - body: %s", res.StatusCode, res.Body)}
	case res.StatusCode >= http.StatusBadRequest:
		return errors.Errorf("status: %d - body: %s", res.StatusCode, res.Body)
	}
	return nil
}

func recipients(msg core.EmailMessage) string {
	addrs := make([]string, 0, len(msg.To)+len(msg.Cc)+len(msg.Bcc))
	for _, group := range [][]mail.Address{msg.To, msg.Cc, msg.Bcc} {
		for _, addr := range group {
			addrs = append(addrs, addr.Address)
		}
	}
	return strings.Join(addrs, ", ")
}
