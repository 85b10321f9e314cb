package notify

import (
	"context"

	"github.com/cdrtools/cdrbatch/types/config"
	"github.com/cockroachdb/errors"
	"github.com/wneessen/go-mail"
)

type SMTPTransport struct {
	client *mail.Client
	from   string
}

func NewSMTPTransport(cfg config.SMTPConfig) (*SMTPTransport, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.Timeout),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	if cfg.RequireTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create smtp client")
	}
	return &SMTPTransport{client: client, from: cfg.From}, nil
}

func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	m := mail.NewMsg()
	if err := m.From(t.from); err != nil {
		return errors.Wrapf(err, "invalid sender %q", t.from)
	}
	if err := m.To(msg.To); err != nil {
		return errors.Wrapf(err, "invalid recipient %q", msg.To)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	if err := t.client.DialAndSendWithContext(ctx, m); err != nil {
		return errors.Wrapf(err, "send to %s", msg.To)
	}
	return nil
}
