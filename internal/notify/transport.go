package notify

import (
	"context"

	"go.uber.org/zap"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

// Transport delivers one message to one recipient.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// LogTransport writes messages to the log instead of sending them. It stands
// in when no mail server is configured.
type LogTransport struct {
	log *zap.SugaredLogger
}

func NewLogTransport(log *zap.SugaredLogger) *LogTransport {
	return &LogTransport{log: log}
}

func (t *LogTransport) Send(_ context.Context, msg Message) error {
	t.log.Infow("Mail transport disabled; notification not sent", "address", msg.To, "subject", msg.Subject)
	return nil
}
