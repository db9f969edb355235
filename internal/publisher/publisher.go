package publisher

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"tabledep/internal/model"
)

// Message is one envelope ready for the bus. ID is the envelope's event id
// and doubles as the JetStream dedup key.
type Message struct {
	Subject string
	ID      string
	Data    []byte
}

// Publisher pushes change envelopes to NATS JetStream.
type Publisher interface {
	Connect() error
	Publish(ctx context.Context, msg Message) error
	PublishWithRetries(ctx context.Context, msg Message, maxRetries int) error
	Close() error
}

// NoopPublisher records what it was asked to publish.
type NoopPublisher struct {
	mu     sync.Mutex
	last   Message
	count  int
	logger *zap.Logger
}

func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{logger: zap.NewNop()}
}

func (p *NoopPublisher) Connect() error { return nil }

func (p *NoopPublisher) Publish(ctx context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = msg
	p.count++
	if p.logger != nil {
		p.logger.Debug("noop publisher invoked", zap.String("subject", msg.Subject))
	}
	return nil
}

func (p *NoopPublisher) PublishWithRetries(ctx context.Context, msg Message, maxRetries int) error {
	return p.Publish(ctx, msg)
}

func (p *NoopPublisher) Close() error { return nil }

// Last returns the most recent message and how many were published.
func (p *NoopPublisher) Last() (Message, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.count
}

// SubjectPrefix is the first token of every published subject.
const SubjectPrefix = "tabledep"

// SubjectForEnvelope builds subject tabledep.{database}.{schema}.{table}.
func SubjectForEnvelope(env *model.Envelope) (string, error) {
	if env == nil {
		return "", fmt.Errorf("nil envelope")
	}
	if env.Schema == "" || env.Table == "" {
		return "", fmt.Errorf("envelope without schema or table")
	}
	database := env.Database
	if database == "" {
		database = "default"
	}
	var sb strings.Builder
	sb.Grow(len(SubjectPrefix) + 1 + len(database) + 1 + len(env.Schema) + 1 + len(env.Table))
	sb.WriteString(SubjectPrefix)
	sb.WriteByte('.')
	sb.WriteString(subjectToken(database))
	sb.WriteByte('.')
	sb.WriteString(subjectToken(env.Schema))
	sb.WriteByte('.')
	sb.WriteString(subjectToken(env.Table))
	return sb.String(), nil
}

// subjectToken replaces characters NATS treats as separators or wildcards.
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}
