package publisher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	defaultStreamName      = "TABLEDEP"
	defaultPublishTimeout  = 5 * time.Second
	defaultDuplicateWindow = 2 * time.Minute
)

// JetStreamOptions configures the NATS connection and the target stream.
type JetStreamOptions struct {
	URLs           []string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	StreamName     string
	StreamSubjects []string
	// DuplicateWindow is how long the stream remembers message ids.
	DuplicateWindow time.Duration
}

func (o JetStreamOptions) withDefaults() JetStreamOptions {
	if o.StreamName == "" {
		o.StreamName = defaultStreamName
	}
	if len(o.StreamSubjects) == 0 {
		o.StreamSubjects = []string{SubjectPrefix + ".>"}
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = defaultPublishTimeout
	}
	if o.DuplicateWindow <= 0 {
		o.DuplicateWindow = defaultDuplicateWindow
	}
	return o
}

// JetStreamPublisher publishes envelopes to a JetStream stream and waits for
// the ack. Messages carry their event id as Nats-Msg-Id, so a retried publish
// of the same change is stored once.
type JetStreamPublisher struct {
	opts   JetStreamOptions
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
}

func NewJetStreamPublisher(opts JetStreamOptions, logger *zap.Logger) *JetStreamPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JetStreamPublisher{opts: opts.withDefaults(), logger: logger}
}

func (p *JetStreamPublisher) natsOptions() []nats.Option {
	opts := []nats.Option{
		nats.Name("tabledep-bridge"),
		nats.Timeout(p.opts.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			p.logger.Warn("nats connection lost", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			p.logger.Info("nats connection restored", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			p.logger.Debug("nats connection closed")
		}),
	}
	if p.opts.Username != "" {
		opts = append(opts, nats.UserInfo(p.opts.Username, p.opts.Password))
	}
	return opts
}

// Connect dials NATS and makes sure the stream exists.
func (p *JetStreamPublisher) Connect() error {
	if len(p.opts.URLs) == 0 {
		return errors.New("no NATS URLs provided")
	}
	nc, err := nats.Connect(strings.Join(p.opts.URLs, ","), p.natsOptions()...)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return fmt.Errorf("jetstream context: %w", err)
	}
	if err := ensureStream(js, p.opts, p.logger); err != nil {
		nc.Close()
		return err
	}
	p.nc, p.js = nc, js
	p.logger.Info("jetstream bridge ready",
		zap.Strings("urls", p.opts.URLs),
		zap.String("stream", p.opts.StreamName),
		zap.Duration("duplicate_window", p.opts.DuplicateWindow))
	return nil
}

// Publish stores msg in the stream. A message whose id the stream has already
// seen within the duplicate window is acknowledged without being stored again.
func (p *JetStreamPublisher) Publish(ctx context.Context, msg Message) error {
	if p.js == nil {
		return errors.New("jetstream not connected")
	}
	ctx, cancel := context.WithTimeout(ctx, p.opts.PublishTimeout)
	defer cancel()

	m := nats.NewMsg(msg.Subject)
	m.Data = msg.Data
	opts := []nats.PubOpt{nats.Context(ctx)}
	if msg.ID != "" {
		opts = append(opts, nats.MsgId(msg.ID))
	}
	ack, err := p.js.PublishMsg(m, opts...)
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	if ack.Duplicate {
		p.logger.Debug("duplicate suppressed by stream", zap.String("subject", msg.Subject), zap.String("msg_id", msg.ID))
		return nil
	}
	p.logger.Debug("published", zap.String("subject", msg.Subject), zap.String("stream", ack.Stream), zap.Uint64("seq", ack.Sequence))
	return nil
}

func (p *JetStreamPublisher) PublishWithRetries(ctx context.Context, msg Message, maxRetries int) error {
	return publishWithRetries(ctx, p, msg, maxRetries, backoff)
}

func (p *JetStreamPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	p.logger.Info("draining nats connection")
	return p.nc.Drain()
}

// ensureStream creates the stream when missing. An existing stream that does
// not capture our subjects is reported rather than changed.
func ensureStream(js nats.JetStreamManager, opts JetStreamOptions, logger *zap.Logger) error {
	info, err := js.StreamInfo(opts.StreamName)
	switch {
	case err == nil:
		for _, s := range opts.StreamSubjects {
			if !slices.Contains(info.Config.Subjects, s) {
				logger.Warn("existing stream does not list subject",
					zap.String("stream", opts.StreamName), zap.String("subject", s), zap.Strings("stream_subjects", info.Config.Subjects))
			}
		}
		return nil
	case !errors.Is(err, nats.ErrStreamNotFound):
		return fmt.Errorf("lookup stream %s: %w", opts.StreamName, err)
	}

	if _, err := js.AddStream(&nats.StreamConfig{
		Name:       opts.StreamName,
		Subjects:   opts.StreamSubjects,
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		Duplicates: opts.DuplicateWindow,
	}); err != nil {
		return fmt.Errorf("create stream %s: %w", opts.StreamName, err)
	}
	logger.Info("stream created", zap.String("stream", opts.StreamName), zap.Strings("subjects", opts.StreamSubjects))
	return nil
}

func publishWithRetries(ctx context.Context, pub Publisher, msg Message, maxRetries int, wait func(int) time.Duration) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = pub.Publish(ctx, msg)
		if lastErr == nil {
			return nil
		}
		if attempt >= maxRetries {
			return fmt.Errorf("publish failed after retries: %w", lastErr)
		}
		t := time.NewTimer(wait(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// backoff doubles from one second up to eight.
func backoff(attempt int) time.Duration {
	return time.Second << min(max(attempt, 0), 3)
}
