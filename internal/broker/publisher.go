// Package broker implements a publisher-confirm-mode delivery to a topic
// exchange fanning out to two consumer-family queue sets per entity class,
// with an in-flight table keyed by publish sequence number,
// retry-with-backoff on nack, a local failure log for records that exhaust
// retries, and reconnect-with-backoff on connection loss. The
// cooperative-shutdown shape (context-driven, bounded grace period) follows
// a supervisor run-loop idiom.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/snapetech/discogs-extractor/internal/canonical"
	"github.com/snapetech/discogs-extractor/internal/retry"
)

// OutboundMessage is one record ready to publish, per the Outbound message
// row of the data model.
type OutboundMessage struct {
	Version string
	Class   canonical.EntityClass
	ID      int64
	Body    []byte   // canonical JSON
	Hash    [32]byte // content hash; used as the AMQP message id
}

func (m OutboundMessage) routingKey() string { return string(m.Class) }

func (m OutboundMessage) correlationID() string {
	return fmt.Sprintf("%s:%s:%d", m.Version, m.Class, m.ID)
}

// Publisher owns one AMQP connection/channel pair and the in-flight
// confirmation table for it.
type Publisher struct {
	url       string
	heartbeat time.Duration
	window    int
	logger    zerolog.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	ch        *amqp.Channel
	connected bool

	pending map[uint64]chan amqp.Confirmation
	tokens  chan struct{}

	closeCh chan struct{}
}

// Open dials the broker, declares the topology, and starts the confirm
// dispatcher and connection-loss monitor goroutines. window bounds the
// number of unconfirmed in-flight publishes.
func Open(ctx context.Context, url string, heartbeat time.Duration, window int, logger zerolog.Logger) (*Publisher, error) {
	if window <= 0 {
		window = 1024
	}
	p := &Publisher{
		url:       url,
		heartbeat: heartbeat,
		window:    window,
		logger:    logger,
		pending:   make(map[uint64]chan amqp.Confirmation),
		tokens:    make(chan struct{}, window),
		closeCh:   make(chan struct{}),
	}
	for i := 0; i < window; i++ {
		p.tokens <- struct{}{}
	}
	if err := p.connect(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect(ctx context.Context) error {
	conn, err := amqp.DialConfig(p.url, amqp.Config{Heartbeat: p.heartbeat})
	if err != nil {
		return &ErrDisconnected{Cause: err}
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return &ErrDisconnected{Cause: err}
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return &ErrDisconnected{Cause: err}
	}
	if err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return &ErrDisconnected{Cause: err}
	}

	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, p.window))
	closeNotify := ch.NotifyClose(make(chan *amqp.Error, 1))

	p.mu.Lock()
	p.conn = conn
	p.ch = ch
	p.connected = true
	p.mu.Unlock()

	go p.dispatchConfirms(confirms)
	go p.watchClose(closeNotify)
	return nil
}

func (p *Publisher) dispatchConfirms(confirms <-chan amqp.Confirmation) {
	for c := range confirms {
		p.mu.Lock()
		done, ok := p.pending[c.DeliveryTag]
		if ok {
			delete(p.pending, c.DeliveryTag)
		}
		p.mu.Unlock()
		if ok {
			done <- c
			close(done)
		}
	}
}

func (p *Publisher) watchClose(closeNotify <-chan *amqp.Error) {
	amqpErr, ok := <-closeNotify
	if !ok {
		return
	}
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.logger.Error().Str("event", "broker_disconnected").Err(fmt.Errorf("%v", amqpErr)).Msg("broker connection closed; will reconnect on next publish")
}

// reconnect re-establishes the connection with backoff, idempotently
// redeclaring the topology. It is invoked lazily from Publish rather than
// from a background loop, so a quiet period with no records to publish does
// not spin a reconnect loop against a broker that may still be down.
func (p *Publisher) reconnect(ctx context.Context) error {
	return retry.Do(ctx, retry.DefaultPolicy, func(ctx context.Context) error {
		return p.connect(ctx)
	})
}

// Publish submits msg in confirm mode and blocks until the broker
// acknowledges or rejects it. On nack it returns *ErrNack; callers retry via
// internal/retry and, after exhausting retries, route the message to a
// FailureLog instead of aborting the whole file.
func (p *Publisher) Publish(ctx context.Context, msg OutboundMessage) error {
	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()
	if !connected {
		if err := p.reconnect(ctx); err != nil {
			return &ErrDisconnected{Cause: err}
		}
	}

	select {
	case <-p.tokens:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { p.tokens <- struct{}{} }()

	p.mu.Lock()
	ch := p.ch
	p.mu.Unlock()

	seqNo := ch.GetNextPublishSeqNo()
	done := make(chan amqp.Confirmation, 1)
	p.mu.Lock()
	p.pending[seqNo] = done
	p.mu.Unlock()

	publishing := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     fmt.Sprintf("%x", msg.Hash),
		CorrelationId: msg.correlationID(),
		Body:          msg.Body,
		Timestamp:     time.Now(),
		Headers: amqp.Table{
			"x-content-hash": fmt.Sprintf("%x", msg.Hash),
			"x-version":      msg.Version,
			"x-entity-class": string(msg.Class),
		},
	}
	if err := ch.PublishWithContext(ctx, Exchange, msg.routingKey(), false, false, publishing); err != nil {
		p.mu.Lock()
		delete(p.pending, seqNo)
		p.mu.Unlock()
		return &ErrDisconnected{Cause: err}
	}

	select {
	case c := <-done:
		if !c.Ack {
			return &ErrNack{CorrelationID: msg.correlationID()}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the channel/connection. Callers should first allow any
// in-flight Publish calls to finish (or time out) for a clean shutdown.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
