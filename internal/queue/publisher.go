package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrPublisherFull is returned when the event buffer has no room.  The
	// event is dropped.
	ErrPublisherFull = errors.New("queue: event buffer full")
	// ErrPublisherClosed is returned by Publish after Close.
	ErrPublisherClosed = errors.New("queue: publisher closed")
)

const (
	defaultBuffer         = 1024
	defaultDialTimeout    = 3 * time.Second
	defaultPublishTimeout = 5 * time.Second
	maxRedialBackoff      = 30 * time.Second
)

// PublisherOption tunes a Publisher.
type PublisherOption func(*Publisher)

// WithBuffer sets how many events may wait for the broker.
func WithBuffer(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.buffer = n
		}
	}
}

// WithDialTimeout bounds the TCP connect and AMQP handshake.
func WithDialTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.dialTimeout = d
		}
	}
}

// Publisher sends BookingEvents to EventsQueue from a background
// goroutine.  Publish only enqueues, so a slow or unreachable broker never
// holds up the caller; events that do not fit in the buffer, or that
// arrive while the broker is down, are dropped and counted.
type Publisher struct {
	url         string
	buffer      int
	dialTimeout time.Duration
	log         *log.Helper

	events    chan BookingEvent
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// owned by run
	conn    *amqp.Connection
	ch      *amqp.Channel
	backoff time.Duration
	retryAt time.Time
	dropped int
}

// NewPublisher starts a Publisher for the broker at url.  Call Close to
// stop it.
func NewPublisher(url string, logger log.Logger, opts ...PublisherOption) *Publisher {
	if logger == nil {
		logger = log.DefaultLogger
	}
	p := &Publisher{
		url:         url,
		buffer:      defaultBuffer,
		dialTimeout: defaultDialTimeout,
		log:         log.NewHelper(log.With(logger, "module", "queue/publisher")),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.events = make(chan BookingEvent, p.buffer)
	go p.run()
	return p
}

// Publish queues ev and returns at once.  The transition it reports has
// already committed, so delivery does not follow ctx.
func (p *Publisher) Publish(_ context.Context, ev BookingEvent) error {
	select {
	case <-p.done:
		return ErrPublisherClosed
	default:
	}
	select {
	case p.events <- ev:
		return nil
	default:
		return ErrPublisherFull
	}
}

// Close stops the background goroutine and releases the broker
// connection.  Events still buffered are dropped.  It waits at most one
// dial timeout for an in-flight dial.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	<-p.stopped
	return nil
}

func (p *Publisher) run() {
	defer close(p.stopped)
	defer p.reset()
	for {
		select {
		case <-p.done:
			if n := len(p.events); n > 0 {
				p.log.Warnf("publisher closed with %d undelivered events", n)
			}
			return
		case ev := <-p.events:
			p.send(ev)
		}
	}
}

// send publishes one event.  While the broker is backing off the event is
// dropped rather than waiting for the next dial.
func (p *Publisher) send(ev BookingEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		p.log.Errorf("marshal %s for booking %s: %v", ev.Type, ev.BookingID, err)
		return
	}
	ch, err := p.channel()
	if err != nil {
		p.drop(ev, err)
		return
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		Timestamp:    ev.OccurredAt,
		Type:         string(ev.Type),
		MessageId:    string(ev.Type) + ":" + ev.BookingID,
		Body:         body,
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()
	if err := ch.PublishWithContext(ctx, "", EventsQueue, false, false, pub); err != nil {
		p.reset()
		p.drop(ev, err)
	}
}

func (p *Publisher) drop(ev BookingEvent, err error) {
	p.dropped++
	p.log.Warnf("drop %s for booking %s: %v", ev.Type, ev.BookingID, err)
}

// channel returns an open channel, dialling when the backoff allows.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	if now := time.Now(); now.Before(p.retryAt) {
		return nil, fmt.Errorf("broker unavailable, next dial in %s", p.retryAt.Sub(now).Round(time.Millisecond))
	}
	conn, ch, err := p.dial()
	if err != nil {
		p.backoff = nextBackoff(p.backoff)
		p.retryAt = time.Now().Add(p.backoff)
		return nil, err
	}
	if p.dropped > 0 {
		p.log.Infof("broker reachable again, %d events were dropped", p.dropped)
	}
	p.conn, p.ch = conn, ch
	p.backoff, p.retryAt, p.dropped = 0, time.Time{}, 0
	return ch, nil
}

func (p *Publisher) dial() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Dial:      amqp.DefaultDial(p.dialTimeout),
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("channel open: %w", err)
	}
	if _, err := declareEventsQueue(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return time.Second
	}
	if d *= 2; d > maxRedialBackoff {
		return maxRedialBackoff
	}
	return d
}

// declareEventsQueue makes sure EventsQueue exists.  It is idempotent and
// durable so messages survive broker restarts.
func declareEventsQueue(ch *amqp.Channel) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(
		EventsQueue, // name
		true,        // durable
		false,       // autoDelete
		false,       // exclusive
		false,       // noWait
		nil,         // args
	)
	if err != nil {
		return q, fmt.Errorf("queue declare: %w", err)
	}
	return q, nil
}

// Discard is a publisher that drops every event.  It is used when no
// broker is configured.
type Discard struct{}

// Publish implements the publisher contract by doing nothing.
func (Discard) Publish(context.Context, BookingEvent) error { return nil }
