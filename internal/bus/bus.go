package bus

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// exchangeName, broadcastRoutingKey, and p2pRoutingKey mirror the
// <location>.camera.ctrl naming scheme so a producer and its consumers
// agree on topology without a discovery step.
func exchangeName(location string) string {
	return fmt.Sprintf("%s.camera.ctrl", location)
}

func broadcastRoutingKey(location string) string {
	return fmt.Sprintf("%s.camera.broadcast", location)
}

func p2pRoutingKey(location, ip string) string {
	return fmt.Sprintf("%s.camera.%s", location, ip)
}

// CommandBus is the shuttle-side handle: it publishes command batches to
// one or many camera IPs (or broadcasts to all) over a direct exchange,
// and listens on its own exclusive reply queue for camera responses.
type CommandBus struct {
	url      string
	location string
	log      logrus.FieldLogger

	conn   *amqp.Connection
	ch     *amqp.Channel
	replyQ amqp.Queue
}

// NewCommandBus returns an unconnected CommandBus for the given AMQP URL
// and location namespace (e.g. "shuttle").
func NewCommandBus(url, location string, log logrus.FieldLogger) *CommandBus {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CommandBus{url: url, location: location, log: log}
}

// Connect dials the broker, declares the direct exchange, and declares
// this bus's exclusive, auto-delete reply queue.
func (b *CommandBus) Connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("bus: dial %s: %w", b.url, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("bus: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName(b.location), amqp.ExchangeDirect, false, true, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("bus: declare exchange: %w", err)
	}
	replyQName := fmt.Sprintf("%s.camera.response.%s", b.location, uuid.New().String()[:8])
	q, err := ch.QueueDeclare(replyQName, false, true, true, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("bus: declare reply queue: %w", err)
	}
	b.conn, b.ch, b.replyQ = conn, ch, q
	b.log.WithField("reply_queue", q.Name).Info("command bus connected")
	return nil
}

// Close tears down the connection (and with it, the channel and reply
// queue).
func (b *CommandBus) Close() error {
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn, b.ch = nil, nil
	return err
}

// Publish sends cmds to each named camera IP, or broadcasts to every
// camera on this location when ips is empty.
func (b *CommandBus) Publish(ctx context.Context, ips []string, cmds []Command) error {
	body, err := EncodeCommands(cmds)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		ReplyTo:     b.replyQ.Name,
	}
	if len(ips) == 0 {
		return b.ch.PublishWithContext(ctx, exchangeName(b.location), broadcastRoutingKey(b.location), false, false, msg)
	}
	for _, ip := range ips {
		if err := b.ch.PublishWithContext(ctx, exchangeName(b.location), p2pRoutingKey(b.location, ip), false, false, msg); err != nil {
			return fmt.Errorf("bus: publish to %s: %w", ip, err)
		}
	}
	return nil
}

// Responses returns a channel of decoded reply envelopes received on this
// bus's reply queue. The channel closes when ctx is done or the
// underlying delivery channel closes.
func (b *CommandBus) Responses(ctx context.Context) (<-chan ReplyEnvelope, error) {
	deliveries, err := b.ch.Consume(b.replyQ.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("bus: consume reply queue: %w", err)
	}
	out := make(chan ReplyEnvelope)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				env, err := DecodeReply(d.Body)
				if err != nil {
					b.log.WithError(err).Warn("dropping unparseable command response")
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Subscriber is the camera-agent-side handle: it binds its own
// exclusive queue to the p2p routing key for its camera IP plus the
// location's broadcast key, and replies to whichever delivery carried a
// reply-to header.
type Subscriber struct {
	url      string
	location string
	cameraIP string
	log      logrus.FieldLogger

	conn *amqp.Connection
	ch   *amqp.Channel
	q    amqp.Queue
}

// NewSubscriber returns an unconnected Subscriber for one camera IP.
func NewSubscriber(url, location, cameraIP string, log logrus.FieldLogger) *Subscriber {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Subscriber{url: url, location: location, cameraIP: cameraIP, log: log}
}

// Connect dials the broker, declares the shared exchange, declares this
// camera's exclusive queue, and binds it to both its p2p routing key and
// the location's broadcast routing key.
func (s *Subscriber) Connect() error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("bus: dial %s: %w", s.url, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("bus: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName(s.location), amqp.ExchangeDirect, false, true, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("bus: declare exchange: %w", err)
	}
	routingKey := p2pRoutingKey(s.location, s.cameraIP)
	q, err := ch.QueueDeclare(routingKey, false, true, true, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("bus: declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, routingKey, exchangeName(s.location), false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("bus: bind p2p routing key: %w", err)
	}
	if err := ch.QueueBind(q.Name, broadcastRoutingKey(s.location), exchangeName(s.location), false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("bus: bind broadcast routing key: %w", err)
	}
	s.conn, s.ch, s.q = conn, ch, q
	s.log.WithField("queue", q.Name).Info("camera command subscriber connected")
	return nil
}

func (s *Subscriber) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn, s.ch = nil, nil
	return err
}

// Delivery pairs a decoded command batch with the reply-to routing key
// (empty if the sender expects no acknowledgement).
type Delivery struct {
	Commands []Command
	ReplyTo  string
}

// Listen returns a channel of decoded command deliveries. Each delivery
// is acked as soon as it is decoded; command handling failures never
// requeue a message.
func (s *Subscriber) Listen(ctx context.Context) (<-chan Delivery, error) {
	deliveries, err := s.ch.Consume(s.q.Name, "", false, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("bus: consume %s: %w", s.q.Name, err)
	}
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				cmds, err := DecodeCommands(d.Body)
				if err != nil {
					s.log.WithError(err).Warn("dropping unparseable command batch")
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
				select {
				case out <- Delivery{Commands: cmds, ReplyTo: d.ReplyTo}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Reply publishes results to replyTo via the default exchange, wrapped in
// the {"ip": ..., "response": [...]} envelope so the producer can tell
// which camera answered.
func (s *Subscriber) Reply(ctx context.Context, replyTo string, results []Result) error {
	if replyTo == "" {
		return nil
	}
	body, err := EncodeReply(s.cameraIP, results)
	if err != nil {
		return err
	}
	return s.ch.PublishWithContext(ctx, "", replyTo, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}
