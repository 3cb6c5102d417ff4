package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPTransport consumes positions from a topic exchange. Topics map
// directly to routing keys, so location.<entityId> is bound as is.
type AMQPTransport struct {
	url         string
	exchange    string
	dialTimeout time.Duration
	logger      *slog.Logger
}

func NewAMQPTransport(url, exchange string, dialTimeout time.Duration, logger *slog.Logger) *AMQPTransport {
	return &AMQPTransport{
		url:         url,
		exchange:    exchange,
		dialTimeout: dialTimeout,
		logger:      logger.With("component", "feed_amqp"),
	}
}

func (t *AMQPTransport) Name() string { return "amqp" }

func (t *AMQPTransport) Dial(ctx context.Context) (Conn, error) {
	conn, err := amqp.DialConfig(t.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial: func(network, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: t.dialTimeout}
			return d.DialContext(ctx, network, addr)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dialing amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	if err := ch.ExchangeDeclare(t.exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", t.exchange, err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring queue: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("consuming queue %s: %w", q.Name, err)
	}

	ac := newAMQPConn(conn, ch, q.Name, t.exchange, conn.NotifyClose(make(chan *amqp.Error, 1)), t.logger)
	ac.start(deliveries)

	return ac, nil
}

type bindOp struct {
	bind  bool
	topic string
}

// amqpChannel is the part of *amqp.Channel the connection uses after setup.
type amqpChannel interface {
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	QueueUnbind(name, key, exchange string, args amqp.Table) error
	Close() error
}

type amqpConn struct {
	conn        io.Closer
	channel     amqpChannel
	queue       string
	exchange    string
	ops         chan bindOp
	messages    chan Message
	done        chan struct{}
	controlDone chan struct{}
	closed      <-chan *amqp.Error
	logger      *slog.Logger

	errMu     sync.Mutex
	err       error
	closeOnce sync.Once
}

func newAMQPConn(conn io.Closer, ch amqpChannel, queue, exchange string, closed <-chan *amqp.Error, logger *slog.Logger) *amqpConn {
	return &amqpConn{
		conn:        conn,
		channel:     ch,
		queue:       queue,
		exchange:    exchange,
		ops:         make(chan bindOp, 16),
		messages:    make(chan Message, 64),
		done:        make(chan struct{}),
		controlDone: make(chan struct{}),
		closed:      closed,
		logger:      logger,
	}
}

func (c *amqpConn) start(deliveries <-chan amqp.Delivery) {
	go c.control()
	go c.pump(deliveries)
}

func (c *amqpConn) Messages() <-chan Message { return c.messages }

func (c *amqpConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// setErr keeps the first cause.
func (c *amqpConn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// Subscribe queues a bind. A bind the broker refuses ends the connection
// with ErrSubscribeRefused.
func (c *amqpConn) Subscribe(topic string) error {
	return c.enqueue(bindOp{bind: true, topic: topic})
}

func (c *amqpConn) Unsubscribe(topic string) error {
	return c.enqueue(bindOp{bind: false, topic: topic})
}

func (c *amqpConn) enqueue(op bindOp) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.ops <- op:
		return nil
	default:
		return ErrSendFull
	}
}

func (c *amqpConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.channel.Close()
		err = c.conn.Close()
	})
	return err
}

// control runs queue binds off the caller's goroutine since they are
// synchronous broker round trips.
func (c *amqpConn) control() {
	defer close(c.controlDone)

	for {
		select {
		case <-c.done:
			return
		case op := <-c.ops:
			if !op.bind {
				if err := c.channel.QueueUnbind(c.queue, op.topic, c.exchange, nil); err != nil {
					c.logger.Warn("queue unbind failed", "topic", op.topic, "error", err)
				}
				continue
			}
			if err := c.channel.QueueBind(c.queue, op.topic, c.exchange, false, nil); err != nil {
				c.logger.Warn("queue bind failed", "topic", op.topic, "error", err)
				c.setErr(fmt.Errorf("binding %s: %w: %w", op.topic, ErrSubscribeRefused, err))
				c.Close()
				return
			}
		}
	}
}

// pump forwards deliveries until the connection ends. Messages is closed
// only after control has stopped, so a refused bind is already in Err.
func (c *amqpConn) pump(deliveries <-chan amqp.Delivery) {
	err := c.forward(deliveries)
	c.Close()
	<-c.controlDone
	if err != nil {
		c.setErr(err)
	}
	close(c.messages)
}

func (c *amqpConn) forward(deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-c.done:
			return nil

		case amqpErr, ok := <-c.closed:
			if ok && amqpErr != nil {
				return amqpErr
			}
			return ErrClosed

		case d, ok := <-deliveries:
			if !ok {
				return ErrClosed
			}
			select {
			case c.messages <- Message{Topic: d.RoutingKey, Body: d.Body}:
			case <-c.done:
				return nil
			}
		}
	}
}
