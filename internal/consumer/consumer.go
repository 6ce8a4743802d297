package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"points-service/internal/config"
	"points-service/internal/gateway"
	"points-service/internal/points"
)

const (
	reconnectDelay       = 5 * time.Second
	maxReconnectAttempts = 10
	verifyTimeout        = 30 * time.Second
)

// PaymentNotification is the provider's asynchronous webhook payload,
// relayed onto the queue by the edge. Only the session id matters: the
// verifier re-fetches the live payment status itself and never trusts
// the notification body.
type PaymentNotification struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	EventID   string `json:"event_id"`
}

// Verifier is the part of the points service the consumer needs.
type Verifier interface {
	Verify(ctx context.Context, sessionID string) (*points.VerifyResult, error)
}

// Consumer drains payment notifications from RabbitMQ and feeds them to
// the verifier. Notifications may be delivered zero, one or many times;
// that is fine because verification is idempotent.
type Consumer struct {
	cfg      config.RabbitConfig
	log      *logrus.Logger
	verifier Verifier

	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg config.RabbitConfig, log *logrus.Logger, verifier Verifier) (*Consumer, error) {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Consumer{
		cfg:      cfg,
		log:      log,
		verifier: verifier,
		ctx:      ctx,
		cancel:   cancel,
	}

	if err := c.connect(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return c, nil
}

func (c *Consumer) connect() error {
	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.cfg.User, c.cfg.Password, c.cfg.Host, c.cfg.Port, c.cfg.VHost)

	conn, err := amqp.Dial(dsn)
	if err != nil {
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		c.cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"host":  c.cfg.Host,
		"queue": c.cfg.Queue,
	}).Info("connected to RabbitMQ")

	go c.monitorConnection()

	return nil
}

func (c *Consumer) monitorConnection() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return
	}

	notifyClose := conn.NotifyClose(make(chan *amqp.Error))

	select {
	case err := <-notifyClose:
		if err != nil {
			c.log.WithError(err).Error("RabbitMQ connection closed unexpectedly")
			c.reconnect()
		}
	case <-c.ctx.Done():
		return
	}
}

func (c *Consumer) reconnect() {
	c.mu.Lock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		c.log.WithField("attempt", attempt).Info("attempting to reconnect to RabbitMQ")

		if err := c.connect(); err == nil {
			c.log.Info("successfully reconnected to RabbitMQ")
			go func() {
				if err := c.Start(c.ctx); err != nil && c.ctx.Err() == nil {
					c.log.WithError(err).Error("failed to restart consumer after reconnect")
				}
			}()
			return
		}

		delay := reconnectDelay * time.Duration(attempt)
		c.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("reconnection failed, retrying")

		select {
		case <-time.After(delay):
		case <-c.ctx.Done():
			return
		}
	}

	c.log.Error("max reconnection attempts reached, giving up")
}

func (c *Consumer) Start(ctx context.Context) error {
	c.mu.RLock()
	channel := c.channel
	c.mu.RUnlock()

	if channel == nil {
		return fmt.Errorf("channel is not initialized")
	}

	msgs, err := channel.Consume(
		c.cfg.Queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.log.WithField("workers", c.cfg.Workers).Info("starting notification workers")

	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, msgs, i)
	}

	<-ctx.Done()
	c.log.Info("stopping notification workers")
	c.wg.Wait()

	return nil
}

func (c *Consumer) worker(ctx context.Context, msgs <-chan amqp.Delivery, workerID int) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-msgs:
			if !ok {
				c.log.WithField("worker_id", workerID).Warn("message channel closed")
				return
			}

			c.processMessage(ctx, msg, workerID)
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg amqp.Delivery, workerID int) {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	var payload PaymentNotification
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		c.log.WithFields(logrus.Fields{
			"worker_id": workerID,
			"error":     err,
			"body":      string(msg.Body),
		}).Error("failed to unmarshal notification")
		// Malformed messages can never succeed, drop them
		_ = msg.Nack(false, false)
		return
	}

	if payload.SessionID == "" {
		c.log.WithFields(logrus.Fields{
			"worker_id": workerID,
			"event_id":  payload.EventID,
		}).Error("notification without session id")
		_ = msg.Nack(false, false)
		return
	}

	res, err := c.verifier.Verify(ctx, payload.SessionID)
	switch {
	case err == nil:
		c.log.WithFields(logrus.Fields{
			"worker_id":         workerID,
			"session_id":        payload.SessionID,
			"verified":          res.Verified,
			"already_processed": res.AlreadyProcessed,
		}).Debug("notification processed")
		_ = msg.Ack(false)

	case errors.Is(err, points.ErrOrderNotFound):
		// Requeueing cannot fix a missing order
		c.log.WithFields(logrus.Fields{
			"session_id": payload.SessionID,
			"event_id":   payload.EventID,
		}).Error("notification for unknown order, dropping")
		_ = msg.Nack(false, false)

	case errors.Is(err, gateway.ErrUnavailable):
		c.log.WithField("session_id", payload.SessionID).Warn("gateway unavailable, requeueing notification")
		_ = msg.Nack(false, true)

	default:
		c.log.WithError(err).WithField("session_id", payload.SessionID).Error("verification failed, requeueing notification")
		_ = msg.Nack(false, true)
	}
}

func (c *Consumer) Close() {
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	c.log.Info("consumer closed")
}
