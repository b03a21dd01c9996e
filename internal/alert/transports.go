package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"gopkg.in/gomail.v2"

	"github.com/Capitan-Parrot/theft-detection/internal/models"
)

// SMTPTransport mails the alert through a relay with STARTTLS
type SMTPTransport struct {
	dialer *gomail.Dialer
	from   string
	to     []string
}

func NewSMTPTransport(host string, port int, username, password, from string, to []string) *SMTPTransport {
	return &SMTPTransport{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
		to:     to,
	}
}

func (t *SMTPTransport) Name() string { return "smtp" }

// Send ignores ctx: gomail has no cancellable dial
func (t *SMTPTransport) Send(_ context.Context, msg Message) error {
	m := NewMailMessage(t.from, t.to, msg)
	if err := t.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// NewMailMessage builds the plain text mail for an alert
func NewMailMessage(from string, to []string, msg Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	return m
}

// MQTTTransport publishes the alert event as JSON
type MQTTTransport struct {
	client mqtt.Client
	topic  string
}

func NewMQTTTransport(broker, clientID, username, password, topic string) *MQTTTransport {
	opts := mqtt.NewClientOptions().AddBroker(broker)
	if clientID != "" {
		opts.SetClientID(clientID)
	}
	if username != "" && password != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}
	opts.SetConnectTimeout(10 * time.Second)

	return &MQTTTransport{client: mqtt.NewClient(opts), topic: topic}
}

func (t *MQTTTransport) Name() string { return "mqtt" }

func (t *MQTTTransport) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg.Event)
	if err != nil {
		return err
	}

	if !t.client.IsConnected() {
		if err := waitToken(ctx, t.client.Connect()); err != nil {
			return fmt.Errorf("connect to MQTT: %w", err)
		}
	}

	if err := waitToken(ctx, t.client.Publish(t.topic, 1, false, payload)); err != nil {
		return fmt.Errorf("publish to MQTT: %w", err)
	}
	return nil
}

func (t *MQTTTransport) Close() {
	if t.client.IsConnected() {
		t.client.Disconnect(250)
	}
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EventPublisher publishes structured alert events, e.g. to Kafka
type EventPublisher interface {
	PublishAlert(event models.AlertEvent) error
}

// BrokerTransport adapts an EventPublisher to Transport
type BrokerTransport struct {
	name      string
	publisher EventPublisher
}

func NewBrokerTransport(name string, publisher EventPublisher) *BrokerTransport {
	return &BrokerTransport{name: name, publisher: publisher}
}

func (t *BrokerTransport) Name() string { return t.name }

func (t *BrokerTransport) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.publisher == nil {
		return errors.New("no publisher configured")
	}
	return t.publisher.PublishAlert(msg.Event)
}
