package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/Capitan-Parrot/theft-detection/internal/models"
)

type Producer struct {
	producer       sarama.SyncProducer
	heartbeatTopic string
	alertTopic     string
}

// NewProducer создаёт продюсер с настройками; пустой топик отключает соответствующие сообщения
func NewProducer(brokers []string, heartbeatTopic, alertTopic string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return newProducer(producer, heartbeatTopic, alertTopic), nil
}

func newProducer(producer sarama.SyncProducer, heartbeatTopic, alertTopic string) *Producer {
	return &Producer{
		producer:       producer,
		heartbeatTopic: heartbeatTopic,
		alertTopic:     alertTopic,
	}
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

// SendHeartbeat отправляет прогресс запуска в топик heartbeat
func (p *Producer) SendHeartbeat(msg models.Heartbeat) error {
	if p.heartbeatTopic == "" {
		return nil
	}
	return p.send(p.heartbeatTopic, msg.RunID, msg)
}

// PublishAlert отправляет событие тревоги, ключ - id запуска
func (p *Producer) PublishAlert(event models.AlertEvent) error {
	if p.alertTopic == "" {
		return nil
	}
	return p.send(p.alertTopic, event.RunID, event)
}

func (p *Producer) send(topic, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}

	_, _, err = p.producer.SendMessage(kafkaMsg)
	if err != nil {
		return fmt.Errorf("send to %s: %w", topic, err)
	}

	return nil
}
