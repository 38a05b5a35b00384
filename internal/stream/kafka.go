package stream

import (
	"log/slog"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// closeFlushTimeoutMs bounds how long Close waits for in-flight events.
const closeFlushTimeoutMs = 5000

// KafkaStream owns a single long-lived producer shared by every emitter.
// Delivery reports are drained in the background; a failed delivery is logged,
// not retried, because the audit trail's source of truth is the database and
// the stream is a downstream feed.
type KafkaStream struct {
	kafkaServers string
	producer     *kafka.Producer
	logger       *slog.Logger
}

func New(kafkaServers string, logger *slog.Logger) (*KafkaStream, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{"bootstrap.servers": kafkaServers})
	if err != nil {
		return nil, err
	}

	st := &KafkaStream{
		kafkaServers: kafkaServers,
		producer:     producer,
		logger:       logger,
	}

	go st.drainDeliveryReports()

	return st, nil
}

func (st *KafkaStream) drainDeliveryReports() {
	for e := range st.producer.Events() {
		message, ok := e.(*kafka.Message)
		if !ok || message.TopicPartition.Error == nil {
			continue
		}
		st.logger.Error("event delivery failed",
			"topic", *message.TopicPartition.Topic, "error", message.TopicPartition.Error)
	}
}

// Close flushes in-flight events and releases the producer.
func (st *KafkaStream) Close() {
	st.producer.Flush(closeFlushTimeoutMs)
	st.producer.Close()
}

type StreamConsumer struct {
	GroupId string
	Topic   string
}

func (st *KafkaStream) CreateConsumer(consumerStruct *StreamConsumer) (*kafka.Consumer, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": st.kafkaServers,
		"group.id":          consumerStruct.GroupId,
		"auto.offset.reset": "earliest",
	})
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(consumerStruct.Topic, nil); err != nil {
		return nil, err
	}

	return consumer, nil
}
