package stream

import (
	"encoding/json"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"
)

const (
	// TopicSettlementEvents carries every transfer-record state transition so the
	// audit worker (and any external collector) can rebuild the full lifecycle.
	TopicSettlementEvents = "settlement.events"

	// TopicProvisionEvents carries user/account provisioning transitions.
	TopicProvisionEvents = "provision.events"
)

// Event is a single state transition on an entity. Events are emitted after the
// transition has been committed, so consumers only ever see states that exist.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Entity    string    `json:"entity"`
	EntityID  string    `json:"entity_id"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	At        time.Time `json:"at"`
}

// EventSink is the narrow interface producers depend on, so tests can capture
// events without a broker.
type EventSink interface {
	EmitEvent(topic string, event Event) error
}

var _ EventSink = (*KafkaStream)(nil)

// EmitEvent serialises the event onto the shared producer. Keying by entity
// keeps every transition for one entity on one partition, so consumers see
// them in order.
func (st *KafkaStream) EmitEvent(topic string, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return st.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.EntityID),
		Value:          payload,
	}, nil)
}
