package worker

import (
	"encoding/json"
	"log"

	"github.com/chukwuka-eze/stablepay/internal/repository"
	"github.com/chukwuka-eze/stablepay/internal/stream"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// SettlementAuditWorker persists every transfer state transition into the
// append-only audit trail.
func (wk *Worker) SettlementAuditWorker() {
	wk.consumeAuditEvents(settlementAuditGroupID, stream.TopicSettlementEvents)
}

// ProvisionAuditWorker does the same for provisioning transitions.
func (wk *Worker) ProvisionAuditWorker() {
	wk.consumeAuditEvents(provisionAuditGroupID, stream.TopicProvisionEvents)
}

func (wk *Worker) consumeAuditEvents(groupID, topic string) {
	consumer, err := wk.KafkaStream.CreateConsumer(&stream.StreamConsumer{
		GroupId: groupID,
		Topic:   topic,
	})
	if err != nil {
		log.Fatalf("Error creating consumer: %v", err)
	}
	defer consumer.Close()

	for {
		select {
		case <-wk.Ctx.Done():
			return
		default:
		}

		event := consumer.Poll(100) // Poll every 100ms
		switch e := event.(type) {
		case *kafka.Message:
			var transition stream.Event
			if err := json.Unmarshal(e.Value, &transition); err != nil {
				wk.Logger.Error("malformed audit event", "topic", topic, "error", err)
				continue
			}

			wk.recordTransition(&transition)
		case kafka.Error:
			wk.Logger.Error("consumer error", "topic", topic, "error", e)
		default:
			// Handle other events if needed
		}
	}
}

func (wk *Worker) recordTransition(event *stream.Event) {
	_, err := wk.DB.Audit().Insert(&repository.AuditLog{
		EventType:  event.Type,
		Entity:     event.Entity,
		EntityID:   event.EntityID,
		FromState:  event.FromState,
		ToState:    event.ToState,
		OccurredAt: event.At,
	})
	if err != nil {
		wk.Logger.Error("audit insert failed", "entity", event.Entity, "entity_id", event.EntityID, "error", err)
	}
}
