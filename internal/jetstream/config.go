package jetstream

import (
	"slices"
	"time"

	"github.com/nats-io/nats.go"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/config"
)

const (
	SubjectLeadCreated  = "lead.created"
	SubjectLeadAssigned = "lead.assigned"
)

// Subject joins the configured prefix and an event name.
func Subject(prefix, event string) string {
	if prefix == "" {
		return event
	}
	return prefix + "." + event
}

// LeadStreamConfig covers every lead event under the prefix.
func LeadStreamConfig(cfg config.NATSConfig) *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{Subject(cfg.SubjectPrefix, ">")},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
		Discard:   nats.DiscardOld,
	}
}

// LeadCreatedConsumerConfig is a durable push queue consumer filtered to lead.created.
func LeadCreatedConsumerConfig(cfg config.NATSConfig) *nats.ConsumerConfig {
	return &nats.ConsumerConfig{
		Durable:        cfg.Consumer,
		DeliverSubject: "_deliver." + cfg.Consumer,
		DeliverGroup:   cfg.QueueGroup,
		FilterSubject:  Subject(cfg.SubjectPrefix, SubjectLeadCreated),
		AckPolicy:      nats.AckExplicitPolicy,
		AckWait:        cfg.AckWait,
		MaxDeliver:     cfg.MaxDeliver,
		DeliverPolicy:  nats.DeliverAllPolicy,
	}
}

// StreamConfigEqual compares the fields this service manages.
func StreamConfigEqual(a, b nats.StreamConfig) bool {
	return a.Name == b.Name &&
		slices.Equal(a.Subjects, b.Subjects) &&
		a.Retention == b.Retention &&
		a.Storage == b.Storage &&
		a.MaxAge == b.MaxAge &&
		a.Discard == b.Discard
}

// ConsumerConfigEqual compares the fields this service manages.
func ConsumerConfigEqual(a, b nats.ConsumerConfig) bool {
	return a.Durable == b.Durable &&
		a.DeliverSubject == b.DeliverSubject &&
		a.DeliverGroup == b.DeliverGroup &&
		a.FilterSubject == b.FilterSubject &&
		a.AckPolicy == b.AckPolicy &&
		a.AckWait == b.AckWait &&
		a.MaxDeliver == b.MaxDeliver &&
		a.DeliverPolicy == b.DeliverPolicy
}
