package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	streamName      = "INGESTION"
	subjectJobs     = "ingestion.jobs"
)

// NATSQueue is the production job.Queue, adapted directly from the
// teacher's pkg/nats Publisher/Subscriber pair: one JetStream stream, a
// durable AckExplicit consumer per worker group.
type NATSQueue struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewNATSQueue(url string) (*NATSQueue, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("job: connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("job: create jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectJobs},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("job: ensure stream %s: %w", streamName, err)
	}

	return &NATSQueue{nc: nc, js: js}, nil
}

var _ Queue = (*NATSQueue)(nil)

func (q *NATSQueue) Enqueue(ctx context.Context, j Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("job: marshal job: %w", err)
	}
	if _, err := q.js.Publish(ctx, subjectJobs, data); err != nil {
		return fmt.Errorf("job: publish: %w", err)
	}
	return nil
}

func (q *NATSQueue) Consume(ctx context.Context, durableName string, handler func(ctx context.Context, j Job) error) error {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       durableName,
		FilterSubject: subjectJobs,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("job: create consumer %s: %w", durableName, err)
	}

	_, err = consumer.Consume(func(msg jetstream.Msg) {
		var j Job
		if err := json.Unmarshal(msg.Data(), &j); err != nil {
			msg.Nak()
			return
		}
		if err := handler(context.Background(), j); err != nil {
			msg.Nak()
			return
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("job: start consuming: %w", err)
	}
	return nil
}

func (q *NATSQueue) Close() {
	if q.nc != nil {
		q.nc.Close()
	}
}
