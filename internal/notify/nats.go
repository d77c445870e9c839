package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/rewired-gh/quakewatch/internal/logger"
)

// CloudEvent is a CloudEvents v1.0 envelope.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	ID              string      `json:"id"`
	Source          string      `json:"source"`
	Type            string      `json:"type"`
	DataContentType string      `json:"datacontenttype"`
	Subject         string      `json:"subject,omitempty"`
	Time            *time.Time  `json:"time,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}

// publisher is the subset of jetstream.JetStream the sink needs.
type publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSSink publishes notifications as CloudEvents to JetStream, on subject
// <prefix>.<kind>.
type NATSSink struct {
	js     publisher
	prefix string
	nc     *nats.Conn
}

// NewNATSSink wraps an existing JetStream handle.
func NewNATSSink(js publisher, subjectPrefix string) *NATSSink {
	return &NATSSink{js: js, prefix: subjectPrefix}
}

// ConnectNATS connects to url, ensures stream covers <prefix>.> and returns
// a sink owning the connection.
func ConnectNATS(ctx context.Context, url, stream, subjectPrefix string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("quakewatch"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected: %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	// Ensure the stream exists
	if _, err := js.Stream(ctx, stream); err != nil {
		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     stream,
			Subjects: []string{subjectPrefix + ".>"},
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create or get stream %s: %w", stream, err)
		}
	}

	s := NewNATSSink(js, subjectPrefix)
	s.nc = nc
	return s, nil
}

// Notify publishes n.
func (s *NATSSink) Notify(ctx context.Context, n Notification) error {
	at := n.At
	event := CloudEvent{
		SpecVersion:     "1.0",
		ID:              n.ID,
		Source:          "quakewatch/monitor",
		Type:            "io.quakewatch." + string(n.Kind),
		DataContentType: "application/json",
		Subject:         s.prefix + "." + string(n.Kind),
		Time:            &at,
		Data:            n,
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", n.Kind, err)
	}

	ack, err := s.js.Publish(ctx, event.Subject, eventBytes)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", n.Kind, err)
	}

	logger.Debug("Published event %s to subject %s (seq: %d)", event.ID, event.Subject, ack.Sequence)
	return nil
}

// Close drains the owned connection, if any.
func (s *NATSSink) Close() error {
	if s.nc == nil {
		return nil
	}
	return s.nc.Drain()
}
