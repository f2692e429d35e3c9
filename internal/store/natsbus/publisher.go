package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/suPer8Hu/companion-chat/internal/chat"
)

// Publisher mirrors session events onto JetStream so other instances and
// presentation clients can follow a session.
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
}

// NewPublisher connects to NATS and makes sure the stream exists.
func NewPublisher(url, stream, prefix string) (*Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := js.Stream(ctx, stream); err != nil {
		log.Printf("[NATS] stream %q not found, creating", stream)
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        stream,
			Description: "Companion chat session events",
			Subjects:    []string{prefix + ".>"},
			MaxAge:      24 * time.Hour,
			Storage:     jetstream.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create stream %q: %w", stream, err)
		}
	}

	return &Publisher{nc: nc, js: js, prefix: prefix}, nil
}

// Subject is where events of one session are published.
func Subject(prefix string, e chat.Event) string {
	return fmt.Sprintf("%s.%s.%s", prefix, e.SessionID, e.Type)
}

func (p *Publisher) PublishEvent(ctx context.Context, e chat.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(ctx, Subject(p.prefix, e), data)
	return err
}

func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
