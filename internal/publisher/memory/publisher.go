// Package memory keeps published pass summaries in process, encoded the same
// way the Pub/Sub publisher sends them.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
)

// Message is one recorded publish.
type Message struct {
	ID         string
	Topic      string
	Data       []byte
	Attributes map[string]string
}

// Decode unmarshals the message body into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// Publisher records messages instead of sending them.
type Publisher struct {
	topic string

	mu       sync.Mutex
	seq      int
	messages []Message
}

var _ crawler.Publisher = (*Publisher)(nil)

// New returns a Publisher that tags every message with topic.
func New(topic string) *Publisher {
	return &Publisher{topic: topic}
}

// Publish encodes payload as JSON and returns a sequential id.
func (p *Publisher) Publish(ctx context.Context, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	var attrs map[string]string
	if summary, ok := payload.(crawler.PassSummary); ok {
		attrs = summary.Attributes()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	msg := Message{ID: fmt.Sprintf("%s-%d", p.topic, p.seq), Topic: p.topic, Data: data, Attributes: attrs}
	p.messages = append(p.messages, msg)
	return msg.ID, nil
}

// Messages returns copies of the recorded messages in publish order.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	for i, m := range p.messages {
		m.Data = append([]byte(nil), m.Data...)
		m.Attributes = maps.Clone(m.Attributes)
		out[i] = m
	}
	return out
}
