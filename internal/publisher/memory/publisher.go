// Package memory keeps published failure notices in process. It backs the
// "none" notify provider and the worker tests.
package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
)

// PublishedMessage is one recorded publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher appends every publish to an in-memory log.
type Publisher struct {
	mu       sync.Mutex
	seq      int
	messages []PublishedMessage
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records payload under topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := "memory-" + strconv.Itoa(p.seq)
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedMessage(nil), p.messages...)
}

// Notices returns the failure notices published to topic, oldest first.
func (p *Publisher) Notices(topic string) []crawler.FailureNotice {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []crawler.FailureNotice
	for _, msg := range p.messages {
		if msg.Topic != topic {
			continue
		}
		if notice, ok := msg.Payload.(crawler.FailureNotice); ok {
			out = append(out, notice)
		}
	}
	return out
}
