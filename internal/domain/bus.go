package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// BusEventTypePostCreated is the default envelope type.
const BusEventTypePostCreated = "rss_post_created"

// BusEvent is the envelope exchanged with other services over the bus.
type BusEvent struct {
	Type      string `json:"type"`
	PostID    int64  `json:"post_id"`
	Title     string `json:"title"`
	Link      string `json:"link"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

// NewBusEvent builds the envelope announcing a newly stored item.
func NewBusEvent(item Item, at time.Time) BusEvent {
	return BusEvent{
		Type:      BusEventTypePostCreated,
		PostID:    item.ID,
		Title:     item.Title,
		Link:      item.Link,
		Source:    item.Source,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}
}

// Encode serializes the envelope as a text payload.
func (e BusEvent) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bus event: %w", err)
	}
	return data, nil
}

// DecodeBusEvent parses an inbound bus payload. post_id, title, link and
// source are required; type defaults to BusEventTypePostCreated.
func DecodeBusEvent(data []byte) (BusEvent, error) {
	var raw struct {
		Type      *string `json:"type"`
		PostID    *int64  `json:"post_id"`
		Title     *string `json:"title"`
		Link      *string `json:"link"`
		Source    *string `json:"source"`
		Timestamp *string `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return BusEvent{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	var missing []error
	if raw.PostID == nil {
		missing = append(missing, errors.New("post_id is required"))
	}
	if raw.Title == nil {
		missing = append(missing, errors.New("title is required"))
	}
	if raw.Link == nil {
		missing = append(missing, errors.New("link is required"))
	}
	if raw.Source == nil {
		missing = append(missing, errors.New("source is required"))
	}
	if len(missing) > 0 {
		return BusEvent{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, errors.Join(missing...))
	}

	event := BusEvent{
		Type:   BusEventTypePostCreated,
		PostID: *raw.PostID,
		Title:  *raw.Title,
		Link:   *raw.Link,
		Source: *raw.Source,
	}
	if raw.Type != nil {
		event.Type = *raw.Type
	}
	if raw.Timestamp != nil {
		event.Timestamp = *raw.Timestamp
	}
	return event, nil
}

// Bus is the external publish/subscribe transport. Publish returns
// ErrBusUnavailable without blocking while the link is down. Subscribe
// registers the handler once and hands it raw payloads; the subscription
// stays alive until Close regardless of what the handler does.
type Bus interface {
	Publish(ctx context.Context, event BusEvent) error
	Subscribe(ctx context.Context, handler func(payload []byte)) error
	Connected() bool
	Close() error
}

// EventPublisher announces newly stored items to other services.
type EventPublisher interface {
	PublishItemCreated(ctx context.Context, item Item) error
}
