package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the discriminator carried in the "event" field of every
// frame exchanged with live connections.
type EventType string

const (
	EventConnectionEstablished EventType = "connection_established"
	EventPong                  EventType = "pong"
	EventConnectionsInfo       EventType = "connections_info"
	EventNewPost               EventType = "new_post"
	EventManualPostCreated     EventType = "manual_post_created"
	EventPostUpdated           EventType = "post_updated"
	EventPostDeleted           EventType = "post_deleted"
	EventExternalPost          EventType = "external_post"
)

// Inbound control events.
const (
	CommandPing    = "ping"
	CommandGetInfo = "get_info"
)

// Notification is an ephemeral outbound event. Each variant has a fixed field
// set and marshals with its event tag inlined next to its own fields.
type Notification interface {
	Event() EventType
}

// ConnectionInfo describes one live connection.
type ConnectionInfo struct {
	ID          string    `json:"id"`
	ConnectedAt time.Time `json:"connected_at"`
	Address     string    `json:"ip"`
}

type ConnectionEstablished struct {
	ClientID  string    `json:"client_id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

type Pong struct {
	Timestamp time.Time `json:"timestamp"`
}

type ConnectionsInfo struct {
	Data      []ConnectionInfo `json:"data"`
	Timestamp time.Time        `json:"timestamp"`
}

type NewPost struct {
	Payload   ItemSummary `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

type ManualPostCreated struct {
	Payload   Item      `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

type PostUpdated struct {
	Payload   Item      `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

type PostDeleted struct {
	PostID    int64     `json:"post_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ExternalPost relays a bus event to live connections. Timestamp is the
// envelope's own timestamp, verbatim.
type ExternalPost struct {
	Payload   BusEvent `json:"payload"`
	Timestamp string   `json:"timestamp"`
}

func (ConnectionEstablished) Event() EventType { return EventConnectionEstablished }
func (Pong) Event() EventType                  { return EventPong }
func (ConnectionsInfo) Event() EventType       { return EventConnectionsInfo }
func (NewPost) Event() EventType               { return EventNewPost }
func (ManualPostCreated) Event() EventType     { return EventManualPostCreated }
func (PostUpdated) Event() EventType           { return EventPostUpdated }
func (PostDeleted) Event() EventType           { return EventPostDeleted }
func (ExternalPost) Event() EventType          { return EventExternalPost }

func (n ConnectionEstablished) MarshalJSON() ([]byte, error) {
	type fields ConnectionEstablished
	return json.Marshal(struct {
		Event EventType `json:"event"`
		fields
	}{n.Event(), fields(n)})
}

func (n Pong) MarshalJSON() ([]byte, error) {
	type fields Pong
	return json.Marshal(struct {
		Event EventType `json:"event"`
		fields
	}{n.Event(), fields(n)})
}

func (n ConnectionsInfo) MarshalJSON() ([]byte, error) {
	type fields ConnectionsInfo
	if n.Data == nil {
		n.Data = []ConnectionInfo{}
	}
	return json.Marshal(struct {
		Event EventType `json:"event"`
		fields
	}{n.Event(), fields(n)})
}

func (n NewPost) MarshalJSON() ([]byte, error) {
	type fields NewPost
	return json.Marshal(struct {
		Event EventType `json:"event"`
		fields
	}{n.Event(), fields(n)})
}

func (n ManualPostCreated) MarshalJSON() ([]byte, error) {
	type fields ManualPostCreated
	return json.Marshal(struct {
		Event EventType `json:"event"`
		fields
	}{n.Event(), fields(n)})
}

func (n PostUpdated) MarshalJSON() ([]byte, error) {
	type fields PostUpdated
	return json.Marshal(struct {
		Event EventType `json:"event"`
		fields
	}{n.Event(), fields(n)})
}

func (n PostDeleted) MarshalJSON() ([]byte, error) {
	type fields PostDeleted
	return json.Marshal(struct {
		Event EventType `json:"event"`
		fields
	}{n.Event(), fields(n)})
}

func (n ExternalPost) MarshalJSON() ([]byte, error) {
	type fields ExternalPost
	return json.Marshal(struct {
		Event EventType `json:"event"`
		fields
	}{n.Event(), fields(n)})
}

// EncodeNotification serializes a notification into a single text frame.
func EncodeNotification(n Notification) ([]byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s notification: %w", n.Event(), err)
	}
	return data, nil
}

// InboundMessage is a control frame received from a live connection.
type InboundMessage struct {
	Event string `json:"event"`
}

// DecodeInbound parses a client frame. A frame must be a JSON object; a
// missing event field decodes as "unknown".
func DecodeInbound(data []byte) (InboundMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return InboundMessage{}, fmt.Errorf("invalid inbound frame: %w", err)
	}
	msg := InboundMessage{Event: "unknown"}
	if raw, ok := fields["event"]; ok {
		var event string
		if err := json.Unmarshal(raw, &event); err == nil && event != "" {
			msg.Event = event
		}
	}
	return msg, nil
}

// Broadcaster delivers a notification to every live connection and returns
// how many connections it was handed to.
type Broadcaster interface {
	Broadcast(n Notification) int
}
