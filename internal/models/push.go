package models

// PushMessageType discriminates inbound push channel envelopes.
type PushMessageType string

const (
	PushAvailabilityUpdate PushMessageType = "availability_update"
	PushConnected          PushMessageType = "connected"
	PushSubscribed         PushMessageType = "subscribed"
	PushPong               PushMessageType = "pong"
	PushError              PushMessageType = "error"
)

// PushEnvelope is the inbound JSON frame of the push channel.
type PushEnvelope struct {
	Type    PushMessageType     `json:"type"`
	Route   string              `json:"route,omitempty"`
	Data    *AvailabilityUpdate `json:"data,omitempty"`
	Routes  []string            `json:"routes,omitempty"`
	Message string              `json:"message,omitempty"`
}

// ControlAction is the action of an outbound control frame.
type ControlAction string

const (
	ActionPing        ControlAction = "ping"
	ActionSubscribe   ControlAction = "subscribe"
	ActionUnsubscribe ControlAction = "unsubscribe"
)

// ControlFrame is an outbound frame sent by the client.
type ControlFrame struct {
	Action ControlAction `json:"action"`
	Routes []string      `json:"routes,omitempty"`
}
