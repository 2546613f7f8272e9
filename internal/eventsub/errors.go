package eventsub

import (
	"fmt"

	"github.com/gorilla/websocket"
)

// TransportError is a failure of the WebSocket itself: dial, read or write.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("eventsub %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("eventsub %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a frame that could not be understood. The connection
// keeps reading after one.
type ProtocolError struct {
	MessageType string
	Reason      string
	Err         error
}

func (e *ProtocolError) Error() string {
	msg := "eventsub protocol error"
	if e.MessageType != "" {
		msg += " (" + e.MessageType + ")"
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// SubscriptionError is a failed registration of a single topic.
type SubscriptionError struct {
	Topic     string
	Forbidden bool
	Err       error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribe %s: %v", e.Topic, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// CloseCodeText describes the EventSub server's close codes.
func CloseCodeText(code int) string {
	switch code {
	case 4000:
		return "internal server error"
	case 4001:
		return "client sent inbound traffic"
	case 4002:
		return "client failed ping-pong"
	case 4003:
		return "connection unused"
	case 4004:
		return "reconnect grace time expired"
	case 4005:
		return "network timeout"
	case 4006:
		return "network error"
	case 4007:
		return "invalid reconnect"
	case websocket.CloseNormalClosure:
		return "normal closure"
	case websocket.CloseGoingAway:
		return "going away"
	case websocket.CloseAbnormalClosure:
		return "abnormal closure"
	default:
		return fmt.Sprintf("close code %d", code)
	}
}
