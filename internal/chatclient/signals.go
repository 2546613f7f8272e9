package chatclient

import "yambot/internal/auth"

type SignalKind int

const (
	SignalConnected SignalKind = iota + 1
	SignalDisconnected
	SignalWarning
	SignalError
	SignalTokensRefreshed
)

func (k SignalKind) String() string {
	switch k {
	case SignalConnected:
		return "connected"
	case SignalDisconnected:
		return "disconnected"
	case SignalWarning:
		return "warning"
	case SignalError:
		return "error"
	case SignalTokensRefreshed:
		return "tokens refreshed"
	default:
		return "unknown"
	}
}

// Signal is a status notification for the operator, separate from chat
// events.
type Signal struct {
	Kind SignalKind
	Text string
	// Err is the underlying error for SignalError.
	Err error
	// Fatal marks errors that end the connection they arose on. Only
	// ErrReconnectExhausted also ends Run; after a read failure the client
	// reconnects on its own.
	Fatal bool
	// Tokens is set for SignalTokensRefreshed.
	Tokens auth.TokenPair
}
