// Package runstatus names the coarse connection states shown to the operator.
package runstatus

import "strings"

const (
	Starting         = "Starting"
	Connected        = "Connected"
	Reconnecting     = "Reconnecting"
	Stale            = "Connection stale"
	Disconnected     = "Disconnected"
	DisconnectedAuth = "Disconnected (auth)"
)

const (
	KeyStarting         = "starting"
	KeyConnected        = "connected"
	KeyReconnecting     = "reconnecting"
	KeyStale            = "connection stale"
	KeyDisconnected     = "disconnected"
	KeyDisconnectedAuth = "disconnected (auth)"
)

func Key(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}
