package chatclient

import "errors"

var (
	ErrStartupIdentity    = errors.New("chat client could not resolve channel or bot identity")
	ErrStartupConnect     = errors.New("chat client startup eventsub connect failed")
	ErrSessionTimeout     = errors.New("eventsub session welcome timeout")
	ErrReconnectExhausted = errors.New("eventsub reconnect attempts exhausted")
	ErrKeepaliveTimeout   = errors.New("keepalive timeout - connection stale")
	ErrNotConnected       = errors.New("chat client not connected")
)
