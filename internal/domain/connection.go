package domain

import "fmt"

// ConnectionState tracks liveness for a single client connection.
type ConnectionState string

const (
	ConnectionActive  ConnectionState = "ACTIVE"
	ConnectionProbing ConnectionState = "PROBING"
	ConnectionDown    ConnectionState = "DOWN"
)

// ConnectionMeta describes a connected client, independent of the
// transport (Connect bi-di stream) that owns it.
type ConnectionMeta struct {
	ConnectionID string
	ClientIP     string
	ClientPort   int
	Labels       map[string]string
	LastActiveMs int64
	State        ConnectionState
}

// NewConnectionID builds the canonical "{ts_millis}_{ip}_{port}"
// connection identifier. Uniqueness rests on the clock+tuple
// combination; the connection manager does not check whether an ID is
// already in use.
func NewConnectionID(tsMillis int64, ip string, port int) string {
	return fmt.Sprintf("%d_%s_%d", tsMillis, ip, port)
}
