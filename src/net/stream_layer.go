package net

import (
	"net"
	"time"
)

// StreamLayer is the connection-level abstraction under NetworkTransport. It
// lets the same framed gossip protocol run over plain TCP, TLS, or anything
// else that provides dialable, listenable streams.
type StreamLayer interface {
	net.Listener

	// Dial opens an outgoing connection to another node within the timeout.
	Dial(address string, timeout time.Duration) (net.Conn, error)

	// AdvertiseAddr returns the address other nodes should dial to reach this
	// one, which may differ from the bound address behind NAT or in
	// containers.
	AdvertiseAddr() string
}
