package chathub

import "chatrelay/backend/internal/presence"

// Client is one authenticated connection managed by the hub.
type Client interface {
	presence.Conn
	// Identity is the user the connection was authenticated as; every event
	// it sends must act as this user.
	Identity() uint
	// Run starts the read and write pumps.
	Run()
	// Close stops the pumps. It is safe to call more than once.
	Close()
}
