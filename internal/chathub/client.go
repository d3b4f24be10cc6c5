package chathub

import (
	"carechat/backend/internal/models"
)

// Client is the interface for one authenticated connection. It abstracts
// the transport so the hub can manage socket clients and test doubles
// uniformly.
type Client interface {
	// GetUserID returns the authenticated user behind the connection.
	GetUserID() string
	// GetRole returns the role extracted from the credential at connect.
	GetRole() models.Role

	// GetSendChannel returns the channel the hub writes outbound events to.
	GetSendChannel() chan<- models.ServerEvent

	// Run starts the connection's read and write pumps.
	Run()
	// Close shuts the connection down and releases its channels.
	Close()
}

// Request is one inbound client event awaiting dispatch.
type Request struct {
	Client Client
	Event  models.ClientEvent
}
