package core

import "sync"

// Client is one live connection as seen by the core layer. Name is the
// unauthenticated display label supplied at join time.
type Client struct {
	ID   string
	Name string

	Commands chan *Command
	Events   chan *Event

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a client with initialized channels.
func NewClient(id string) *Client {
	return &Client{
		ID:       id,
		Commands: make(chan *Command, 16),
		Events:   make(chan *Event, 64),
		done:     make(chan struct{}),
	}
}

// Close signals the client's command pump to stop. Safe to call twice.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
