package registry

import "sync"

// fakeConn is an in-memory transport.Connection for exercising the
// registry without a real socket.
type fakeConn struct {
	mu sync.Mutex

	id       string
	remoteIP string
	live     bool

	channels map[string]bool
	events   []event
	onDisc   []func()
}

type event struct {
	name    string
	payload any
}

func newFakeConn(id, remoteIP string) *fakeConn {
	return &fakeConn{
		id:       id,
		remoteIP: remoteIP,
		live:     true,
		channels: make(map[string]bool),
	}
}

func (c *fakeConn) ID() string       { return c.id }
func (c *fakeConn) RemoteIP() string { return c.remoteIP }
func (c *fakeConn) IsLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

func (c *fakeConn) Send(name string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event{name: name, payload: payload})
}

func (c *fakeConn) Subscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channel] = true
}

func (c *fakeConn) Leave(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channel)
}

func (c *fakeConn) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisc = append(c.onDisc, cb)
}

func (c *fakeConn) Close() {
	c.disconnect()
}

func (c *fakeConn) disconnect() {
	c.mu.Lock()
	c.live = false
	cbs := append([]func(){}, c.onDisc...)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

func (c *fakeConn) eventsNamed(name string) []event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []event
	for _, e := range c.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

func (c *fakeConn) countEvents(name string) int {
	return len(c.eventsNamed(name))
}
