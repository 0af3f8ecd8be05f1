package session

import "sync"

type fakeConn struct {
	mu sync.Mutex

	id       string
	remoteIP string
	live     bool

	events []string
	onDisc []func()
}

func newFakeConn(id, ip string) *fakeConn {
	return &fakeConn{id: id, remoteIP: ip, live: true}
}

func (c *fakeConn) ID() string       { return c.id }
func (c *fakeConn) RemoteIP() string { return c.remoteIP }
func (c *fakeConn) IsLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}
func (c *fakeConn) Send(event string, _ any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}
func (c *fakeConn) Subscribe(string) {}
func (c *fakeConn) Leave(string)     {}
func (c *fakeConn) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisc = append(c.onDisc, cb)
}
func (c *fakeConn) Close() {
	c.mu.Lock()
	if !c.live {
		c.mu.Unlock()
		return
	}
	c.live = false
	cbs := append([]func(){}, c.onDisc...)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}
