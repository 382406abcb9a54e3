package phd

import "fmt"

// Plugin is implemented by a transport adapter (Bluetooth HDP, USB,
// TCP, a serial FIFO...); the core engine never speaks a wire protocol
// directly, only through this seam.
type Plugin interface {
	// SendAPDU transmits a single complete, already-framed APDU on conn.
	SendAPDU(conn uint64, data []byte) error
	// Disconnect asks the plugin to tear down conn from this side.
	Disconnect(conn uint64) error
	// TimerReset (re)arms a one-shot timer for conn; fire is called from
	// whatever goroutine the plugin chooses once seconds elapse unless
	// TimerCancel is called first with the returned token.
	TimerReset(conn uint64, seconds int, fire func()) interface{}
	// TimerCancel disarms a timer previously returned by TimerReset.
	TimerCancel(conn uint64, token interface{})
}

// RegisterPlugin assigns plugin a 1-origin id and returns it; callers use
// that id in every subsequent transport indication.
func (m *Manager) RegisterPlugin(plugin Plugin) uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPlugin++
	id := m.nextPlugin
	m.plugins[id] = plugin
	return id
}

// TransportConnectIndication creates a Context for a newly accepted
// connection and drives its FSM from Disconnected to Unassociated.
func (m *Manager) TransportConnectIndication(pluginID uint8, conn uint64) *Context {
	m.mu.Lock()
	plugin := m.plugins[pluginID]
	m.mu.Unlock()
	id := ContextID{Plugin: pluginID, Conn: conn}
	ctx := m.registry.create(id, RoleManager, plugin, m)
	ctx.Fire(EvtTransportConnect, nil)
	return ctx
}

// ProcessInputData hands one complete APDU to the Context identified by
// (pluginID, conn).
func (m *Manager) ProcessInputData(pluginID uint8, conn uint64, data []byte) error {
	id := ContextID{Plugin: pluginID, Conn: conn}
	ctx, ok := m.registry.get(id)
	if !ok {
		return fmt.Errorf("phd: no context for plugin %d conn %d", pluginID, conn)
	}
	ctx.ProcessInputData(data)
	return nil
}

// TransportDisconnectIndication fires EvtTransportDisconnect on the
// Context for (pluginID, conn), then forgets it.
func (m *Manager) TransportDisconnectIndication(pluginID uint8, conn uint64) {
	id := ContextID{Plugin: pluginID, Conn: conn}
	ctx, ok := m.registry.get(id)
	if !ok {
		return
	}
	ctx.Fire(EvtTransportDisconnect, nil)
	m.registry.remove(id)
}
