// Package tcp is a reference phd.Plugin: one goroutine per accepted
// connection, grounded on the teacher's RunProviderForConn/Run pair in
// serviceprovider.go. An APDU is already self-delimiting (apdu.Encode
// writes a 2-byte choice and a 2-byte length before the payload), so no
// extra framing layer is needed: the plugin reads the 4-byte header,
// then exactly that many more bytes, and hands the whole thing to the
// Manager untouched.
package tcp

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/golang/glog"

	phd "github.com/signove/phd-manager"
)

const headerSize = 4

// Plugin serves Personal Health Data associations over plain TCP.
type Plugin struct {
	mgr      *phd.Manager
	pluginID uint8

	mu       sync.Mutex
	conns    map[uint64]net.Conn
	nextConn uint64
}

// New registers a Plugin with mgr and returns it ready for
// ListenAndServe.
func New(mgr *phd.Manager) *Plugin {
	p := &Plugin{mgr: mgr, conns: map[uint64]net.Conn{}}
	p.pluginID = mgr.RegisterPlugin(p)
	return p
}

// ListenAndServe accepts connections on addr until Accept fails.
func (p *Plugin) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		go p.serve(conn)
	}
}

func (p *Plugin) serve(conn net.Conn) {
	p.mu.Lock()
	p.nextConn++
	id := p.nextConn
	p.conns[id] = conn
	p.mu.Unlock()

	p.mgr.TransportConnectIndication(p.pluginID, id)
	defer func() {
		conn.Close()
		p.mu.Lock()
		delete(p.conns, id)
		p.mu.Unlock()
		p.mgr.TransportDisconnectIndication(p.pluginID, id)
	}()

	header := make([]byte, headerSize)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			if err != io.EOF {
				glog.Warningf("phd/tcp: conn %d: read header: %v", id, err)
			}
			return
		}
		length := binary.BigEndian.Uint16(header[2:4])
		body := make([]byte, length)
		if _, err := io.ReadFull(conn, body); err != nil {
			glog.Warningf("phd/tcp: conn %d: read body: %v", id, err)
			return
		}
		pdu := make([]byte, 0, headerSize+len(body))
		pdu = append(pdu, header...)
		pdu = append(pdu, body...)
		if err := p.mgr.ProcessInputData(p.pluginID, id, pdu); err != nil {
			glog.Warningf("phd/tcp: conn %d: %v", id, err)
			return
		}
	}
}

func (p *Plugin) SendAPDU(conn uint64, data []byte) error {
	p.mu.Lock()
	c, ok := p.conns[conn]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("phd/tcp: unknown conn %d", conn)
	}
	_, err := c.Write(data)
	return err
}

func (p *Plugin) Disconnect(conn uint64) error {
	p.mu.Lock()
	c, ok := p.conns[conn]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return c.Close()
}

func (p *Plugin) TimerReset(conn uint64, seconds int, fire func()) interface{} {
	return time.AfterFunc(time.Duration(seconds)*time.Second, fire)
}

func (p *Plugin) TimerCancel(conn uint64, token interface{}) {
	if t, ok := token.(*time.Timer); ok {
		t.Stop()
	}
}
