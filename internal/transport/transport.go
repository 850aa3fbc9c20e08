// Package transport opens the byte-oriented link to the remote
// debugger from a device URI and pumps received bytes into the
// session's receive callback, chunked to what the receiver accepts.
//
// Supported schemes:
//
//	pipe:NAME       unix socket named NAME in the runtime directory
//	unix:/path      unix socket at an explicit path
//	tcp:host:port   TCP listener
package transport

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	glog "github.com/vmexit/winkd/internal/log"
)

// Transport is the character-device surface the session drives.
type Transport interface {
	// Write sends bytes to the debugger.
	Write(p []byte) (int, error)

	// SetReceiver installs the inbound callback. canRecv reports the
	// largest chunk the receiver accepts; recv is called with each
	// chunk as it arrives.
	SetReceiver(canRecv func() int, recv func([]byte))

	Close() error
}

// link serves a single debugger connection at a time. WinDbg connects,
// talks, and may reconnect after a restart; each accept replaces the
// previous connection.
type link struct {
	listener net.Listener

	mu      sync.Mutex
	conn    net.Conn
	canRecv func() int
	recv    func([]byte)
	closed  bool
}

// Open parses a device URI and starts listening for the debugger.
func Open(device string) (Transport, error) {
	scheme, rest, ok := strings.Cut(device, ":")
	if !ok {
		return nil, fmt.Errorf("device %q: want scheme:address", device)
	}

	var (
		ln  net.Listener
		err error
	)
	switch scheme {
	case "pipe":
		path := filepath.Join(runtimeDir(), rest)
		os.Remove(path)
		ln, err = net.Listen("unix", path)
	case "unix":
		os.Remove(rest)
		ln, err = net.Listen("unix", rest)
	case "tcp":
		ln, err = net.Listen("tcp", rest)
	default:
		return nil, fmt.Errorf("device scheme %q not supported", scheme)
	}
	if err != nil {
		return nil, fmt.Errorf("open device %q: %w", device, err)
	}

	l := &link{listener: ln}
	go l.acceptLoop()
	return l, nil
}

func runtimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return os.TempDir()
}

func (l *link) acceptLoop() {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if !closed {
				glog.L.Warn("debugger accept failed", zap.Error(err))
			}
			return
		}

		l.mu.Lock()
		if l.conn != nil {
			l.conn.Close()
		}
		l.conn = conn
		l.mu.Unlock()

		glog.L.Info("debugger connected", zap.String("peer", conn.RemoteAddr().String()))
		go l.readLoop(conn)
	}
}

func (l *link) readLoop(conn net.Conn) {
	for {
		l.mu.Lock()
		canRecv, recv := l.canRecv, l.recv
		l.mu.Unlock()
		if recv == nil {
			// Receiver not installed yet; drop the connection bytes
			// on the floor like an unclaimed character device.
			buf := make([]byte, 512)
			if _, err := conn.Read(buf); err != nil {
				return
			}
			continue
		}

		max := canRecv()
		if max <= 0 {
			max = 1
		}
		buf := make([]byte, max)
		n, err := conn.Read(buf)
		if n > 0 {
			recv(buf[:n])
		}
		if err != nil {
			glog.L.Info("debugger disconnected")
			return
		}
	}
}

func (l *link) Write(p []byte) (int, error) {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		// No debugger attached; writes vanish as on an unconnected
		// serial line.
		return len(p), nil
	}
	return conn.Write(p)
}

func (l *link) SetReceiver(canRecv func() int, recv func([]byte)) {
	l.mu.Lock()
	l.canRecv = canRecv
	l.recv = recv
	l.mu.Unlock()
}

func (l *link) Close() error {
	l.mu.Lock()
	l.closed = true
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	return l.listener.Close()
}
