// Package session owns one debugger connection: it feeds received
// bytes through the framing parser, answers control packets,
// acknowledges and dispatches manipulate requests, and injects
// asynchronous state changes on break-in and breakpoint hits.
package session

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vmexit/winkd/internal/breakpoint"
	"github.com/vmexit/winkd/internal/guest"
	"github.com/vmexit/winkd/internal/kd"
	glog "github.com/vmexit/winkd/internal/log"
	"github.com/vmexit/winkd/internal/machine"
	"github.com/vmexit/winkd/internal/parser"
	"github.com/vmexit/winkd/internal/tap"
	"github.com/vmexit/winkd/internal/transport"
)

// Config selects optional session features.
type Config struct {
	// TapDir enables the diagnostic packet tap when non-empty.
	TapDir string
}

// Session is the stub's per-connection state. One session exists per
// process.
type Session struct {
	ID string

	m     machine.Machine
	tr    transport.Transport
	p     *parser.Parser
	view  *guest.View
	recon *breakpoint.Reconciler
	bps   *breakpoint.Table
	tap   *tap.Tap

	// mu serializes the transport receive path against the emulator's
	// breakpoint callback; both mutate packet counters and send.
	mu sync.Mutex

	ctrlID uint32
	dataID uint32
	loaded bool
}

var (
	activeMu sync.Mutex
	active   *Session
)

// Start creates the process-wide session: installs the transport
// receiver, claims the machine's debug-exception handler, and
// registers teardown. A duplicate session or an already-claimed
// handler is fatal.
func Start(m machine.Machine, tr transport.Transport, cfg Config) *Session {
	activeMu.Lock()
	defer activeMu.Unlock()
	if active != nil {
		glog.L.Fatal("debug session already active; multiple instances are not supported")
	}

	s := &Session{
		ID:     uuid.NewString(),
		m:      m,
		tr:     tr,
		p:      parser.New("WinDbg"),
		ctrlID: kd.ResetPacketID,
		dataID: kd.InitialPacketID | kd.SyncPacketID,
	}
	s.recon = breakpoint.NewReconciler(m)
	s.view = guest.NewView(m, s.recon)
	s.bps = breakpoint.NewTable(m)

	if cfg.TapDir != "" {
		t, err := tap.New(cfg.TapDir, s.ID)
		if err != nil {
			glog.L.Warn("packet tap disabled", zap.Error(err))
		} else {
			s.tap = t
		}
	}

	if err := m.OnBreakpoint(s.onBreakpoint); err != nil {
		glog.L.Fatal("another debugger stub has already been registered", zap.Error(err))
	}
	m.OnExit(s.teardown)
	tr.SetReceiver(s.canReceive, s.Receive)

	active = s
	glog.L.Info("kd session started", zap.String("session", s.ID))
	return s
}

func (s *Session) canReceive() int {
	return kd.PacketMaxSize
}

// OnLoad is the external load trigger: the guest kernel is far enough
// along that the KPCR walk succeeds. Bytes received before this are
// discarded.
func (s *Session) OnLoad() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return
	}
	if _, err := s.view.ControlAddrs(0); err != nil {
		glog.L.Warn("control address walk failed", zap.Error(err))
		return
	}
	s.loaded = true
	glog.L.Info("guest kernel loaded; accepting debugger traffic")
}

// Receive is the transport inbound callback.
func (s *Session) Receive(buf []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tap != nil {
		s.tap.FromDebugger(buf)
	}
	if !s.loaded {
		return
	}
	for _, b := range buf {
		s.handle(s.p.Feed(b))
	}
}

func (s *Session) handle(ev parser.Event) {
	switch ev {
	case parser.EventNone:

	case parser.EventBreakin:
		s.breakIn()

	case parser.EventControlPacket:
		s.handleControl()

	case parser.EventDataPacket:
		s.handleData()

	case parser.EventUnknownPacket, parser.EventError:
		glog.L.Warn("framing error",
			zap.Uint16("type", s.p.Packet.Type),
			zap.Uint32("leader", s.p.Packet.Leader),
		)
		s.resend()
	}
}

func (s *Session) handleControl() {
	switch s.p.Packet.Type {
	case kd.PacketTypeKDAcknowledge:

	case kd.PacketTypeKDReset:
		// Handshake resynchronization: announce the kernel symbols,
		// echo the reset, and rewind the control counter.
		sc, err := s.view.LoadSymbolsStateChange(0)
		if err != nil {
			glog.L.Error("load-symbols state change failed", zap.Error(err))
			return
		}
		s.sendData(sc, kd.PacketTypeKDStateChange64)
		s.sendControl(s.p.Packet.Type)
		s.ctrlID = kd.InitialPacketID

	default:
		glog.L.Warn("unsupported control packet",
			zap.String("type", kd.PacketTypeName(s.p.Packet.Type)))
		s.resend()
	}
}

func (s *Session) handleData() {
	switch s.p.Packet.Type {
	case kd.PacketTypeKDStateManipulate:
		s.sendControl(kd.PacketTypeKDAcknowledge)
		s.dispatchManipulate()

	default:
		glog.L.Warn("unsupported data packet",
			zap.String("type", kd.PacketTypeName(s.p.Packet.Type)))
		s.resend()
	}
}

// breakIn services the debugger's out-of-band interrupt byte: stop the
// guest and report where it stood.
func (s *Session) breakIn() {
	s.m.Stop(machine.StopPaused)
	s.sendExceptionStateChange(0)
}

// onBreakpoint is the emulator's debug-exception callback. The VM is
// already stopped; tell the debugger.
func (s *Session) onBreakpoint(cpu int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendExceptionStateChange(cpu)
}

func (s *Session) sendExceptionStateChange(cpu int) {
	sc, err := s.view.ExceptionStateChange(cpu)
	if err != nil {
		glog.L.Error("exception state change failed", zap.Error(err))
		return
	}
	s.sendData(sc, kd.PacketTypeKDStateChange64)
}

// sendData frames and transmits a data packet, then toggles the data
// counter.
func (s *Session) sendData(payload []byte, typ uint16) {
	pkt := kd.Packet{
		Leader:    kd.PacketLeader,
		Type:      typ,
		ByteCount: uint16(len(payload)),
		ID:        s.dataID,
		Checksum:  kd.Checksum(payload),
	}

	hdr := pkt.Encode()
	s.tr.Write(hdr)
	s.tr.Write(payload)
	s.tr.Write([]byte{kd.PacketTrailingByte})
	s.dataID ^= 1

	if s.tap != nil {
		s.tap.FromKernel(hdr)
		s.tap.FromKernel(payload)
		s.tap.FromKernel([]byte{kd.PacketTrailingByte})
	}
}

// sendControl frames and transmits a control packet, then toggles the
// control counter.
func (s *Session) sendControl(typ uint16) {
	pkt := kd.Packet{
		Leader: kd.ControlPacketLeader,
		Type:   typ,
		ID:     s.ctrlID,
	}

	hdr := pkt.Encode()
	s.tr.Write(hdr)
	s.ctrlID ^= 1

	if s.tap != nil {
		s.tap.FromKernel(hdr)
	}
}

// resend asks the peer to retransmit; the control counter is zeroed
// first per the wire contract.
func (s *Session) resend() {
	s.ctrlID = 0
	s.sendControl(kd.PacketTypeKDResend)
}

func (s *Session) teardown() {
	if s.tap != nil {
		s.tap.Close()
	}
	glog.L.Info("kd session closed", zap.String("session", s.ID))
}
