package transport

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	glog "github.com/vmexit/winkd/internal/log"
)

func init() {
	glog.L = glog.NewNop()
}

func TestOpenRejectsBadDevice(t *testing.T) {
	for _, dev := range []string{"", "windbg", "serial:/dev/ttyS0"} {
		if _, err := Open(dev); err == nil {
			t.Errorf("Open(%q) should fail", dev)
		}
	}
}

func TestUnixRoundTrip(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "windbg")
	tr, err := Open("unix:" + sock)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	got := make(chan []byte, 16)
	tr.SetReceiver(func() int { return 4000 }, func(b []byte) {
		buf := make([]byte, len(b))
		copy(buf, b)
		got <- buf
	})

	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{0x69, 0x69, 0x69, 0x69}); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	select {
	case b := <-got:
		if len(b) == 0 || b[0] != 0x69 {
			t.Errorf("received %v", b)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for inbound bytes")
	}

	// Outbound path reaches the connected peer.
	if _, err := tr.Write([]byte{0xAA}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	one := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Read(one); err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if one[0] != 0xAA {
		t.Errorf("peer got 0x%x", one[0])
	}
}

func TestWriteWithoutPeerDoesNotBlock(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "windbg")
	tr, err := Open("unix:" + sock)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	if n, err := tr.Write([]byte{1, 2, 3}); err != nil || n != 3 {
		t.Errorf("Write = (%d, %v)", n, err)
	}
}
