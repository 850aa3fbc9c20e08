package tap

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vmexit/winkd/internal/kd"
)

func newTap(t *testing.T) (*Tap, string) {
	t.Helper()
	dir := t.TempDir()
	tp, err := New(dir, "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(tp.Close)
	return tp, dir
}

func readFile(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}

func manipulateStream(api uint32) []byte {
	var payload [kd.M64Size]byte
	binary.LittleEndian.PutUint32(payload[0:], api)

	pkt := kd.Packet{
		Leader:    kd.PacketLeader,
		Type:      kd.PacketTypeKDStateManipulate,
		ByteCount: kd.M64Size,
		Checksum:  kd.Checksum(payload[:]),
	}
	out := pkt.Encode()
	out = append(out, payload[:]...)
	return append(out, kd.PacketTrailingByte)
}

func TestTapLogsManipulatePacket(t *testing.T) {
	tp, dir := newTap(t)

	tp.FromDebugger(manipulateStream(kd.APIReadVirtualMemory))

	packets := readFile(t, dir, "winkd_test_parsed_packets.txt")
	if !strings.Contains(packets, "FROM: WinDbg") {
		t.Error("packet summary missing direction")
	}
	if !strings.Contains(packets, "PACKET_TYPE_KD_STATE_MANIPULATE") {
		t.Error("packet summary missing type name")
	}

	api := readFile(t, dir, "winkd_test_parsed_api.txt")
	if !strings.Contains(api, "WinDbg: DbgKdReadVirtualMemoryApi") {
		t.Errorf("api summary = %q", api)
	}
}

func TestTapLogsBreakin(t *testing.T) {
	tp, dir := newTap(t)

	tp.FromDebugger([]byte{kd.BreakinPacketByte})

	packets := readFile(t, dir, "winkd_test_parsed_packets.txt")
	if !strings.Contains(packets, "BREAKIN") {
		t.Error("break-in not logged")
	}
}

// The two directions never share parser state: a packet split across
// one direction does not corrupt the other.
func TestTapDirectionsIndependent(t *testing.T) {
	tp, dir := newTap(t)

	stream := manipulateStream(kd.APIGetContext)
	half := len(stream) / 2

	tp.FromDebugger(stream[:half])
	tp.FromKernel(manipulateStream(kd.APIGetVersion))
	tp.FromDebugger(stream[half:])

	api := readFile(t, dir, "winkd_test_parsed_api.txt")
	if !strings.Contains(api, "Kernel: DbgKdGetVersionApi") {
		t.Error("kernel direction lost")
	}
	if !strings.Contains(api, "WinDbg: DbgKdGetContextApi") {
		t.Error("split debugger packet lost")
	}
}
