package protocol

import (
	"errors"
	"testing"
	"time"

	"Go2FlowFeatures/internal/model"
	"Go2FlowFeatures/pkg/pcapgen"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

var ts = time.Unix(1700000000, 250000000)

func decode(t *testing.T, p pcapgen.Packet) gopacket.Packet {
	t.Helper()
	data, err := pcapgen.Build(p)
	if err != nil {
		t.Fatalf("Failed to build packet: %v", err)
	}
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	packet.Metadata().Timestamp = ts
	return packet
}

func newLogger() (*logrus.Logger, *test.Hook) {
	return test.NewNullLogger()
}

func TestExtractRecord_IPv4TCP(t *testing.T) {
	logger, hook := newLogger()
	packet := decode(t, pcapgen.Packet{
		Kind: pcapgen.TCPv4, Src: "192.168.0.1", Dst: "8.8.8.8",
		SrcPort: 12345, DstPort: 443, Flags: pcapgen.FlagSYN | pcapgen.FlagACK, Size: 120,
	})

	rec, err := ExtractRecord(packet, logger)
	if err != nil {
		t.Fatalf("ExtractRecord failed: %v", err)
	}
	if !rec.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", rec.Timestamp, ts)
	}
	if rec.SourceAddress == nil || *rec.SourceAddress != "192.168.0.1" {
		t.Errorf("Unexpected source address %v", rec.SourceAddress)
	}
	if rec.DestinationAddress == nil || *rec.DestinationAddress != "8.8.8.8" {
		t.Errorf("Unexpected destination address %v", rec.DestinationAddress)
	}
	if rec.Protocol == nil || *rec.Protocol != 6 {
		t.Errorf("Protocol should be 6, got %v", rec.Protocol)
	}
	if rec.HeaderLength == nil || *rec.HeaderLength != 20 {
		t.Errorf("Header length should be 20, got %v", rec.HeaderLength)
	}
	if rec.Size == nil || *rec.Size != 120 {
		t.Errorf("Size should be 120, got %v", rec.Size)
	}
	if rec.ControlFlags == nil || *rec.ControlFlags != pcapgen.FlagSYN|pcapgen.FlagACK {
		t.Errorf("Control flags should carry SYN+ACK, got %v", rec.ControlFlags)
	}
	if len(hook.AllEntries()) != 0 {
		t.Errorf("Expected no diagnostics, got %d", len(hook.AllEntries()))
	}
}

func TestExtractRecord_IPv4WithoutTCP(t *testing.T) {
	logger, _ := newLogger()
	for _, kind := range []pcapgen.Kind{pcapgen.UDPv4, pcapgen.IPv4Only} {
		rec, err := ExtractRecord(decode(t, pcapgen.Packet{Kind: kind, Src: "10.0.0.1", Dst: "10.0.0.2", Size: 200}), logger)
		if err != nil {
			t.Fatalf("ExtractRecord failed for kind %d: %v", kind, err)
		}
		if rec.ControlFlags == nil || *rec.ControlFlags != 0 {
			t.Errorf("Kind %d: control flags should be 0, got %v", kind, rec.ControlFlags)
		}
		if rec.Size == nil || *rec.Size != 200 {
			t.Errorf("Kind %d: size should be 200, got %v", kind, rec.Size)
		}
	}
}

func TestExtractRecord_TCPWithoutIPv4(t *testing.T) {
	logger, _ := newLogger()
	rec, err := ExtractRecord(decode(t, pcapgen.Packet{
		Kind: pcapgen.TCPv6, Src: "2001:db8::1", Dst: "2001:db8::2", Flags: pcapgen.FlagFIN, Size: 10,
	}), logger)
	if err != nil {
		t.Fatalf("ExtractRecord failed: %v", err)
	}
	if rec.ControlFlags == nil || *rec.ControlFlags != pcapgen.FlagFIN {
		t.Errorf("Control flags should carry FIN, got %v", rec.ControlFlags)
	}
	if rec.SourceAddress != nil || rec.DestinationAddress != nil || rec.Protocol != nil ||
		rec.HeaderLength != nil || rec.Size != nil {
		t.Errorf("Address, protocol, and length fields should be nil: %+v", rec)
	}
}

func TestExtractRecord_UDPWithoutIPv4(t *testing.T) {
	logger, _ := newLogger()
	rec, err := ExtractRecord(decode(t, pcapgen.Packet{
		Kind: pcapgen.UDPv6, Src: "2001:db8::1", Dst: "2001:db8::2", Size: 10,
	}), logger)
	if err != nil {
		t.Fatalf("ExtractRecord failed: %v", err)
	}
	if rec.ControlFlags != nil || rec.SourceAddress != nil || rec.Size != nil {
		t.Errorf("Only the timestamp should be set: %+v", rec)
	}
	if !rec.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", rec.Timestamp, ts)
	}
}

func TestExtractRecord_DropsOtherTraffic(t *testing.T) {
	logger, hook := newLogger()
	_, err := ExtractRecord(decode(t, pcapgen.Packet{Kind: pcapgen.ARP}), logger)
	if !errors.Is(err, model.ErrUnsupportedPacket) {
		t.Fatalf("Expected ErrUnsupportedPacket, got %v", err)
	}
	if len(hook.AllEntries()) != 0 {
		t.Errorf("Dropping a packet should not log, got %d entries", len(hook.AllEntries()))
	}
}

func TestExtractRecord_MalformedHeader(t *testing.T) {
	logger, hook := newLogger()
	rec, err := ExtractRecord(decode(t, pcapgen.Packet{Kind: pcapgen.Malformed}), logger)
	if err != nil {
		t.Fatalf("A malformed packet should still produce a record, got %v", err)
	}
	if !rec.Malformed {
		t.Errorf("Record should be marked malformed")
	}
	if !rec.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", rec.Timestamp, ts)
	}
	if len(hook.AllEntries()) != 1 {
		t.Fatalf("Expected exactly one parse diagnostic, got %d", len(hook.AllEntries()))
	}
	if hook.LastEntry().Level != logrus.WarnLevel {
		t.Errorf("Parse diagnostic should be a warning, got %s", hook.LastEntry().Level)
	}
	if rec.SourceAddress != nil || rec.DestinationAddress != nil || rec.Protocol != nil ||
		rec.HeaderLength != nil || rec.Size != nil || rec.ControlFlags != nil {
		t.Errorf("Fields of an undecodable header should be nil: %+v", rec)
	}
}

func TestExtractRecord_ShortHeaderLengthIgnoresAddresses(t *testing.T) {
	logger, hook := newLogger()
	eth := &layers.Ethernet{
		SrcMAC:       []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       []byte{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
		EthernetType: layers.EthernetTypeIPv4,
	}
	// IHL of 4 words is below the IPv4 minimum; the addresses that follow
	// are well formed but must not be used.
	header := []byte{
		0x44, 0x00, 0x00, 0x28, 0x00, 0x00, 0x40, 0x00, 0x40, 0x06, 0x00, 0x00,
		10, 0, 0, 1, 10, 0, 0, 2,
	}
	payload := append(header, make([]byte, 20)...)
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload(payload)); err != nil {
		t.Fatalf("Failed to build frame: %v", err)
	}
	packet := gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
	packet.Metadata().Timestamp = ts

	rec, err := ExtractRecord(packet, logger)
	if err != nil {
		t.Fatalf("A malformed packet should still produce a record, got %v", err)
	}
	if !rec.Malformed {
		t.Errorf("Record should be marked malformed")
	}
	if rec.SourceAddress != nil || rec.DestinationAddress != nil || rec.HeaderLength != nil || rec.Size != nil {
		t.Errorf("Fields of an invalid header should be nil: %+v", rec)
	}
	if len(hook.AllEntries()) != 1 {
		t.Errorf("Expected exactly one parse diagnostic, got %d", len(hook.AllEntries()))
	}
}

func TestExtractAll_CountsDroppedAndMalformed(t *testing.T) {
	logger, hook := newLogger()
	packets := []gopacket.Packet{
		decode(t, pcapgen.Packet{Kind: pcapgen.TCPv4, Src: "10.0.0.1", Dst: "10.0.0.2", Size: 60}),
		decode(t, pcapgen.Packet{Kind: pcapgen.ARP}),
		decode(t, pcapgen.Packet{Kind: pcapgen.Malformed}),
		decode(t, pcapgen.Packet{Kind: pcapgen.UDPv4, Src: "10.0.0.2", Dst: "10.0.0.1", Size: 60}),
	}

	records, dropped, malformed := ExtractAll(packets, logger)
	if len(records) != 3 || dropped != 1 || malformed != 1 {
		t.Fatalf("Expected 3 records, 1 dropped, 1 malformed; got %d, %d, %d", len(records), dropped, malformed)
	}
	if !records[1].Malformed || records[0].Malformed || records[2].Malformed {
		t.Errorf("Records should keep packet order")
	}
	if len(hook.AllEntries()) != 1 {
		t.Errorf("Expected one parse diagnostic, got %d", len(hook.AllEntries()))
	}
}

func TestFlagString(t *testing.T) {
	cases := map[uint16]string{
		0:                                 "0",
		pcapgen.FlagSYN:                   "S",
		pcapgen.FlagSYN | pcapgen.FlagACK: "SA",
		pcapgen.FlagPSH | pcapgen.FlagACK: "PA",
		pcapgen.FlagFIN | pcapgen.FlagACK: "FA",
		pcapgen.FlagECE | pcapgen.FlagNS:  "EN",
	}
	for mask, want := range cases {
		if got := FlagString(mask); got != want {
			t.Errorf("FlagString(%#x) = %q, want %q", mask, got, want)
		}
	}
}
