package protocol

import (
	"fmt"
	"strings"

	"Go2FlowFeatures/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"
)

// flagLetters names the TCP control bits from FIN (bit 0) to NS (bit 8).
const flagLetters = "FSRPAUECN"

// ExtractRecord maps a decoded packet to a PacketRecord. Layers are tried in
// priority order IPv4, then TCP, then UDP; a packet with none of them is
// rejected with model.ErrUnsupportedPacket. A packet that failed to decode
// still yields a best-effort record, and the failure is logged once.
func ExtractRecord(packet gopacket.Packet, logger logrus.FieldLogger) (record *model.PacketRecord, err error) {
	record = &model.PacketRecord{}
	if meta := packet.Metadata(); meta != nil {
		record.Timestamp = meta.Timestamp
	}

	defer func() {
		if r := recover(); r != nil {
			record = &model.PacketRecord{Timestamp: record.Timestamp, Malformed: true}
			err = nil
			logParseError(logger, record, fmt.Errorf("%w: %v", model.ErrPacketParse, r))
		}
	}()

	var decodeErr error
	if errLayer := packet.ErrorLayer(); errLayer != nil {
		record.Malformed = true
		decodeErr = fmt.Errorf("%w: %v", model.ErrPacketParse, errLayer.Error())
	}

	ipLayer, _ := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if ipLayer != nil && !ipv4Decoded(packet, ipLayer) {
		// gopacket keeps a layer whose header failed to decode; none of
		// its fields can be trusted.
		ipLayer = nil
	}
	tcpLayer, _ := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
	udpLayer, _ := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)

	switch {
	case ipLayer != nil:
		src := ipLayer.SrcIP.String()
		dst := ipLayer.DstIP.String()
		proto := uint8(ipLayer.Protocol)
		headerLength := int(ipLayer.IHL) * 4
		size := len(ipLayer.LayerContents()) + len(ipLayer.LayerPayload())
		var flags uint16
		if tcpLayer != nil {
			flags = TCPFlags(tcpLayer)
		}
		record.SourceAddress = &src
		record.DestinationAddress = &dst
		record.Protocol = &proto
		record.HeaderLength = &headerLength
		record.Size = &size
		record.ControlFlags = &flags
	case tcpLayer != nil:
		flags := TCPFlags(tcpLayer)
		record.ControlFlags = &flags
	case udpLayer != nil:
		// UDP carries no control bits; only the timestamp is known.
	case decodeErr != nil:
		// Nothing decoded far enough to classify the packet. Keep the
		// timestamp so the row count still matches the packet count.
	default:
		return nil, model.ErrUnsupportedPacket
	}

	if decodeErr != nil {
		logParseError(logger, record, decodeErr)
	}
	return record, nil
}

// ExtractAll extracts a record from every packet in order. Unsupported
// packets are skipped and counted as dropped; malformed counts the
// best-effort records among the result.
func ExtractAll(packets []gopacket.Packet, logger logrus.FieldLogger) (records []*model.PacketRecord, dropped, malformed int) {
	records = make([]*model.PacketRecord, 0, len(packets))
	for _, packet := range packets {
		rec, err := ExtractRecord(packet, logger)
		if err != nil {
			dropped++
			continue
		}
		if rec.Malformed {
			malformed++
		}
		records = append(records, rec)
	}
	return records, dropped, malformed
}

// ipv4Decoded reports whether ip is a complete IPv4 header. A decode
// failure recorded directly after the IPv4 layer belongs to that layer.
func ipv4Decoded(packet gopacket.Packet, ip *layers.IPv4) bool {
	if ip.Version != 4 || ip.IHL < 5 || len(ip.LayerContents()) < int(ip.IHL)*4 {
		return false
	}
	all := packet.Layers()
	for i, l := range all {
		if l != ip {
			continue
		}
		if i+1 < len(all) && all[i+1].LayerType() == gopacket.LayerTypeDecodeFailure {
			return false
		}
		break
	}
	return true
}

// TCPFlags packs the control bits of a TCP header into a bitmask, FIN being bit 0.
func TCPFlags(tcp *layers.TCP) uint16 {
	bits := []bool{tcp.FIN, tcp.SYN, tcp.RST, tcp.PSH, tcp.ACK, tcp.URG, tcp.ECE, tcp.CWR, tcp.NS}
	var mask uint16
	for i, set := range bits {
		if set {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// FlagString renders a control-bit mask as flag letters, e.g. SYN+ACK as "SA".
// An empty mask renders as "0".
func FlagString(mask uint16) string {
	if mask == 0 {
		return "0"
	}
	var b strings.Builder
	for i := 0; i < len(flagLetters); i++ {
		if mask&(1<<uint(i)) != 0 {
			b.WriteByte(flagLetters[i])
		}
	}
	return b.String()
}

func logParseError(logger logrus.FieldLogger, record *model.PacketRecord, err error) {
	logger.WithFields(logrus.Fields{
		"timestamp": record.Timestamp.Format("2006-01-02 15:04:05.000000"),
		"error":     err,
	}).Warn("Error parsing packet, emitting best-effort record")
}
