// Package pcapgen builds synthetic Ethernet frames of the shapes the feature
// extractor distinguishes and writes them to classic pcap files.
package pcapgen

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Kind selects the layer stack of a generated packet.
type Kind int

const (
	TCPv4    Kind = iota // Ethernet / IPv4 / TCP
	UDPv4                // Ethernet / IPv4 / UDP
	IPv4Only             // Ethernet / IPv4 / ICMPv4
	TCPv6                // Ethernet / IPv6 / TCP
	UDPv6                // Ethernet / IPv6 / UDP
	ARP                  // Ethernet / ARP
	Malformed            // Ethernet claiming IPv4 with an invalid header length
)

// TCP flag bits, in wire order.
const (
	FlagFIN uint16 = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
	FlagCWR
	FlagNS
)

const snapLen = 65536

var (
	srcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dstMAC = net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA}
)

// Packet describes one packet to generate.
type Packet struct {
	Kind      Kind
	Src       string
	Dst       string
	SrcPort   uint16
	DstPort   uint16
	Flags     uint16
	Timestamp time.Time
	// Size is the IPv4 total length for the IPv4 kinds and the transport
	// payload length for the others.
	Size int
}

// Build serializes p into an Ethernet frame.
func Build(p Packet) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}

	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}

	switch p.Kind {
	case TCPv4, UDPv4, IPv4Only:
		ip := &layers.IPv4{
			SrcIP:   net.ParseIP(p.Src).To4(),
			DstIP:   net.ParseIP(p.Dst).To4(),
			Version: 4,
			TTL:     64,
		}
		if ip.SrcIP == nil || ip.DstIP == nil {
			return nil, fmt.Errorf("invalid IPv4 address pair %s -> %s", p.Src, p.Dst)
		}
		switch p.Kind {
		case TCPv4:
			ip.Protocol = layers.IPProtocolTCP
			tcp := tcpLayer(p)
			tcp.SetNetworkLayerForChecksum(ip)
			payload, err := payloadFor(p.Size, 40)
			if err != nil {
				return nil, err
			}
			err = gopacket.SerializeLayers(buf, opts, eth, ip, tcp, payload)
			return buf.Bytes(), err
		case UDPv4:
			ip.Protocol = layers.IPProtocolUDP
			udp := &layers.UDP{SrcPort: layers.UDPPort(p.SrcPort), DstPort: layers.UDPPort(p.DstPort)}
			udp.SetNetworkLayerForChecksum(ip)
			payload, err := payloadFor(p.Size, 28)
			if err != nil {
				return nil, err
			}
			err = gopacket.SerializeLayers(buf, opts, eth, ip, udp, payload)
			return buf.Bytes(), err
		default:
			ip.Protocol = layers.IPProtocolICMPv4
			icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}
			payload, err := payloadFor(p.Size, 28)
			if err != nil {
				return nil, err
			}
			err = gopacket.SerializeLayers(buf, opts, eth, ip, icmp, payload)
			return buf.Bytes(), err
		}

	case TCPv6, UDPv6:
		eth.EthernetType = layers.EthernetTypeIPv6
		ip := &layers.IPv6{
			Version:  6,
			HopLimit: 64,
			SrcIP:    net.ParseIP(p.Src).To16(),
			DstIP:    net.ParseIP(p.Dst).To16(),
		}
		if ip.SrcIP == nil || ip.DstIP == nil {
			return nil, fmt.Errorf("invalid IPv6 address pair %s -> %s", p.Src, p.Dst)
		}
		payload := gopacket.Payload(make([]byte, p.Size))
		if p.Kind == TCPv6 {
			ip.NextHeader = layers.IPProtocolTCP
			tcp := tcpLayer(p)
			tcp.SetNetworkLayerForChecksum(ip)
			err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, payload)
			return buf.Bytes(), err
		}
		ip.NextHeader = layers.IPProtocolUDP
		udp := &layers.UDP{SrcPort: layers.UDPPort(p.SrcPort), DstPort: layers.UDPPort(p.DstPort)}
		udp.SetNetworkLayerForChecksum(ip)
		err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, payload)
		return buf.Bytes(), err

	case ARP:
		eth.EthernetType = layers.EthernetTypeARP
		arp := &layers.ARP{
			AddrType:          layers.LinkTypeEthernet,
			Protocol:          layers.EthernetTypeIPv4,
			HwAddressSize:     6,
			ProtAddressSize:   4,
			Operation:         layers.ARPRequest,
			SourceHwAddress:   srcMAC,
			SourceProtAddress: net.IPv4(10, 0, 0, 1).To4(),
			DstHwAddress:      net.HardwareAddr{0, 0, 0, 0, 0, 0},
			DstProtAddress:    net.IPv4(10, 0, 0, 2).To4(),
		}
		err := gopacket.SerializeLayers(buf, opts, eth, arp)
		return buf.Bytes(), err

	case Malformed:
		err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth,
			gopacket.Payload([]byte{0x41, 0x00, 0x00, 0x64, 0x00, 0x00, 0x40, 0x00, 0x40, 0x06}))
		return buf.Bytes(), err
	}
	return nil, fmt.Errorf("unknown packet kind %d", p.Kind)
}

func tcpLayer(p Packet) *layers.TCP {
	return &layers.TCP{
		SrcPort: layers.TCPPort(p.SrcPort),
		DstPort: layers.TCPPort(p.DstPort),
		Seq:     1,
		Window:  14600,
		FIN:     p.Flags&FlagFIN != 0,
		SYN:     p.Flags&FlagSYN != 0,
		RST:     p.Flags&FlagRST != 0,
		PSH:     p.Flags&FlagPSH != 0,
		ACK:     p.Flags&FlagACK != 0,
		URG:     p.Flags&FlagURG != 0,
		ECE:     p.Flags&FlagECE != 0,
		CWR:     p.Flags&FlagCWR != 0,
		NS:      p.Flags&FlagNS != 0,
	}
}

func payloadFor(total, headers int) (gopacket.Payload, error) {
	if total < headers {
		return nil, fmt.Errorf("size %d is smaller than the %d header bytes", total, headers)
	}
	return gopacket.Payload(make([]byte, total-headers)), nil
}

// Writer appends generated packets to a pcap file.
type Writer struct {
	file *os.File
	w    *pcapgo.Writer
}

// Create truncates path and writes a fresh pcap file header.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &Writer{file: f, w: w}, nil
}

// OpenAppend opens an existing pcap file for appending more packets.
func OpenAppend(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &Writer{file: f, w: pcapgo.NewWriter(f)}, nil
}

// Write builds p and appends it with p.Timestamp as capture time.
func (w *Writer) Write(p Packet) error {
	data, err := Build(p)
	if err != nil {
		return err
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     p.Timestamp,
		CaptureLength: len(data),
		Length:        len(data),
	}
	return w.w.WritePacket(ci, data)
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	return w.file.Close()
}

// WriteFile creates path containing packets.
func WriteFile(path string, packets []Packet) error {
	w, err := Create(path)
	if err != nil {
		return err
	}
	for _, p := range packets {
		if err := w.Write(p); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

// AppendFile appends packets to the existing capture at path.
func AppendFile(path string, packets []Packet) error {
	w, err := OpenAppend(path)
	if err != nil {
		return err
	}
	for _, p := range packets {
		if err := w.Write(p); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}
