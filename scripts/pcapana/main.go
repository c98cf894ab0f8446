package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"Go2FlowFeatures/internal/engine/protocol"
	"Go2FlowFeatures/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// pcapana prints the layers and the extracted record of the first packets
// of a capture.
func main() {
	count := pflag.IntP("count", "n", 5, "Number of packets to show")
	pflag.Parse()
	if pflag.NArg() < 1 {
		fmt.Println("Usage: go run ./scripts/pcapana [-n count] <path_to_pcap_file>")
		os.Exit(1)
	}

	handle, err := pcap.OpenOffline(pflag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer handle.Close()

	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	for i := 0; i < *count; i++ {
		packet, err := packetSource.NextPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			fmt.Println("Read error:", err)
			break
		}

		fmt.Printf("==== Packet %d ====\n", i+1)
		for _, layer := range packet.Layers() {
			fmt.Println("Layer:", layer.LayerType())
		}
		rec, err := protocol.ExtractRecord(packet, logger)
		if err != nil {
			fmt.Println("Dropped:", err)
			continue
		}
		printRecord(rec)
	}
}

func printRecord(rec *model.PacketRecord) {
	str := func(p *string) string {
		if p == nil {
			return "-"
		}
		return *p
	}
	num := func(p *int) string {
		if p == nil {
			return "-"
		}
		return fmt.Sprint(*p)
	}
	proto, flags := "-", "-"
	if rec.Protocol != nil {
		proto = fmt.Sprint(*rec.Protocol)
	}
	if rec.ControlFlags != nil {
		flags = protocol.FlagString(*rec.ControlFlags)
	}
	fmt.Printf("[%s] %s -> %s proto=%s hdr=%s size=%s flags=%s malformed=%v\n",
		rec.Timestamp.Format("15:04:05.000000"),
		str(rec.SourceAddress), str(rec.DestinationAddress),
		proto, num(rec.HeaderLength), num(rec.Size), flags, rec.Malformed,
	)
}
