package main

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"Go2FlowFeatures/pkg/pcapgen"

	"github.com/spf13/pflag"
)

func main() {
	outputFile := pflag.StringP("output", "o", "test.pcap", "Output pcap file path")
	packetCount := pflag.IntP("count", "c", 1000, "Number of packets to generate")
	flows := pflag.IntP("flows", "f", 16, "Number of distinct address pairs")
	mixed := pflag.Bool("mixed", false, "Mix in UDP, ICMP, IPv6, ARP and malformed frames")
	appendEvery := pflag.Duration("append-every", 0, "Write in chunks separated by this delay, simulating a live capture")
	chunk := pflag.Int("chunk", 100, "Packets per chunk in append mode")
	seed := pflag.Int64("seed", 1, "Random seed")
	pflag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	gen := &generator{rng: rng, flows: *flows, mixed: *mixed, ts: time.Now()}

	w, err := pcapgen.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer w.Close()

	log.Printf("Generating %d packets into %s...", *packetCount, *outputFile)
	for i := 0; i < *packetCount; i++ {
		if err := w.Write(gen.next()); err != nil {
			log.Fatalf("Failed to write packet %d: %v", i, err)
		}
		if (i+1)%100000 == 0 {
			log.Printf("Generated %d packets...", i+1)
		}
		if *appendEvery > 0 && (i+1)%*chunk == 0 && i+1 < *packetCount {
			log.Printf("Wrote %d packets, sleeping %s", i+1, *appendEvery)
			time.Sleep(*appendEvery)
		}
	}
	log.Println("Done.")
}

type generator struct {
	rng   *rand.Rand
	flows int
	mixed bool
	ts    time.Time
}

func (g *generator) next() pcapgen.Packet {
	g.ts = g.ts.Add(time.Duration(g.rng.Intn(5000)) * time.Microsecond)
	flow := g.rng.Intn(g.flows)
	p := pcapgen.Packet{
		Kind:      pcapgen.TCPv4,
		Src:       fmt.Sprintf("10.0.%d.%d", flow/250, flow%250+1),
		Dst:       fmt.Sprintf("192.168.%d.%d", flow/250, flow%250+1),
		SrcPort:   uint16(1024 + g.rng.Intn(64000)),
		DstPort:   []uint16{80, 443, 22, 53}[g.rng.Intn(4)],
		Flags:     []uint16{pcapgen.FlagSYN, pcapgen.FlagSYN | pcapgen.FlagACK, pcapgen.FlagACK, pcapgen.FlagPSH | pcapgen.FlagACK, pcapgen.FlagFIN | pcapgen.FlagACK}[g.rng.Intn(5)],
		Timestamp: g.ts,
		Size:      60 + g.rng.Intn(1400),
	}
	if !g.mixed {
		return p
	}

	switch r := g.rng.Intn(100); {
	case r < 60:
	case r < 75:
		p.Kind = pcapgen.UDPv4
	case r < 82:
		p.Kind = pcapgen.IPv4Only
	case r < 89:
		p.Kind, p.Src, p.Dst, p.Size = pcapgen.TCPv6, "2001:db8::1", "2001:db8::2", p.Size%512
	case r < 95:
		p.Kind, p.Src, p.Dst, p.Size = pcapgen.UDPv6, "2001:db8::1", "2001:db8::2", p.Size%512
	case r < 99:
		p.Kind = pcapgen.ARP
	default:
		p.Kind = pcapgen.Malformed
	}
	return p
}
