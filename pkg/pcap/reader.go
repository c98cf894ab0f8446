package pcap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"Go2FlowFeatures/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"
	"github.com/sirupsen/logrus"
)

const (
	fileHeaderLen   = 24
	recordHeaderLen = 16
)

// ReadAll reads every packet currently in the capture at filePath. It goes
// through libpcap, so both pcap and pcapng files are accepted.
func ReadAll(filePath string) ([]gopacket.Packet, error) {
	handle, err := pcap.OpenOffline(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrSourceUnavailable, filePath, err)
	}
	defer handle.Close()

	var packets []gopacket.Packet
	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	for {
		packet, err := packetSource.NextPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A cut-off final record ends up here; the packets read so far
			// are returned alongside the error.
			return packets, fmt.Errorf("%w: %s: %v", model.ErrSourceUnavailable, filePath, err)
		}
		packets = append(packets, packet)
	}
	return packets, nil
}

// StreamReader reads a classic pcap file that may still be growing. Each
// call to Next resumes at the first record not yet returned.
type StreamReader struct {
	path   string
	offset int64
	log    logrus.FieldLogger
}

// NewStreamReader creates a reader for filePath. The file does not need to
// exist yet.
func NewStreamReader(filePath string, logger logrus.FieldLogger) *StreamReader {
	return &StreamReader{path: filePath, log: logger}
}

// Path returns the capture path.
func (s *StreamReader) Path() string {
	return s.path
}

// Offset returns the byte offset of the next unread record, or zero before
// the file header has been seen.
func (s *StreamReader) Offset() int64 {
	return s.offset
}

// Reset forgets the read position so the next call starts from the first record.
func (s *StreamReader) Reset() {
	s.offset = 0
}

// Next returns up to n packets following the last returned one. Fewer than
// n packets means the capture has no more complete records right now; a
// partially written trailing record is picked up by a later call.
func (s *StreamReader) Next(n int) ([]gopacket.Packet, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrSourceUnavailable, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrSourceUnavailable, err)
	}
	if info.Size() < s.offset {
		s.log.WithFields(logrus.Fields{
			"path":   s.path,
			"size":   info.Size(),
			"offset": s.offset,
		}).Warn("Capture file shrank, assuming it was replaced and reading from the start")
		s.offset = 0
	}

	header := make([]byte, fileHeaderLen)
	if _, err := io.ReadFull(f, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// The capture process has not finished the file header yet.
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", model.ErrSourceUnavailable, err)
	}
	if s.offset < fileHeaderLen {
		s.offset = fileHeaderLen
	}
	if _, err := f.Seek(s.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrSourceUnavailable, err)
	}

	// pcapgo needs the file header in front of the records, so replay it
	// ahead of the resumed position.
	r, err := pcapgo.NewReader(io.MultiReader(bytes.NewReader(header), f))
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a readable pcap file: %v", model.ErrSourceUnavailable, s.path, err)
	}

	packetSource := gopacket.NewPacketSource(r, r.LinkType())
	packets := make([]gopacket.Packet, 0, n)
	for len(packets) < n {
		packet, err := packetSource.NextPacket()
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return packets, fmt.Errorf("%w: corrupt record at offset %d: %v", model.ErrSourceUnavailable, s.offset, err)
		}
		s.offset += recordHeaderLen + int64(packet.Metadata().CaptureLength)
		packets = append(packets, packet)
	}
	return packets, nil
}
