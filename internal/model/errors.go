package model

import "errors"

// Recoverable error classes of the pipeline. None of them stop the process;
// they are wrapped with context and matched with errors.Is.
var (
	// ErrSourceUnavailable means the capture file is missing or unreadable.
	ErrSourceUnavailable = errors.New("capture source unavailable")
	// ErrPacketParse means a packet could not be fully decoded.
	ErrPacketParse = errors.New("packet parse error")
	// ErrFeatureComputation means a derived feature could not be computed.
	ErrFeatureComputation = errors.New("feature computation error")
	// ErrSinkWrite means the feature table could not be persisted.
	ErrSinkWrite = errors.New("sink write error")
	// ErrUnsupportedPacket marks packets with neither IPv4, TCP nor UDP.
	ErrUnsupportedPacket = errors.New("unsupported packet")
)
