package main

import (
	"fmt"
	"os"

	"Go2FlowFeatures/internal/config"
	"Go2FlowFeatures/internal/engine/features"
	"Go2FlowFeatures/internal/engine/flowaggregator"
	"Go2FlowFeatures/internal/engine/protocol"
	"Go2FlowFeatures/internal/pkg/logging"
	"Go2FlowFeatures/internal/sink"
	"Go2FlowFeatures/pkg/pcap"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

var (
	outputPath = pflag.StringP("output", "o", "processed_traffic.csv", "feature table to write")
	writeMode  = pflag.StringP("mode", "m", config.WriteModeOverwrite, "write mode: overwrite or append")
	logLevel   = pflag.String("log-level", "info", "log level")
)

// pcap-analyzer converts a finished capture into a feature table in one pass.
func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pcap-analyzer [flags] <path_to_pcap_file>\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(1)
	}
	pcapFilePath := pflag.Arg(0)

	logger, err := logging.New(config.LogConfig{Level: *logLevel, Format: "text"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	writer, err := sink.NewCSVWriter(*outputPath, *writeMode, logger)
	if err != nil {
		logger.Fatalf("Failed to create feature table: %v", err)
	}

	logger.Infof("Reading packets from '%s'...", pcapFilePath)
	packets, err := pcap.ReadAll(pcapFilePath)
	if err != nil {
		if len(packets) == 0 {
			logger.Fatalf("Failed to read capture: %v", err)
		}
		logger.WithError(err).Warnf("Capture ended early, keeping the %d packets read", len(packets))
	}

	records, dropped, malformed := protocol.ExtractAll(packets, logger)

	agg := flowaggregator.NewAggregator(0)
	rows := features.NewCalculator(agg, logger).ComputeBatch(records)

	if err := writer.Write(rows); err != nil {
		logger.Fatalf("Failed to write feature table: %v", err)
	}
	logger.WithFields(logrus.Fields{
		"packets":   len(packets),
		"dropped":   dropped,
		"malformed": malformed,
		"rows":      len(rows),
		"flows":     agg.FlowCount(),
		"output":    writer.Path(),
	}).Info("Feature table written")
}
