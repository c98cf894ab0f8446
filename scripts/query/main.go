package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/spf13/pflag"
)

func main() {
	mode := pflag.String("mode", "api", "Query mode: 'api' to ask a running ns-extractor, 'direct' to query ClickHouse.")
	apiAddr := pflag.String("api", "http://localhost:8080", "ns-extractor status API base URL.")
	limit := pflag.Int("limit", 10, "Number of flows to show in api mode.")
	chAddr := pflag.String("clickhouse", "localhost:9000", "ClickHouse address for direct mode.")
	chPassword := pflag.String("password", "", "ClickHouse password.")
	table := pflag.String("table", "packet_features", "Feature table in ClickHouse.")
	runID := pflag.String("run", "", "Restrict direct mode to one run id.")
	pflag.Parse()

	log.Printf("Running in '%s' mode.", *mode)

	switch *mode {
	case "api":
		queryViaAPI(*apiAddr+"/api/v1/status")
		queryViaAPI(fmt.Sprintf("%s/api/v1/flows?limit=%d", *apiAddr, *limit))
	case "direct":
		directQueryClickHouse(*chAddr, *chPassword, *table, *runID)
	default:
		log.Fatalf("Invalid mode: %s. Use 'api' or 'direct'.", *mode)
	}
}

func queryViaAPI(url string) {
	log.Printf("Sending request to %s", url)
	resp, err := http.Get(url)
	if err != nil {
		log.Fatalf("Error sending request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error reading response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("API returned non-200 status code: %d\nResponse: %s", resp.StatusCode, string(respBody))
	}

	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, respBody, "", "  "); err != nil {
		log.Printf("Could not prettify JSON, printing raw response:")
		fmt.Println(string(respBody))
		return
	}
	fmt.Println(prettyJSON.String())
}

func directQueryClickHouse(addr, password, table, runID string) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: password,
		},
	})
	if err != nil {
		log.Fatalf("Error connecting to ClickHouse: %v", err)
	}
	defer conn.Close()

	var query strings.Builder
	query.WriteString(`
		SELECT
			RunID,
			count() AS Rows,
			uniqExact(SourceAddress, DestinationAddress) AS Flows,
			max(SequenceNumberInFlow) AS LongestFlow,
			avg(Size) AS AvgSize,
			min(Timestamp) AS FirstPacket,
			max(Timestamp) AS LastPacket
		FROM ` + table)
	var args []interface{}
	if runID != "" {
		query.WriteString(" WHERE RunID = ?")
		args = append(args, runID)
	}
	query.WriteString(" GROUP BY RunID ORDER BY LastPacket DESC")

	rows, err := conn.Query(context.Background(), query.String(), args...)
	if err != nil {
		log.Fatalf("Error executing query: %v", err)
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		found = true
		var (
			id          string
			count       uint64
			flows       uint64
			longest     uint64
			avgSize     *float64
			first, last float64
		)
		if err := rows.Scan(&id, &count, &flows, &longest, &avgSize, &first, &last); err != nil {
			log.Printf("Error scanning row: %v", err)
			continue
		}
		fmt.Printf("Run: %s\n", id)
		fmt.Printf("  Rows: %d\n", count)
		fmt.Printf("  Flows: %d (longest %d packets)\n", flows, longest)
		if avgSize != nil {
			fmt.Printf("  AvgSize: %.1f\n", *avgSize)
		}
		fmt.Printf("  Span: %.3fs\n", last-first)
		fmt.Println("---------------------")
	}
	if !found {
		log.Println("No data found for the specified criteria.")
	}
	if err := rows.Err(); err != nil {
		log.Printf("An error occurred during row iteration: %v", err)
	}
}
