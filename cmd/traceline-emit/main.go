// Package main implements the traceline-emit producer CLI. It ships events
// from flags or from newline-delimited JSON on stdin through the client
// library, exercising the same buffering and delivery path embedded producers
// use.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/traceline/traceline/pkg/client"
	"github.com/traceline/traceline/pkg/types"
)

func main() {
	var (
		endpoint  string
		spoolPath string
		count     int
		rate      int
		eventType string
		sessionID string
		provider  string
		fromStdin bool
		compress  bool
		batchSize int
		timeout   time.Duration
	)

	flag.StringVar(&endpoint, "endpoint", os.Getenv("TRACELINE_ENDPOINT"), "Ingestion service base URL (empty spools to a local file)")
	flag.StringVar(&spoolPath, "spool", "", "Spool file path used when no endpoint is set")
	flag.IntVar(&count, "count", 10, "Number of synthetic events to emit")
	flag.IntVar(&rate, "rate", 0, "Events per second (0 = as fast as possible)")
	flag.StringVar(&eventType, "event-type", "cli_test", "Event type for synthetic events")
	flag.StringVar(&sessionID, "session-id", "", "Session ID for synthetic events (empty = unattributed)")
	flag.StringVar(&provider, "provider", "traceline-emit", "Provider name for synthetic events")
	flag.BoolVar(&fromStdin, "stdin", false, "Read newline-delimited JSON events from stdin instead of generating")
	flag.BoolVar(&compress, "compress", false, "Snappy-compress batches on the wire")
	flag.IntVar(&batchSize, "batch-size", 100, "Flush batch size")
	flag.DurationVar(&timeout, "close-timeout", 5*time.Second, "Deadline for the final flush on exit")
	flag.Parse()

	_ = godotenv.Load()

	c, err := client.New(client.Config{
		Endpoint:       endpoint,
		SpoolPath:      spoolPath,
		FlushBatchSize: batchSize,
		Compress:       compress,
		CloseTimeout:   timeout,
	})
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	if fromStdin {
		emitFromStdin(c)
	} else {
		emitSynthetic(c, count, rate, eventType, sessionID, provider)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		log.Printf("Close error: %v", err)
	}

	printStats(c.Stats())
}

// emitFromStdin ships one event per NDJSON line. Lines that do not parse are
// skipped with a warning; a producer CLI should not die mid-stream.
func emitFromStdin(c *client.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec types.EventRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			log.Printf("Skipping line %d: %v", lineNo, err)
			continue
		}
		c.Emit(rec)
	}
	if err := scanner.Err(); err != nil {
		log.Printf("Stdin read error: %v", err)
	}
}

// emitSynthetic generates count events at the requested rate.
func emitSynthetic(c *client.Client, count, rate int, eventType, sessionID, provider string) {
	var ticker *time.Ticker
	if rate > 0 {
		ticker = time.NewTicker(time.Second / time.Duration(rate))
		defer ticker.Stop()
	}

	for i := 0; i < count; i++ {
		c.Emit(types.EventRecord{
			EventType: eventType,
			SessionID: sessionID,
			Provider:  provider,
			Data: map[string]interface{}{
				"sequence": i,
			},
		})
		if ticker != nil {
			<-ticker.C
		}
	}
}

func printStats(s client.StatsSnapshot) {
	fmt.Printf("emitted:                 %d\n", s.Emitted)
	fmt.Printf("sent:                    %d\n", s.Sent)
	fmt.Printf("flushes:                 %d\n", s.Flushes)
	fmt.Printf("retries:                 %d\n", s.Retries)
	fmt.Printf("dropped (overflow):      %d\n", s.DroppedOverflow)
	fmt.Printf("dropped (retry exhaust): %d\n", s.DroppedRetryExhausted)
}
