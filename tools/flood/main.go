package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/VanDung-dev/LanChat-Engine/message"
)

// FloodConfig holds configuration for a flood run.
type FloodConfig struct {
	Address        string
	Concurrency    int
	Duration       time.Duration
	DuplicateRatio float64
	MalformedRatio float64
	PayloadSize    int
	ReportFile     string
}

// FloodResult holds the counters of a flood run.
type FloodResult struct {
	Sent          int64
	Duplicates    int64
	Malformed     int64
	WriteErrors   int64
	TotalDuration time.Duration
	PacketsPerSec float64
}

func main() {
	config := parseFlags()

	fmt.Println("=== LanChat UDP Flood ===")
	fmt.Printf("Target:      %s\n", config.Address)
	fmt.Printf("Concurrency: %d workers\n", config.Concurrency)
	fmt.Printf("Duration:    %v\n", config.Duration)
	fmt.Printf("Duplicates:  %.0f%%  Malformed: %.0f%%\n", config.DuplicateRatio*100, config.MalformedRatio*100)
	fmt.Println()

	result, err := runFlood(config)
	if err != nil {
		log.Fatalf("flood failed: %v", err)
	}

	printResults(result)

	if config.ReportFile != "" {
		saveReport(config, result)
	}
}

func parseFlags() FloodConfig {
	config := FloodConfig{}

	flag.StringVar(&config.Address, "addr", "127.0.0.1:5000", "Target node UDP address")
	flag.IntVar(&config.Concurrency, "c", 4, "Number of concurrent senders")
	flag.DurationVar(&config.Duration, "d", 10*time.Second, "Duration of the flood")
	flag.Float64Var(&config.DuplicateRatio, "dup", 0.2, "Fraction of datagrams that repeat an earlier msg_id")
	flag.Float64Var(&config.MalformedRatio, "bad", 0.05, "Fraction of datagrams that are not valid messages")
	flag.IntVar(&config.PayloadSize, "size", 64, "Content length in bytes")
	flag.StringVar(&config.ReportFile, "o", "", "Output report file (JSON)")

	flag.Parse()

	return config
}

func runFlood(config FloodConfig) (FloodResult, error) {
	target, err := net.ResolveUDPAddr("udp4", config.Address)
	if err != nil {
		return FloodResult{}, err
	}

	var (
		sent, dups, bad, writeErrs int64
		wg                         sync.WaitGroup
		stopChan                   = make(chan struct{})
	)

	startTime := time.Now()

	// Start workers
	for i := 0; i < config.Concurrency; i++ {
		conn, err := net.DialUDP("udp4", nil, target)
		if err != nil {
			close(stopChan)
			wg.Wait()
			return FloodResult{}, err
		}

		wg.Add(1)
		go func(workerID int, conn *net.UDPConn) {
			defer wg.Done()
			defer conn.Close()

			sender := message.NewIdentity(fmt.Sprintf("flood-%d", workerID), 40000+workerID)
			content := make([]byte, config.PayloadSize)
			for j := range content {
				content[j] = 'a' + byte(j%26)
			}

			var lastID string
			for {
				select {
				case <-stopChan:
					return
				default:
				}

				var payload []byte
				roll := rand.Float64()
				switch {
				case roll < config.MalformedRatio:
					payload = []byte("{not json")
					atomic.AddInt64(&bad, 1)
				default:
					msg := sender.NewMessage(message.KindText, string(content))
					if lastID != "" && roll < config.MalformedRatio+config.DuplicateRatio {
						msg.ID = lastID
						atomic.AddInt64(&dups, 1)
					}
					lastID = msg.ID
					if payload, err = message.Encode(msg); err != nil {
						atomic.AddInt64(&writeErrs, 1)
						continue
					}
				}

				if _, err := conn.Write(payload); err != nil {
					atomic.AddInt64(&writeErrs, 1)
					// Small sleep on error to avoid hammering
					time.Sleep(10 * time.Millisecond)
					continue
				}
				atomic.AddInt64(&sent, 1)
			}
		}(i, conn)
	}

	// Wait for duration
	time.Sleep(config.Duration)
	close(stopChan)
	wg.Wait()

	duration := time.Since(startTime)
	total := atomic.LoadInt64(&sent)

	return FloodResult{
		Sent:          total,
		Duplicates:    atomic.LoadInt64(&dups),
		Malformed:     atomic.LoadInt64(&bad),
		WriteErrors:   atomic.LoadInt64(&writeErrs),
		TotalDuration: duration,
		PacketsPerSec: float64(total) / duration.Seconds(),
	}, nil
}

func printResults(result FloodResult) {
	fmt.Println("=== Results ===")
	fmt.Printf("Duration:     %v\n", result.TotalDuration.Round(time.Millisecond))
	fmt.Printf("Sent:         %d\n", result.Sent)
	fmt.Printf("Duplicates:   %d\n", result.Duplicates)
	fmt.Printf("Malformed:    %d\n", result.Malformed)
	fmt.Printf("Write errors: %d\n", result.WriteErrors)
	fmt.Printf("Packets/sec:  %.2f\n", result.PacketsPerSec)
	fmt.Println("Compare with the lanchat_*_dropped_total counters on the node's /metrics endpoint.")
}

func saveReport(config FloodConfig, result FloodResult) {
	report := map[string]any{
		"config": map[string]any{
			"address":         config.Address,
			"concurrency":     config.Concurrency,
			"duration":        config.Duration.String(),
			"duplicate_ratio": config.DuplicateRatio,
			"malformed_ratio": config.MalformedRatio,
		},
		"results": map[string]any{
			"sent":            result.Sent,
			"duplicates":      result.Duplicates,
			"malformed":       result.Malformed,
			"write_errors":    result.WriteErrors,
			"packets_per_sec": result.PacketsPerSec,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	data, _ := json.MarshalIndent(report, "", "  ")
	if err := os.WriteFile(config.ReportFile, data, 0644); err != nil {
		log.Printf("Failed to write report: %v", err)
	} else {
		fmt.Printf("Report saved to: %s\n", config.ReportFile)
	}
}
