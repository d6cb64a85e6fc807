// Command loadtest is the external load-testing harness (spec §6): it
// opens N concurrent client connections via chatclient.Dial, has each
// send a configured number of CHAT messages, and reports aggregate
// throughput and success rate — the Go counterpart of network_tester.py.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"chatrelay/chatclient"
)

var (
	host            string
	port            int
	numClients      int
	messagesPerConn int
	ackTimeout      time.Duration
	exportPath      string
)

func main() {
	root := &cobra.Command{
		Use:   "loadtest",
		Short: "Load-test a chatrelay server",
		RunE:  run,
	}
	root.Flags().StringVar(&host, "host", "localhost", "server host")
	root.Flags().IntVar(&port, "port", 8888, "server port")
	root.Flags().IntVar(&numClients, "clients", 10, "number of concurrent client connections")
	root.Flags().IntVar(&messagesPerConn, "messages", 20, "messages sent per connection")
	root.Flags().DurationVar(&ackTimeout, "ack-timeout", 5*time.Second, "per-message ack wait timeout")
	root.Flags().StringVar(&exportPath, "export", "", "write the JSON summary to this path")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// clientResult is one connection's contribution to the aggregate summary.
type clientResult struct {
	successful int
	failed     int
	latencies  []time.Duration
}

// Summary is the exported JSON shape.
type Summary struct {
	TestTimestamp     float64 `json:"test_timestamp"`
	ServerHost        string  `json:"server_host"`
	ServerPort        int     `json:"server_port"`
	TotalMessages     int     `json:"total_messages"`
	SuccessfulMessage int     `json:"successful_messages"`
	FailedMessages    int     `json:"failed_messages"`
	SuccessRate       float64 `json:"success_rate"`
	AvgLatencyMs      float64 `json:"avg_latency_ms"`
	ThroughputPerSec  float64 `json:"throughput_msgs_per_second"`
	TestDurationSec   float64 `json:"test_duration_seconds"`
}

func run(cmd *cobra.Command, args []string) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	fmt.Printf("load-testing %s: %d clients x %d messages\n", addr, numClients, messagesPerConn)

	start := time.Now()
	resultsCh := make(chan clientResult, numClients)
	var wg sync.WaitGroup
	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resultsCh <- runClientWorker(i)
		}(i)
	}
	wg.Wait()
	close(resultsCh)
	duration := time.Since(start)

	var (
		successful, failed int
		latencies          []time.Duration
	)
	for r := range resultsCh {
		successful += r.successful
		failed += r.failed
		latencies = append(latencies, r.latencies...)
	}

	total := successful + failed
	var avgLatency time.Duration
	if len(latencies) > 0 {
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avgLatency = sum / time.Duration(len(latencies))
	}
	var successRate float64
	if total > 0 {
		successRate = float64(successful) / float64(total)
	}
	throughput := float64(successful) / duration.Seconds()

	fmt.Printf("\nmessages: %d/%d succeeded (%.1f%%)\n", successful, total, successRate*100)
	fmt.Printf("avg latency: %s\n", avgLatency)
	fmt.Printf("throughput: %.2f msgs/sec\n", throughput)
	fmt.Printf("duration: %s\n", duration)

	if exportPath != "" {
		summary := Summary{
			TestTimestamp:     float64(time.Now().UnixNano()) / 1e9,
			ServerHost:        host,
			ServerPort:        port,
			TotalMessages:     total,
			SuccessfulMessage: successful,
			FailedMessages:    failed,
			SuccessRate:       successRate,
			AvgLatencyMs:      float64(avgLatency.Microseconds()) / 1000,
			ThroughputPerSec:  throughput,
			TestDurationSec:   duration.Seconds(),
		}
		body, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(exportPath, body, 0644); err != nil {
			return fmt.Errorf("exporting results: %w", err)
		}
		fmt.Printf("results exported to %s\n", exportPath)
	}
	return nil
}

func runClientWorker(id int) clientResult {
	var result clientResult
	addr := fmt.Sprintf("%s:%d", host, port)
	username := fmt.Sprintf("loadtest_%d", id)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := chatclient.Dial(ctx, addr, username, nil)
	if err != nil {
		result.failed += messagesPerConn
		return result
	}
	defer c.Close()

	stop := make(chan struct{})
	go c.Run(stop)
	defer close(stop)

	for i := 0; i < messagesPerConn; i++ {
		sendTime := time.Now()
		content := fmt.Sprintf("load test message %d from client %d", i, id)
		if err := c.SendChat(content); err != nil {
			result.failed++
			continue
		}
		if waitForAck(c, ackTimeout) {
			result.successful++
			result.latencies = append(result.latencies, time.Since(sendTime))
		} else {
			result.failed++
		}
	}
	return result
}

// waitForAck polls the client's unacked set until it drains or timeout
// elapses. Single in-flight message per worker at a time, so an empty
// pending set means the last send was acked.
func waitForAck(c *chatclient.Client, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Stats().PendingMessages == 0 {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
