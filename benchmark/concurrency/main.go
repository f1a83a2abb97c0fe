package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahmadzakiakmal/skullchain/client"
	"github.com/cometbft/cometbft/crypto/ed25519"
)

type WorkflowResult struct {
	Success  bool
	Latency  time.Duration
	ErrorMsg string
}

func main() {
	nodes := flag.Int("nodes", 4, "Number of validator nodes, recorded in the output")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	duration := flag.Int("duration", 30, "Test duration in seconds")
	port := flag.String("port", "5000", "Node HTTP port")
	mode := flag.String("mode", "tx", "Workload: tx (signed zero-value sends) or query (token and supply reads)")
	flag.Parse()

	if *mode != "tx" && *mode != "query" {
		fmt.Printf("Unknown mode %q\n", *mode)
		os.Exit(2)
	}

	recordsDir := "./records"
	os.MkdirAll(recordsDir, 0755)

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := filepath.Join(recordsDir, fmt.Sprintf(
		"concurrency_%s_%s_w%d_d%ds_n%d.csv",
		*mode, timestamp, *workers, *duration, *nodes,
	))
	baseURL := fmt.Sprintf("http://127.0.0.1:%s", *port)

	fmt.Println("========================================")
	fmt.Println("   CONCURRENCY BENCHMARK")
	fmt.Println("========================================")
	fmt.Printf("Nodes:      %d\n", *nodes)
	fmt.Printf("Workers:    %d\n", *workers)
	fmt.Printf("Duration:   %ds\n", *duration)
	fmt.Printf("Mode:       %s\n", *mode)
	fmt.Printf("Node URL:   %s\n", baseURL)
	fmt.Printf("Output:     %s\n", filename)
	fmt.Println("========================================")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*duration)*time.Second)
	defer cancel()
	resultsChan := make(chan WorkflowResult, *workers*10)

	var (
		totalReqs    int64
		successReqs  int64
		failedReqs   int64
		totalLatency int64
		minLatency   int64 = 1<<63 - 1
		maxLatency   int64
	)

	var wg sync.WaitGroup
	fmt.Println("Starting workers...")
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go worker(ctx, i, baseURL, *mode, resultsChan, &wg)
	}

	var collectorWg sync.WaitGroup
	collectorWg.Add(1)
	go func() {
		defer collectorWg.Done()
		for result := range resultsChan {
			n := atomic.AddInt64(&totalReqs, 1)
			if !result.Success {
				atomic.AddInt64(&failedReqs, 1)
				continue
			}
			atomic.AddInt64(&successReqs, 1)
			latencyNs := result.Latency.Nanoseconds()
			atomic.AddInt64(&totalLatency, latencyNs)
			minLatency = min(minLatency, latencyNs)
			maxLatency = max(maxLatency, latencyNs)
			if n%10 == 0 {
				fmt.Printf("\rRequests: %d | Success: %d | Failed: %d", n, successReqs, failedReqs)
			}
		}
	}()

	startTime := time.Now()
	wg.Wait()
	close(resultsChan)
	collectorWg.Wait()
	elapsed := time.Since(startTime)

	tps := float64(totalReqs) / elapsed.Seconds()
	avgLatency := time.Duration(0)
	if successReqs > 0 {
		avgLatency = time.Duration(totalLatency / successReqs)
	}
	if successReqs == 0 {
		minLatency = 0
	}

	fmt.Println("\n\n========================================")
	fmt.Println("   BENCHMARK RESULTS")
	fmt.Println("========================================")
	fmt.Printf("Total Requests:    %d\n", totalReqs)
	fmt.Printf("Successful:        %d\n", successReqs)
	fmt.Printf("Failed:            %d\n", failedReqs)
	fmt.Printf("Duration:          %v\n", elapsed)
	fmt.Printf("Throughput (TPS):  %.2f\n", tps)
	fmt.Printf("Avg Latency:       %v\n", avgLatency)
	fmt.Printf("Min Latency:       %v\n", time.Duration(minLatency))
	fmt.Printf("Max Latency:       %v\n", time.Duration(maxLatency))
	fmt.Println("========================================")

	file, err := os.Create(filename)
	if err != nil {
		fmt.Printf("Error creating file: %v\n", err)
		return
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	writer.Write([]string{
		"Nodes", "Mode", "Workers", "Duration_s",
		"Total_Requests", "Successful", "Failed",
		"TPS", "Avg_Latency_ms", "Min_Latency_ms", "Max_Latency_ms",
	})
	writer.Write([]string{
		fmt.Sprintf("%d", *nodes),
		*mode,
		fmt.Sprintf("%d", *workers),
		fmt.Sprintf("%d", *duration),
		fmt.Sprintf("%d", totalReqs),
		fmt.Sprintf("%d", successReqs),
		fmt.Sprintf("%d", failedReqs),
		fmt.Sprintf("%.2f", tps),
		fmt.Sprintf("%.2f", float64(avgLatency.Milliseconds())),
		fmt.Sprintf("%.2f", float64(time.Duration(minLatency).Milliseconds())),
		fmt.Sprintf("%.2f", float64(time.Duration(maxLatency).Milliseconds())),
	})

	fmt.Printf("\nResults saved to: %s\n", filename)
}

// worker drives one account until ctx expires. Each worker signs with its
// own key so nonces never collide between workers.
func worker(ctx context.Context, id int, baseURL, mode string, resultsChan chan<- WorkflowResult, wg *sync.WaitGroup) {
	defer wg.Done()

	key := ed25519.GenPrivKeyFromSecret([]byte(fmt.Sprintf("bench-worker-%d", id)))
	c := client.New(baseURL, key)

	for ctx.Err() == nil {
		start := time.Now()
		err := runWorkflow(ctx, c, mode)
		if ctx.Err() != nil {
			return
		}
		result := WorkflowResult{Success: err == nil, Latency: time.Since(start)}
		if err != nil {
			result.ErrorMsg = err.Error()
		}
		resultsChan <- result
	}
}

func runWorkflow(ctx context.Context, c *client.Client, mode string) error {
	if mode == "query" {
		supply, err := c.Supply(ctx)
		if err != nil {
			return fmt.Errorf("supply: %w", err)
		}
		if supply.TotalSupply > 0 {
			if _, err := c.Token(ctx, supply.TotalSupply); err != nil {
				return fmt.Errorf("token: %w", err)
			}
		}
		return nil
	}
	// A zero-value send to oneself needs no balance but still goes through
	// signature, nonce and consensus.
	if err := c.Send(ctx, c.Address(), 0); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}
