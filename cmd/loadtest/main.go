package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentivec/embedd/pkg/client"
)

const (
	EmbedCount  = 5_000
	RerankCount = 1_000
	Concurrency = 10

	ServerAddr = "localhost:4100"
)

var samplePassages = []string{
	"a cat sat on the mat",
	"a dog ran across the yard",
	"the stock market closed higher today",
	"binary quantization trades precision for speed",
	"the grpc server drained gracefully",
}

func main() {
	fmt.Println("Starting embedd load generator")
	fmt.Printf("Target: %s | Workers: %d\n", ServerAddr, Concurrency)

	c, err := client.New(ServerAddr, &client.Options{Timeout: 10 * time.Second})
	if err != nil {
		fmt.Printf("failed to create client: %v\n", err)
		return
	}
	defer c.Close()

	// --- Phase 1: Embedding ---
	fmt.Println("\nPhase 1: GenerateEmbeddings...")
	runTest("embed", EmbedCount, func(workerID, i int) error {
		texts := []string{
			fmt.Sprintf("load-%d-%d %s", workerID, i, randomPassage()),
			randomPassage(),
		}
		vecs, err := c.Embed(context.Background(), texts)
		if err != nil {
			return err
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("got %d embeddings for %d texts", len(vecs), len(texts))
		}
		return nil
	})

	// --- Phase 2: Reranking ---
	fmt.Println("\nPhase 2: RerankPassages...")
	runTest("rerank", RerankCount, func(workerID, i int) error {
		scores, err := c.Rerank(context.Background(), randomPassage(), samplePassages)
		if err != nil {
			return err
		}
		if len(scores) != len(samplePassages) {
			return fmt.Errorf("got %d scores for %d passages", len(scores), len(samplePassages))
		}
		return nil
	})

	fmt.Println("\nLoad Test Complete!")
}

// Generic test runner to handle concurrency and timing
func runTest(name string, totalOps int, opFunc func(workerID, i int) error) {
	var wg sync.WaitGroup
	var failures atomic.Int64
	start := time.Now()

	opsPerWorker := totalOps / Concurrency

	for w := 0; w < Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := 0; i < opsPerWorker; i++ {
				if err := opFunc(workerID, i); err != nil {
					failures.Add(1)
				}
			}
		}(w)
	}

	wg.Wait()
	elapsed := time.Since(start)
	qps := float64(totalOps) / elapsed.Seconds()

	fmt.Printf("%s: %d ops in %v (%d failures)\n", name, totalOps, elapsed.Round(time.Millisecond), failures.Load())
	fmt.Printf("%s QPS: %.2f\n", name, qps)
}

func randomPassage() string {
	return samplePassages[rand.Intn(len(samplePassages))]
}
