package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
)

// TapBatch mirrors the tap-batch message shape the server consumes.
type TapBatch struct {
	PlayerID      string `json:"player_id"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	TapsDelta     int64  `json:"taps_delta"`
	BananasDelta  int64  `json:"bananas_delta"`
}

var playerHandles = []string{
	"banana", "monkey", "gorilla", "jungle", "tropic", "mango", "coco", "papaya", "kiwi", "guava",
	"tapper", "clicker", "masher", "smasher", "peeler", "splitter", "bunch", "ripe", "golden", "plantain",
	"ape", "chimp", "baboon", "lemur", "gibbon", "howler", "spider", "capuchin", "macaque", "tamarin",
}

func playerFor(idx int) (id, email string) {
	handle := playerHandles[idx%len(playerHandles)]
	suffix := idx/len(playerHandles) + 1
	return fmt.Sprintf("player-%s%d", handle, suffix), fmt.Sprintf("%s%d@example.com", handle, suffix)
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "tap-batches", "Kafka topic")
	totalPlayers := flag.Int("players", 500, "Number of simulated players")
	batchesPerSecond := flag.Int("rate", 50, "Tap batches per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  🍌 Tap Batch Producer")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Players:          %d\n", *totalPlayers)
	fmt.Printf("  Batches/sec:      %d\n", *batchesPerSecond)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	// Create producer
	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	// Handle producer errors and successes
	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	sendBatch := func(batch TapBatch) {
		data, err := json.Marshal(batch)
		if err != nil {
			log.Printf("Failed to marshal message: %v", err)
			return
		}

		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(batch.PlayerID),
			Value: sarama.ByteEncoder(data),
		}

		select {
		case producer.Input() <- msg:
		case <-done:
			return
		}
	}

	fmt.Printf("Sending tap batches (%d/sec)\n", *batchesPerSecond)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	interval := time.Second / time.Duration(*batchesPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	var batchCount int64

	shutdown := func(reason string) {
		fmt.Printf("\n\n%s\n", reason)
		close(done)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	for {
		select {
		case <-sigChan:
			shutdown("Shutting down...")
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				shutdown("Duration reached, shutting down...")
				return
			}

			// 60% of batches come from an "active" pool of 25 players so
			// the top of the board keeps moving.
			var playerIdx int
			if *totalPlayers > 25 && rand.Intn(100) < 60 {
				playerIdx = rand.Intn(25)
			} else {
				playerIdx = rand.Intn(*totalPlayers)
			}
			id, email := playerFor(playerIdx)

			// A flushed batch bundles up to a few seconds of tapping.
			taps := int64(rand.Intn(50) + 1)
			bananas := int64(0)
			if rand.Intn(100) < 20 {
				bananas = int64(rand.Intn(5) + 1)
			}

			sendBatch(TapBatch{
				PlayerID:      id,
				Email:         email,
				EmailVerified: true,
				TapsDelta:     taps,
				BananasDelta:  bananas,
			})
			atomic.AddInt64(&batchCount, 1)

		case <-statsTicker.C:
			batches := atomic.LoadInt64(&batchCount)
			success := atomic.LoadInt64(&successCount)
			errors := atomic.LoadInt64(&errorCount)
			fmt.Printf("[%s] Batches: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				batches,
				success,
				errors,
			)
		}
	}
}
