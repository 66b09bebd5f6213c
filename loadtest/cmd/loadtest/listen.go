package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/opsdash/slack-relay/loadtest/client"
	"github.com/opsdash/slack-relay/loadtest/stats"
)

// runListen implements the event fan-out test. It opens a set of WebSocket
// connections, distributes them across the given channel rooms, and listens
// for relayed events for a fixed duration while sampling ping round-trip
// latency. Events must be generated on the Slack side (type in the relayed
// channels) while the test runs; the report shows per-type counts and the
// aggregate delivery rate.
func runListen(args []string) {
	fs := flag.NewFlagSet("listen", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/socket", "WebSocket server URL")
	connections := fs.Int("connections", 100, "Number of listening connections")
	channels := fs.String("channels", "", "Comma-separated channel IDs to join, distributed round-robin (empty: all connections stay roomless)")
	duration := fs.Duration("duration", 60*time.Second, "How long to listen for events")
	pingEvery := fs.Duration("ping", 10*time.Second, "Interval between latency-sampling pings per connection (0: disabled)")
	metricsURL := fs.String("metrics", "", "Server metrics URL to scrape during the test (empty: disabled)")
	fs.Parse(args)

	var rooms []string
	if *channels != "" {
		for _, ch := range strings.Split(*channels, ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				rooms = append(rooms, ch)
			}
		}
	}

	fmt.Printf("Listen test: %d connections to %s (channels=%d, duration=%s)\n",
		*connections, *url, len(rooms), *duration)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()

	if *metricsURL != "" {
		scraper := stats.NewScraper(*metricsURL, 5*time.Second)
		scraper.Start(ctx)
		defer scraper.Stop()
		collector.SetScraper(scraper)
	}

	// -----------------------------------------------------------------------
	// Connect phase
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Connect phase ---")

	var mu sync.Mutex
	clients := make([]*client.Client, 0, *connections)

	var wg sync.WaitGroup
	for i := 0; i < *connections; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
			defer connCancel()

			c, err := client.New(connCtx, *url)
			if err != nil {
				collector.AddError()
				return
			}
			if err := c.WaitForSession(connCtx); err != nil {
				collector.AddError()
				c.Close()
				return
			}

			// Count every relayed event by type.
			for _, eventType := range client.EventTypes {
				et := eventType
				c.On(et, func(json.RawMessage) {
					collector.AddEvent(et)
				})
			}

			// Join a room round-robin across the configured channels.
			if len(rooms) > 0 {
				if err := c.Join(rooms[idx%len(rooms)]); err != nil {
					collector.AddError()
					c.Close()
					return
				}
			}

			m := c.GetMetrics()
			collector.AddConnect(m.ConnectLatency)

			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	fmt.Printf("Connected: %d/%d (%d errors)\n",
		collector.ConnectionCount(), *connections, collector.ErrorCount())

	if collector.ConnectionCount() == 0 {
		fmt.Println("No connections established; aborting.")
		collector.Report()
		return
	}

	// -----------------------------------------------------------------------
	// Listen phase
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Listen phase ---")
	fmt.Printf("Listening for %s...\n", *duration)

	// Ping loop: each tick, one client sends a ping and we time the pong.
	// Sampling a single connection at a time keeps the added load negligible.
	if *pingEvery > 0 {
		go func() {
			ticker := time.NewTicker(*pingEvery)
			defer ticker.Stop()
			next := 0
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					mu.Lock()
					if len(clients) == 0 {
						mu.Unlock()
						continue
					}
					c := clients[next%len(clients)]
					next++
					mu.Unlock()

					sent := time.Now()
					pongCh := make(chan struct{}, 1)
					c.On(client.TypePong, func(json.RawMessage) {
						select {
						case pongCh <- struct{}{}:
						default:
						}
					})
					if err := c.Ping(); err != nil {
						collector.AddError()
						continue
					}
					select {
					case <-pongCh:
						collector.AddPingLatency(time.Since(sent))
					case <-time.After(5 * time.Second):
						collector.AddError()
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	// Progress reporting every 5 seconds during the listen window.
	listenTimer := time.NewTimer(*duration)
	statusTicker := time.NewTicker(5 * time.Second)
	lastEvents := 0
	lastTime := time.Now()

listenLoop:
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during listen phase.")
			break listenLoop
		case <-listenTimer.C:
			fmt.Println("\nListen window complete.")
			break listenLoop
		case <-statusTicker.C:
			now := time.Now()
			events := collector.EventCount()
			rate := float64(events-lastEvents) / now.Sub(lastTime).Seconds()
			fmt.Printf("  [listen] events: %d  rate: %.1f events/s  errors: %d\n",
				events, rate, collector.ErrorCount())
			lastEvents = events
			lastTime = now
		}
	}

	listenTimer.Stop()
	statusTicker.Stop()

	// -----------------------------------------------------------------------
	// Cleanup
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Cleanup ---")
	mu.Lock()
	fmt.Printf("Closing %d connections...\n", len(clients))
	for _, c := range clients {
		c.Close()
	}
	mu.Unlock()
	fmt.Println("All connections closed.")

	collector.Report()
}
