package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opsdash/slack-relay/internal/gateway"
	"github.com/opsdash/slack-relay/internal/messaging"
	"github.com/opsdash/slack-relay/internal/metrics"
	"github.com/opsdash/slack-relay/internal/protocol"
	"github.com/opsdash/slack-relay/internal/ratelimit"
	"github.com/opsdash/slack-relay/internal/relay"
	"github.com/opsdash/slack-relay/internal/session"
	"github.com/opsdash/slack-relay/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	// --- NATS (optional; single instances run without it) ---
	var natsClient *messaging.Client
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig := messaging.DefaultConfig()
		natsConfig.URL = natsURL
		var err error
		natsClient, err = messaging.NewClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
	}

	// --- Redis (optional; presence records and rate limits) ---
	serverName, _ := os.Hostname()
	if v := os.Getenv("SERVER_NAME"); v != "" {
		serverName = v
	}
	if serverName == "" {
		serverName = "relay-1"
	}

	var presence *session.Store
	var redisClient *redis.Client
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		var err error
		presence, err = session.NewStore(redisAddr, serverName)
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		redisClient = presence.Client()
	}
	limiter := ratelimit.NewLimiter(redisClient)

	gatewayConfig := gateway.Config{
		AppToken: os.Getenv("SLACK_APP_TOKEN"),
		BotToken: os.Getenv("SLACK_BOT_TOKEN"),
		Debug:    os.Getenv("SLACK_DEBUG") == "1",
	}

	log.Printf("Slack relay starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections:  %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  nats:            %v", natsClient != nil)
	log.Printf("  redis:           %v", presence != nil)
	log.Printf("  server_name:     %s", serverName)

	// Declare server early so closures can capture it.
	var server *ws.Server

	dispatcher := ws.NewMessageDispatcher(nil)

	// -----------------------------------------------------------------------
	// join-channel — subscribe this session to a channel's room
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinChannel, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinChannelMsg)
		if !ok {
			return
		}
		sid := conn.ID

		channel := strings.TrimSpace(joinMsg.Channel)
		if channel == "" {
			errResp, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
				Code: "invalid_channel", Message: "channel must not be empty",
			})
			conn.WriteMessage(errResp)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		allowed, _ := limiter.Allow(ctx, sid, ratelimit.RuleJoin)
		if !allowed {
			errResp, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
				Code: "rate_limited", Message: "too many join requests",
			})
			conn.WriteMessage(errResp)
			return
		}

		server.Sessions().JoinRoom(sid, channel)
		metrics.JoinsTotal.Inc()

		if presence != nil {
			if err := presence.TouchJoin(ctx, sid); err != nil {
				log.Printf("join-channel: presence update for session=%s: %v", sid, err)
			}
		}

		log.Printf("join-channel from session=%s channel=%s", sid, channel)
	})

	server = ws.NewServer(config, presence, limiter, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	// Choose the fan-out path. With NATS every instance publishes to the
	// shared subject and delivers only from its own subscription, so a
	// broadcast reaches each client exactly once per instance.
	var publisher relay.Publisher
	if natsClient != nil {
		publisher = relay.NewBridgePublisher(natsClient)
		local := relay.NewLocalPublisher(server.Sessions())
		if err := natsClient.SubscribeEvents(func(data []byte) {
			msg, err := relay.DecodeBroadcast(data)
			if err != nil {
				log.Printf("bridge: dropping malformed broadcast: %v", err)
				return
			}
			if err := local.Publish(msg); err != nil {
				log.Printf("bridge: local delivery failed: %v", err)
			}
		}); err != nil {
			log.Fatalf("failed to subscribe to event bridge: %v", err)
		}
	} else {
		publisher = relay.NewLocalPublisher(server.Sessions())
	}

	rel := relay.New(publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := gateway.NewManager(gatewayConfig, rel.Handle)
	server.SetGatewayState(func() string { return manager.State().String() })

	// Missing credentials degrade the relay rather than kill the server:
	// browser clients can still connect, they just receive no events.
	if _, err := manager.Start(ctx); err != nil {
		if errors.Is(err, gateway.ErrNoCredential) {
			log.Printf("WARNING: Slack credentials not set, relay disabled")
		} else {
			log.Printf("WARNING: Slack gateway failed to start, relay disabled: %v", err)
		}
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		manager.Stop()
		if natsClient != nil {
			natsClient.Close()
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if presence != nil {
			if err := presence.Close(); err != nil {
				log.Printf("presence store close error: %v", err)
			}
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
