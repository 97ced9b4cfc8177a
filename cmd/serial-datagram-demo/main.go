package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/librescoot/serial-datagram/pkg/proto"
	"github.com/librescoot/serial-datagram/pkg/redis"
	"github.com/librescoot/serial-datagram/pkg/sdgram"
	"github.com/librescoot/serial-datagram/pkg/stream"
	"github.com/librescoot/serial-datagram/pkg/telemetry"
)

// Configuration flags
var (
	serialDevice = flag.String("serial", "/dev/ttymxc1", "Serial device path")
	baudRate     = flag.Int("baud", 115200, "Serial baud rate")
	redisAddr    = flag.String("redis-addr", "localhost:6379", "Redis server address")
	redisPass    = flag.String("redis-pass", "", "Redis password")
	redisDB      = flag.Int("redis-db", 0, "Redis database number")

	telemetryPort   = flag.Int("telemetry-port", 1, "Datagram port carrying inbound CBOR telemetry")
	publishInterval = flag.Duration("publish-interval", time.Second, "How often receive-path stats are mirrored to Redis")

	pollInterval = flag.Duration("poll-interval", 5*time.Millisecond, "How often the engine is ticked")
)

const (
	telemetryKeyPrefix = "serial-datagram:telemetry:"
	configKey          = "serial-datagram:config"
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting serial datagram bridge")
	log.Printf("Serial device: %s", *serialDevice)
	log.Printf("Baud rate: %d", *baudRate)
	log.Printf("Redis address: %s", *redisAddr)

	redisClient, err := redis.New(*redisAddr, *redisPass, *redisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Printf("Connected to Redis")

	if dev, err := redisClient.GetString(configKey, "device"); err == nil {
		*serialDevice = dev
		log.Printf("Serial device overridden from Redis: %s", dev)
	}
	if baud, err := redisClient.GetInt(configKey, "baud"); err == nil {
		*baudRate = baud
		log.Printf("Baud rate overridden from Redis: %d", baud)
	}

	link, err := stream.Open(*serialDevice, *baudRate)
	if err != nil {
		log.Fatalf("Failed to open serial device %s: %v", *serialDevice, err)
	}
	defer link.Close()
	log.Printf("Opened serial device %s", *serialDevice)

	engine := sdgram.New(link, sdgram.Config{})

	handler := telemetry.NewHandler(redisClient, telemetryKeyPrefix)
	if status := engine.RegisterReceiver(byte(*telemetryPort), handler); status != proto.Success {
		log.Fatalf("Failed to register telemetry handler on port %d: %v", *telemetryPort, status)
	}
	log.Printf("Registered telemetry handler on port %d", *telemetryPort)

	engine.ClearRcvStats()

	publisher := telemetry.NewPublisher(redisClient, engine, *publishInterval)
	publisher.ClearRemote()

	watcher := telemetry.NewCommandWatcher(redisClient)
	go watcher.Run()
	defer watcher.Stop()

	log.Printf("Engine running, ticking every %s", *pollInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*pollInterval)
	defer ticker.Stop()

	// engine is only ever touched from this goroutine: Process(), Send()
	// and RcvStats() (via publisher.Tick()) all run here, so the lock-free
	// bufpool/squeue/sender/receiver beneath it never see concurrent access.
	for {
		select {
		case <-sigCh:
			log.Printf("Shutting down...")
			return
		case <-ticker.C:
			engine.Process()
			publisher.Tick()
		case cmd := <-watcher.Commands():
			sendCommand(engine, cmd)
		}
	}
}

func sendCommand(engine *sdgram.Engine, cmd telemetry.Command) {
	buf, ok := engine.AllocBuffer()
	if !ok {
		log.Printf("main: dropping command on port %d, buffer pool exhausted", cmd.Port)
		return
	}
	n := copy(buf.Bytes(), cmd.Payload)
	buf.Shrink(uint8(n))
	if status := engine.Send(cmd.Port, buf); status != proto.Success {
		log.Printf("main: Send on port %d failed: %v", cmd.Port, status)
	}
}
