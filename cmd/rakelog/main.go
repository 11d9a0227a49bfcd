package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rakerig/rakelog/internal/config"
	"github.com/rakerig/rakelog/internal/gps"
	"github.com/rakerig/rakelog/internal/logger"
	"github.com/rakerig/rakelog/internal/metrics"
	"github.com/rakerig/rakelog/internal/monitor"
	"github.com/rakerig/rakelog/internal/publish"
	"github.com/rakerig/rakelog/internal/sensor"
	"github.com/rakerig/rakelog/internal/server"
	"github.com/rakerig/rakelog/web"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "/etc/rakelog/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run with simulated sensor and GPS data")
	interactive := flag.Bool("interactive", false, "Let the dashboard stop logging")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	logDir := flag.String("dir", "", "Override session log directory")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] rakelog starting")

	cfg := config.Load(*configPath)

	if *demo {
		cfg.Sensor.Type = "demo"
		cfg.GPS.Type = "demo"
	}
	if *interactive {
		cfg.Monitor.Mode = monitor.Interactive.String()
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *logDir != "" {
		cfg.Logging.Dir = *logDir
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("[config] invalid configuration: %v", err)
		return 2
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	var src sensor.Source
	switch cfg.Sensor.Type {
	case "bme":
		src = sensor.NewBME(cfg.BME())
	case "demo":
		src = sensor.NewSimulated()
	default:
		src = sensor.Disabled{}
	}
	defer src.Close()

	var pos gps.Source
	switch cfg.GPS.Type {
	case "nmea":
		pos = gps.NewNMEA(cfg.NMEA())
	case "demo":
		pos = gps.NewSimulated()
	default:
		pos = gps.Disabled{}
	}
	defer pos.Close()

	writer := logger.New(cfg.Logger())
	defer writer.Close()

	mt := metrics.New()
	opts := []monitor.Option{monitor.WithMetrics(mt)}

	if cfg.Monitor.SyntheticFallback {
		opts = append(opts, monitor.WithFallback(sensor.NewSimulated()))
	}
	if cfg.MQTT.Enabled {
		pub := publish.NewMQTT(cfg.MQTT)
		defer pub.Close()
		opts = append(opts, monitor.WithPublisher(pub))
	}

	var wg sync.WaitGroup
	if cfg.Server.Enabled {
		srv := server.New(cfg.Server.ListenAddr, web.FS,
			server.WithMetrics(mt),
			server.WithConfig(cfg),
		)
		opts = append(opts, monitor.WithDisplay(srv))

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				log.Printf("[main] server exited: %v", err)
			}
		}()
	} else {
		log.Println("[main] dashboard disabled, running headless")
	}

	mon := monitor.New(cfg.Loop(), src, pos, writer, opts...)
	if err := mon.Start(); err != nil {
		log.Printf("[main] %v", err)
		cancel()
		wg.Wait()
		return 1
	}

	if err := mon.Run(ctx); err != nil {
		log.Printf("[main] monitor exited: %v", err)
	}

	// a quit from the dashboard ends the run without a signal
	cancel()
	wg.Wait()

	if s, ok := writer.Session(); ok {
		log.Printf("[main] %d records in %s", mon.Records(), s.Path)
	}
	return 0
}
