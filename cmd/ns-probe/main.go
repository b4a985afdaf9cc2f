package main

import (
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/core/model"
	"Go2NetSentry/internal/engine/protocol"
	"Go2NetSentry/internal/probe"
	"Go2NetSentry/pkg/pcap"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// --- Command-Line Flag Parsing ---
	mode := flag.String("mode", "sub", "Operating mode: 'pub' to capture and publish, 'sub' to subscribe and print.")
	iface := flag.String("iface", "", "Interface to capture packets from (overrides capture.interface).")
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *iface != "" {
		cfg.Capture.Interface = *iface
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Mode Dispatch ---
	switch *mode {
	case "pub":
		runProbe(ctx, cfg)
	case "sub":
		runSubscriber(ctx, cfg)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runProbe captures frames and publishes them to NATS.
func runProbe(ctx context.Context, cfg *config.Config) {
	if cfg.Capture.Interface == "" {
		log.Println("Error: an interface is required for probe mode.")
		flag.Usage()
		os.Exit(1)
	}
	log.Printf("Starting ns-probe in PROBE mode on interface: %s", cfg.Capture.Interface)

	pub, err := probe.NewPublisher(cfg.Probe)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer pub.Close()

	reader, err := pcap.NewLiveReader(cfg.Capture.Interface, cfg.Capture.SnapLen, cfg.Capture.Promiscuous, cfg.Capture.BPFFilter)
	if err != nil {
		log.Fatalf("Failed to open capture: %v", err)
	}
	defer reader.Close()

	log.Println("Capture started successfully. Publishing packets to NATS...")

	packets := make(chan model.RawPacket, 1024)
	go func() {
		defer close(packets)
		if _, err := reader.ReadPackets(ctx, packets); err != nil && ctx.Err() == nil {
			log.Printf("Capture stopped: %v", err)
		}
	}()

	published := 0
	for raw := range packets {
		if err := pub.Publish(raw); err != nil {
			log.Printf("Failed to publish packet: %v", err)
			continue
		}
		published++
		if published%1000 == 0 {
			log.Printf("%d packets published...", published)
		}
	}
	log.Printf("Shutdown signal received, %d packets published.", published)
}

// runSubscriber prints a summary line for every frame received.
func runSubscriber(ctx context.Context, cfg *config.Config) {
	log.Println("Starting ns-probe in SUBSCRIBER mode...")

	sub, err := probe.NewSubscriber(cfg.Probe)
	if err != nil {
		log.Fatalf("Failed to create subscriber: %v", err)
	}
	defer sub.Close()

	handler := func(raw model.RawPacket) {
		info, err := protocol.ParsePacket(raw)
		if err != nil {
			log.Printf("Received partially decoded packet (%d bytes): %v", len(raw.Data), err)
			return
		}
		key := info.FlowKey()
		log.Printf("Received Packet: %s len=%d proto=%s", key, info.Length, info.ProtocolName)
	}
	if err := sub.Start(handler); err != nil {
		log.Fatalf("Subscriber failed to start: %v", err)
	}

	<-ctx.Done()
	log.Println("Shutdown signal received, cleaning up...")
}
