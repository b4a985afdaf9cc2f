package main

import (
	"Go2NetSentry/internal/api"
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/core/model"
	"Go2NetSentry/internal/engine/manager"
	imodel "Go2NetSentry/internal/model"
	"Go2NetSentry/internal/probe"
	"Go2NetSentry/internal/probe/persistent"
	"Go2NetSentry/internal/query"
	"Go2NetSentry/pkg/pcap"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	iface := flag.String("iface", "", "Interface to capture packets from (overrides capture.interface)")
	pcapFile := flag.String("pcap", "", "Pcap file to replay (overrides capture.pcap_file)")
	fromNATS := flag.Bool("nats", false, "Consume raw frames published by ns-probe instead of capturing")
	flag.Parse()

	log.Println("Starting ns-sensor...")

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *iface != "" {
		cfg.Capture.Interface, cfg.Capture.PcapFile = *iface, ""
	}
	if *pcapFile != "" {
		cfg.Capture.PcapFile, cfg.Capture.Interface = *pcapFile, ""
	}
	if !*fromNATS && cfg.Capture.Interface == "" && cfg.Capture.PcapFile == "" {
		fmt.Fprintln(os.Stderr, "Either -iface, -pcap or -nats is required.")
		flag.Usage()
		os.Exit(1)
	}
	log.Println("Configuration loaded successfully.")

	// 2. Initialize modules
	var hub *api.Hub
	var extraSinks []imodel.Sink
	if cfg.API.Enabled {
		hub = api.NewHub()
		extraSinks = append(extraSinks, hub)
	}

	mgr, err := manager.NewManager(cfg, extraSinks...)
	if err != nil {
		log.Fatalf("Failed to create manager: %v", err)
	}
	log.Println("Manager initialized.")

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(cfg.API.ListenAddr, mgr, hub, newQuerier(cfg))
		if err := server.Start(); err != nil {
			log.Fatalf("Failed to start API server: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Start the processing pipeline and feed it
	mgr.Start()
	log.Println("Manager started.")

	if *fromNATS {
		runSubscriber(ctx, cfg, mgr)
	} else {
		runCapture(ctx, cfg, mgr)
	}

	// 4. Graceful shutdown
	log.Println("Shutting down manager...")
	mgr.Stop()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server forced to shutdown: %v", err)
		}
	}
	log.Println("Shutdown complete.")
}

// newQuerier connects to the first enabled ClickHouse writer, if any.
func newQuerier(cfg *config.Config) query.Querier {
	for _, writerDef := range cfg.Snapshot.Writers {
		if writerDef.Enabled && writerDef.Type == "clickhouse" {
			q, err := query.NewClickHouseQuerier(writerDef.ClickHouse)
			if err != nil {
				log.Printf("Query endpoints disabled: %v", err)
				return nil
			}
			log.Println("Found enabled ClickHouse writer, query endpoints enabled.")
			return q
		}
	}
	return nil
}

// runCapture reads from the configured file or interface until the source
// is exhausted or ctx is cancelled.
func runCapture(ctx context.Context, cfg *config.Config, mgr *manager.Manager) {
	var reader *pcap.Reader
	var err error
	if cfg.Capture.PcapFile != "" {
		reader, err = pcap.NewReader(cfg.Capture.PcapFile)
		log.Printf("Reading packets from '%s'...", cfg.Capture.PcapFile)
	} else {
		reader, err = pcap.NewLiveReader(cfg.Capture.Interface, cfg.Capture.SnapLen, cfg.Capture.Promiscuous, cfg.Capture.BPFFilter)
		log.Printf("Capturing packets on interface %s...", cfg.Capture.Interface)
	}
	if err != nil {
		log.Printf("Failed to open capture source: %v", err)
		return
	}
	defer reader.Close()

	out := mgr.InputChannel()
	var worker *persistent.Worker
	if cfg.Persistence.Enabled {
		worker, err = persistent.NewWorker(cfg.Persistence, reader.LinkType())
		if err != nil {
			log.Printf("Failed to start persistence, continuing without it: %v", err)
		}
	}

	if worker != nil {
		captured := make(chan model.RawPacket, cfg.Pipeline.SizeOfPacketChannel)
		forwarded := make(chan struct{})
		go func() {
			defer close(forwarded)
			for raw := range captured {
				worker.Enqueue(raw)
				out <- raw
			}
		}()
		defer func() {
			close(captured)
			<-forwarded
			worker.Stop()
		}()
		out = captured
	}

	count, err := reader.ReadPackets(ctx, out)
	switch {
	case ctx.Err() != nil:
		log.Printf("Capture interrupted after %d packets.", count)
	case err != nil:
		log.Printf("Capture stopped after %d packets: %v", count, err)
	default:
		log.Printf("Finished reading %d packets.", count)
	}
}

// runSubscriber consumes frames from ns-probe until ctx is cancelled.
func runSubscriber(ctx context.Context, cfg *config.Config, mgr *manager.Manager) {
	sub, err := probe.NewSubscriber(cfg.Probe)
	if err != nil {
		log.Printf("Failed to connect to NATS: %v", err)
		return
	}
	if err := sub.Forward(mgr.InputChannel()); err != nil {
		log.Printf("Failed to subscribe: %v", err)
		sub.Close()
		return
	}

	<-ctx.Done()
	// Closing the subscription before the manager keeps the input channel
	// free of late sends.
	sub.Close()
	received, invalid := sub.Counts()
	log.Printf("Shutdown signal received: %d frames received, %d invalid.", received, invalid)
}
