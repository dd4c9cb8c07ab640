// Command airtransd runs the per-host daemon: the session control plane
// over HTTP and the UDP peer-discovery service, side by side.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/airtrans-project/airtrans/internal/config"
	"github.com/airtrans-project/airtrans/internal/discovery"
	"github.com/airtrans-project/airtrans/internal/partition"
	"github.com/airtrans-project/airtrans/internal/sessionservice"
	"github.com/airtrans-project/airtrans/internal/sessionstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	deviceName, err := os.Hostname()
	if err != nil {
		deviceName = "airtrans-host"
	}

	store, err := sessionstore.New(cfg.SessionDir)
	if err != nil {
		log.Fatalf("create session store: %v", err)
	}

	svc := sessionservice.New(store)
	svc.Algorithm = cfg.ChecksumAlgorithm
	svc.PartitionConfig = partition.Config{
		MaxParts:     cfg.MaxParts,
		DefaultParts: cfg.DefaultNumParts,
	}
	svc.DefaultParityShards = cfg.ParityShards

	disc := discovery.New(discovery.Config{
		DeviceName: deviceName,
		APIPort:    cfg.APIPort,
		Port:       cfg.DiscoveryPort,
		Multicast:  cfg.UseMulticast,
	}, nil)
	disc.OnPeerSeen = func(ip string) {
		log.Printf("discovery: new peer %s", ip)
	}
	if err := disc.Start(); err != nil {
		log.Fatalf("start discovery: %v", err)
	}
	defer disc.Close()

	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	log.Printf("airtransd listening on %s as %q (discovery on udp/%d)", addr, deviceName, cfg.DiscoveryPort)
	if err := http.ListenAndServe(addr, svc.Handler()); err != nil {
		log.Fatalf("session service error: %v", err)
	}
}
