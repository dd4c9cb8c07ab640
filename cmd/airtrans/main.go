// Command airtrans is the end-user CLI: send a file, receive one, or
// discover nearby peers, talking to the local airtransd daemon for
// session coordination and driving the transfer engine directly.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/airtrans-project/airtrans/internal/compress"
	"github.com/airtrans-project/airtrans/internal/discovery"
	"github.com/airtrans-project/airtrans/internal/engine"
	"github.com/airtrans-project/airtrans/internal/erasure"
	"github.com/airtrans-project/airtrans/internal/partition"
	"github.com/airtrans-project/airtrans/internal/sessionclient"
	"github.com/airtrans-project/airtrans/internal/telemetry"
	"github.com/airtrans-project/airtrans/pkg/descriptor"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "send":
		runSend(os.Args[2:])
	case "receive":
		runReceive(os.Args[2:])
	case "peers":
		runPeers(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage:
  airtrans send <file> [--split N] [--compress] [--parity K] [--daemon url]
  airtrans receive --metadata <file> [--daemon url]
  airtrans peers [--timeout seconds]`)
}

func runSend(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	split := fs.Int("split", 0, "number of parts (auto if 0)")
	compressFlag := fs.Bool("compress", false, "compress file before sending")
	daemon := fs.String("daemon", "http://127.0.0.1:8000", "session service base URL")
	basePort := fs.Int("base-port", 0, "first TCP port to bind (daemon default if 0)")
	parity := fs.Int("parity", 0, "number of Reed-Solomon parity shards to send alongside the data parts (0 disables)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		usage()
		os.Exit(1)
	}
	path := fs.Arg(0)

	sendPath := path
	if *compressFlag {
		compressed := path + ".zst"
		if err := compress.CompressFile(path, compressed); err != nil {
			log.Fatalf("compress file: %v", err)
		}
		sendPath = compressed
		fmt.Printf("Compressed to %s\n", compressed)
	}

	c := sessionclient.New(*daemon)
	ctx := context.Background()

	sessionID, d, err := c.CreateSession(ctx, sendPath, *split, *basePort, *compressFlag, *parity)
	if err != nil {
		log.Fatalf("create session: %v", err)
	}
	fmt.Printf("Session created: %s\n", sessionID)
	fmt.Printf("Transfer ports: %d-%d\n", d.Ports[0], d.Ports[len(d.Ports)-1])

	metadataJSON, _ := json.Marshal(d)
	fmt.Printf("Receiver metadata:\n%s\n", metadataJSON)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	sendCtx, cancel := context.WithCancel(ctx)
	go func() {
		<-interrupt
		fmt.Println("\nInterrupt received, cancelling transfer...")
		cancel()
	}()

	bar := progressbar.NewOptions64(
		d.Filesize,
		progressbar.OptionSetDescription("sending"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(100*time.Millisecond),
	)

	var result *engine.SendResult
	var sendErr, parityErr error
	var wg sync.WaitGroup

	tc := telemetry.NewTelemetryCollector()
	wg.Add(1)
	go func() {
		defer wg.Done()
		result, sendErr = engine.SendFile(sendCtx, sendPath, engine.SendOptions{
			NumParts:  d.NumParts,
			BasePort:  d.Ports[0],
			Telemetry: tc,
		})
	}()

	if d.ParityShards > 0 {
		plan, err := partition.Split(d.Filesize, d.NumParts)
		if err != nil {
			log.Fatalf("plan partitioning for parity: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			parityErr = erasure.SendParity(sendCtx, sendPath, plan, d.ParityPorts, "")
		}()
		fmt.Printf("Streaming %d parity shard(s) on ports %d-%d\n", d.ParityShards, d.ParityPorts[0], d.ParityPorts[len(d.ParityPorts)-1])
	}

	wg.Wait()
	if sendErr != nil {
		log.Fatalf("send file: %v", sendErr)
	}
	if parityErr != nil {
		log.Printf("send parity shards: %v", parityErr)
	}
	bar.Set64(result.Filesize)

	for i, pr := range result.PartResults {
		if err := c.UpdateProgress(ctx, sessionID, i, pr.Bytes); err != nil {
			log.Printf("report progress for part %d: %v", i, err)
		}
	}
	if _, err := c.Complete(ctx, sessionID, result.Checksum); err != nil {
		log.Printf("report completion: %v", err)
	}

	fmt.Printf("\nTransfer complete. Average speed: %.2f Mbps, checksum: %s\n", result.AvgSpeedMbps, result.Checksum)
}

func runReceive(args []string) {
	fs := flag.NewFlagSet("receive", flag.ExitOnError)
	metadataPath := fs.String("metadata", "", "path to a descriptor JSON file")
	outputDir := fs.String("output-dir", "./received", "directory to write the received file")
	daemon := fs.String("daemon", "http://127.0.0.1:8000", "session service base URL")
	fs.Parse(args)

	if *metadataPath == "" {
		usage()
		os.Exit(1)
	}

	raw, err := os.ReadFile(*metadataPath)
	if err != nil {
		log.Fatalf("read metadata file: %v", err)
	}
	var d descriptor.Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		log.Fatalf("parse metadata: %v", err)
	}
	if err := d.Validate(); err != nil {
		log.Fatalf("invalid metadata: %v", err)
	}

	c := sessionclient.New(*daemon)
	ctx := context.Background()
	sessionID, err := c.JoinSession(ctx, d)
	if err != nil {
		log.Fatalf("join session: %v", err)
	}
	fmt.Printf("Joined session: %s\n", sessionID)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	recvCtx, cancel := context.WithCancel(ctx)
	go func() {
		<-interrupt
		fmt.Println("\nInterrupt received, cancelling transfer...")
		cancel()
	}()

	bar := progressbar.NewOptions64(
		d.Filesize,
		progressbar.OptionSetDescription("receiving"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(100*time.Millisecond),
	)

	recvOpts := engine.ReceiveOptions{Telemetry: telemetry.NewTelemetryCollector()}
	if d.ParityShards > 0 {
		recvOpts.Reconstruct = erasure.ReconstructMissingParts
		fmt.Printf("Parity recovery available: %d parity shard(s) on ports %d-%d\n", d.ParityShards, d.ParityPorts[0], d.ParityPorts[len(d.ParityPorts)-1])
	}

	result, err := engine.ReceiveFile(recvCtx, d, *outputDir, recvOpts)
	if err != nil {
		log.Fatalf("receive file: %v", err)
	}
	bar.Set64(result.Filesize)

	for i := 0; i < d.NumParts; i++ {
		off, length, _ := d.PartBounds(i)
		if err := c.UpdateProgress(ctx, sessionID, i, length); err != nil {
			log.Printf("report progress for part %d (offset %d): %v", i, off, err)
		}
	}

	match, err := c.Complete(ctx, sessionID, result.Checksum)
	if err != nil {
		log.Printf("report completion: %v", err)
	}

	outPath := result.OutputPath
	if d.Compression {
		decompressed := outPath + ".decompressed"
		if err := compress.DecompressFile(outPath, decompressed); err != nil {
			log.Printf("decompress received file: %v", err)
		} else {
			outPath = decompressed
		}
	}

	fmt.Printf("\nDownload complete. Saved to %s (checksum match: %v, avg %.2f Mbps, last RTT %.1f ms)\n", outPath, match, result.AvgSpeedMbps, result.LatencyMs)
}

func runPeers(args []string) {
	fs := flag.NewFlagSet("peers", flag.ExitOnError)
	timeout := fs.Int("timeout", 30, "discovery timeout in seconds")
	fs.Parse(args)

	deviceName, err := os.Hostname()
	if err != nil {
		deviceName = "airtrans-host"
	}

	disc := discovery.New(discovery.Config{DeviceName: deviceName, APIPort: 8000}, nil)
	disc.OnPeerSeen = func(ip string) {
		fmt.Printf("Found peer at %s\n", ip)
	}
	if err := disc.Start(); err != nil {
		log.Fatalf("start discovery: %v", err)
	}
	defer disc.Close()

	fmt.Printf("Discovering peers for %d seconds...\n", *timeout)
	time.Sleep(time.Duration(*timeout) * time.Second)

	peers := disc.Peers()
	fmt.Printf("Discovery complete: %d peer(s) found\n", len(peers))
	for _, p := range peers {
		fmt.Printf("  %s (%s:%d)\n", p.DeviceName, p.IP, p.APIPort)
	}
}
