package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cerdastangkas/gdrive-uploader/config"
	"github.com/cerdastangkas/gdrive-uploader/logger"
	"github.com/cerdastangkas/gdrive-uploader/model"
	"github.com/cerdastangkas/gdrive-uploader/processor"
	"github.com/cerdastangkas/gdrive-uploader/remote"
	"github.com/cerdastangkas/gdrive-uploader/scanner"
)

func main() {
	ctx := context.Background()

	dirs := mustGetEnvInt("BENCH_DIRS", 20)
	filesPerDir := mustGetEnvInt("BENCH_FILES_PER_DIR", 25)
	fileSize := mustGetEnvInt("BENCH_FILE_SIZE", 4096)
	latency := time.Duration(mustGetEnvInt("BENCH_LATENCY_MS", 20)) * time.Millisecond
	workerCounts := mustGetEnvInts("BENCH_WORKERS", []int{1, 5, 10, 20})

	root, err := os.MkdirTemp("", "gdrive-uploader-bench-")
	if err != nil {
		log.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(root)

	tree := filepath.Join(root, "Synthetic")
	if err := buildTree(tree, dirs, filesPerDir, fileSize); err != nil {
		log.Fatalf("Failed to build synthetic tree: %v", err)
	}

	inv, err := scanner.New(logger.NewNoOpLogger()).Scan(ctx, tree)
	if err != nil {
		log.Fatalf("Scan failed: %v", err)
	}
	fmt.Printf("Tree: %d dirs, %d files, %s, latency %s per call\n",
		len(inv.Dirs), len(inv.Files), humanize.Bytes(uint64(inv.TotalBytes)), latency)

	for _, workers := range workerCounts {
		start := time.Now()
		stats, err := run(ctx, inv, workers, latency)
		if err != nil {
			log.Fatalf("workers=%d: %v", workers, err)
		}
		elapsed := time.Since(start)
		fmt.Printf("workers=%-3d %d files in %s (%.1f files/s, %d failed)\n",
			workers, stats.Uploaded, elapsed.Round(time.Millisecond),
			float64(stats.Uploaded)/elapsed.Seconds(), stats.Failed)
	}
}

// run uploads the scanned tree into a fresh latency-simulating memory remote
func run(ctx context.Context, inv *model.Inventory, workers int, latency time.Duration) (*processor.TransferStats, error) {
	common := &config.CommonRemoteConfig{}
	common.ApplyDefaults()
	client := remote.NewClient(remote.NewMemoryBackend().WithLatency(latency), common, logger.NewNoOpLogger())
	defer client.Close()

	cfg := &config.UploadConfig{Workers: workers, BatchSize: 100, ProgressSeconds: -1}
	tree, err := processor.NewHierarchyBuilder(client, logger.NewNoOpLogger()).Build(ctx, filepath.Base(inv.Root), "", inv.Dirs)
	if err != nil {
		return nil, err
	}
	_, stats, err := processor.NewTransferEngine(client, cfg, logger.NewNoOpLogger()).Transfer(ctx, inv.Files, tree.Paths, nil)
	return stats, err
}

func buildTree(root string, dirs, filesPerDir, fileSize int) error {
	content := []byte(strings.Repeat("x", fileSize))
	for d := 0; d < dirs; d++ {
		// every fifth directory nests under the previous one
		dir := filepath.Join(root, fmt.Sprintf("dir-%03d", d))
		if d%5 != 0 {
			dir = filepath.Join(root, fmt.Sprintf("dir-%03d", d-d%5), fmt.Sprintf("nested-%03d", d))
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		for f := 0; f < filesPerDir; f++ {
			if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("file-%04d.bin", f)), content, 0644); err != nil {
				return err
			}
		}
	}
	return nil
}

// mustGetEnvInt tries to parse an environment variable as int, returns default if not set or invalid
func mustGetEnvInt(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Printf("Invalid int value for %s: %v. Using default: %d", key, err, def)
		return def
	}
	return i
}

// mustGetEnvInts parses a comma-separated list of ints
func mustGetEnvInts(key string, def []int) []int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	var out []int
	for _, part := range strings.Split(val, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			log.Printf("Invalid int list for %s: %v. Using default: %v", key, err, def)
			return def
		}
		out = append(out, i)
	}
	return out
}
