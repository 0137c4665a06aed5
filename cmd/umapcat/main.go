/* SPDX-License-Identifier: BSD-2-Clause */

// Command umapcat demand-pages a file through userfaultfd(2) and writes its
// contents to stdout, exercising the full fault-service loop end to end.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/faultmap/umap"
	"github.com/faultmap/umap/config"
	"github.com/faultmap/umap/store"
)

func main() {
	pageSize := flag.Int("page-size", 4096, "bytes per page")
	capacity := flag.Int("capacity", 64, "buffer capacity in pages")
	low := flag.Int("low", 16, "flush low watermark in pages")
	high := flag.Int("high", 48, "flush high watermark in pages")
	fillers := flag.Int("fillers", 1, "number of fill workers")
	flushers := flag.Int("flushers", 1, "number of flush workers")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: umapcat [flags] <file>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	if err := run(path, *pageSize, *capacity, *low, *high, *fillers, *flushers); err != nil {
		slog.Error("umapcat failed", "error", err)
		os.Exit(1)
	}
}

func run(path string, pageSize, capacity, low, high, fillers, flushers int) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()
	if rem := size % int64(pageSize); rem != 0 {
		size += int64(pageSize) - rem
	}

	st, err := store.OpenFileStore(path)
	if err != nil {
		return err
	}
	defer st.Close()

	cfg := config.Config{
		PageSize:           pageSize,
		BufferCapacity:     capacity,
		FlushLowWatermark:  low,
		FlushHighWatermark: high,
		NumFillers:         fillers,
		NumFlushers:        flushers,
		MaxFaultEvents:     16,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m, err := umap.Map(int(size), st, 0, cfg)
	if err != nil {
		return fmt.Errorf("map %s: %w", path, err)
	}
	defer m.Unmap()

	if _, err := os.Stdout.Write(m.Bytes()[:info.Size()]); err != nil {
		return fmt.Errorf("write stdout: %w", err)
	}
	return nil
}
