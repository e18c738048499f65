// Command benchsweep runs a latency sweep over an external transformer
// benchmarking script, comparing accelerated and native execution for every
// model/sequence-length/batch-size combination.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/tsawler/go-syncfree/benchmark"
)

var (
	models     = flag.String("models", strings.Join(benchmark.DefaultSweepConfig().Models, ","), "Models to benchmark (comma-separated)")
	seqLens    = flag.String("sequence-lengths", joinInts(benchmark.DefaultSweepConfig().SequenceLengths), "Sequence lengths to benchmark (comma-separated)")
	batchSizes = flag.String("batch-sizes", joinInts(benchmark.DefaultSweepConfig().BatchSizes), "Batch sizes to benchmark (comma-separated)")
	benchDir   = flag.String("benchmark-dir", benchmark.DefaultSweepConfig().BenchmarkDir, "Path to the external benchmark checkout")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Sweep an external transformer benchmark across models, sequence\n")
		fmt.Fprintf(os.Stderr, "lengths, and batch sizes, comparing accelerated and native runs.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExample:\n")
		fmt.Fprintf(os.Stderr, "  %s -models bert-base-uncased,gpt2 -sequence-lengths 128 -batch-sizes 1,8,32\n", os.Args[0])
	}

	flag.Parse()

	config := benchmark.SweepConfig{
		Models:          splitList(*models),
		SequenceLengths: parseInts(*seqLens),
		BatchSizes:      parseInts(*batchSizes),
		BenchmarkDir:    *benchDir,
	}

	if len(config.Models) == 0 || len(config.SequenceLengths) == 0 || len(config.BatchSizes) == 0 {
		fmt.Fprintf(os.Stderr, "Error: models, sequence lengths, and batch sizes must all be non-empty\n\n")
		flag.Usage()
		os.Exit(1)
	}

	total := len(config.Models) * len(config.SequenceLengths) * len(config.BatchSizes)
	log.Printf("Sweeping %d combinations (%d models x %d sequence lengths x %d batch sizes)",
		total, len(config.Models), len(config.SequenceLengths), len(config.BatchSizes))

	sweeper := benchmark.NewSweeper(config)
	rows := sweeper.Run(os.Stdout)

	available := 0
	for _, row := range rows {
		if row.AcceleratedLatency != benchmark.NotAvailable || row.NativeLatency != benchmark.NotAvailable {
			available++
		}
	}
	log.Printf("Sweep complete: %d/%d combinations reported a latency", available, len(rows))
	log.Printf("CPU time: self %v, benchmark processes %v", cpuTimeSelf(), cpuTimeChildren())
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInts(s string) []int {
	var out []int
	for _, part := range splitList(s) {
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			log.Printf("Warning: skipping invalid value %q", part)
			continue
		}
		out = append(out, n)
	}
	return out
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
