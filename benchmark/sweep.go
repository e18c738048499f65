// Package benchmark drives latency sweeps over an external transformer
// benchmarking script. Each (model, sequence length, batch size) triple is
// run twice, once on the accelerated path and once on the native path, and
// the reported latencies are scraped from the script's text output.
package benchmark

import (
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
)

// NotAvailable is reported when a run produced no parseable latency.
const NotAvailable = "N/A"

// SweepConfig describes one sweep. Immutable once the sweep starts.
type SweepConfig struct {
	Models          []string
	SequenceLengths []int
	BatchSizes      []int

	// BenchmarkDir is the checkout containing the external benchmark entry
	// point (examples/pytorch/benchmarking/run_benchmark.py).
	BenchmarkDir string
}

// DefaultSweepConfig returns the default sweep matrix.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Models:          []string{"bert-base-uncased", "bert-large-uncased", "roberta-base", "gpt2"},
		SequenceLengths: []int{128, 512},
		BatchSizes:      []int{1, 2, 4, 8, 12, 16, 20, 24, 28, 32, 64, 96, 128},
		BenchmarkDir:    "/opt/ml/code/transformers",
	}
}

// Row is the result of one sweep triple: the two scraped latencies, or
// NotAvailable where a run produced no match.
type Row struct {
	Model              string
	SequenceLength     int
	BatchSize          int
	AcceleratedLatency string
	NativeLatency      string
}

// CommandRunner executes a shell command and returns its combined stdout
// and stderr. Failed runs return whatever output was produced; the sweep
// degrades to NotAvailable instead of aborting.
type CommandRunner func(command string) string

// resultsPattern matches the five-token results line printed by the
// external benchmark; the final token is the latency.
var resultsPattern = regexp.MustCompile(`Results: \S+ \S+ \S+ \S+ \S+\n`)

// extractLatency pulls the reported latency out of a run's output, or
// NotAvailable when no results line is present.
func extractLatency(output string) string {
	match := resultsPattern.FindString(output)
	if match == "" {
		return NotAvailable
	}

	fields := strings.Fields(match)
	return fields[len(fields)-1]
}

// Sweeper runs the configured sweep. Runs execute strictly one at a time;
// a Sweeper is not safe for concurrent use against the same external
// script because process output is read synchronously.
type Sweeper struct {
	config SweepConfig
	runner CommandRunner
}

// NewSweeper creates a sweeper that shells out to the external benchmark.
func NewSweeper(config SweepConfig) *Sweeper {
	return &Sweeper{
		config: config,
		runner: shellRunner,
	}
}

// SetRunner replaces the command runner. Used by tests to fabricate
// external process output.
func (s *Sweeper) SetRunner(runner CommandRunner) {
	if runner != nil {
		s.runner = runner
	}
}

// benchmarkCommand builds the external invocation for one run.
func (s *Sweeper) benchmarkCommand(model string, seqLen, batchSize int, accelerated bool) string {
	return fmt.Sprintf(
		"python3 %s/examples/pytorch/benchmarking/run_benchmark.py --models %s --training yes --batch_sizes %d --sequence_lengths %d --inference no --tpu %t --memory false --fp16",
		s.config.BenchmarkDir, model, batchSize, seqLen, accelerated)
}

// Run executes the full sweep, echoing each run's output and one report row
// per triple to w. It always completes: runs with missing or malformed
// output are reported as NotAvailable.
func (s *Sweeper) Run(w io.Writer) []Row {
	rows := make([]Row, 0, len(s.config.Models)*len(s.config.SequenceLengths)*len(s.config.BatchSizes))

	for _, model := range s.config.Models {
		for _, seqLen := range s.config.SequenceLengths {
			for _, batchSize := range s.config.BatchSizes {
				fmt.Fprintf(w, "running %s batch_size=%d sequence_length=%d with accelerated=true\n", model, batchSize, seqLen)
				acceleratedOut := s.runner(s.benchmarkCommand(model, seqLen, batchSize, true))
				fmt.Fprint(w, acceleratedOut)

				fmt.Fprintf(w, "running %s batch_size=%d sequence_length=%d with accelerated=false\n", model, batchSize, seqLen)
				nativeOut := s.runner(s.benchmarkCommand(model, seqLen, batchSize, false))
				fmt.Fprint(w, nativeOut)

				row := Row{
					Model:              model,
					SequenceLength:     seqLen,
					BatchSize:          batchSize,
					AcceleratedLatency: extractLatency(acceleratedOut),
					NativeLatency:      extractLatency(nativeOut),
				}
				rows = append(rows, row)

				fmt.Fprintln(w, "Columns: model, seq_len, batch_size, accelerated_latency, native_latency")
				fmt.Fprintf(w, "Aggregate: %s %d %d %s %s\n", row.Model, row.SequenceLength, row.BatchSize, row.AcceleratedLatency, row.NativeLatency)
			}
		}
	}

	return rows
}

// shellRunner executes the command through the shell and returns combined
// output. Exit status is deliberately ignored: a failing run still yields
// whatever output it printed, and the caller degrades to NotAvailable.
func shellRunner(command string) string {
	cmd := exec.Command("sh", "-c", command)
	out, _ := cmd.CombinedOutput()
	return string(out)
}
