package main

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sys/cpu"

	"github.com/samcharles93/trellis/internal/gp"
	"github.com/samcharles93/trellis/internal/logger"
)

// benchMatrix builds a random symmetric positive-definite n×n matrix.
func benchMatrix(n int, rng *rand.Rand) []float64 {
	m := make([]float64, n*n)
	for i := range m {
		m[i] = rng.NormFloat64()
	}
	a := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			var s float64
			for k := 0; k < n; k++ {
				s += m[i*n+k] * m[j*n+k]
			}
			a[i*n+j] = s
		}
		a[i*n+i] += float64(n)
	}
	return a
}

func cpuFeatures() string {
	feats := ""
	add := func(on bool, name string) {
		if on {
			if feats != "" {
				feats += " "
			}
			feats += name
		}
	}
	add(cpu.X86.HasAVX2, "avx2")
	add(cpu.X86.HasAVX512F, "avx512f")
	add(cpu.X86.HasFMA, "fma")
	add(cpu.ARM64.HasASIMD, "asimd")
	add(cpu.ARM64.HasSVE, "sve")
	if feats == "" {
		feats = "baseline"
	}
	return feats
}

func benchCmd() *cli.Command {
	var (
		size       int64
		warmupRuns int64
		benchRuns  int64
	)

	flags := append([]cli.Flag{}, engineFlags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "size",
			Aliases:     []string{"n"},
			Usage:       "matrix dimension; must be a multiple of the tile size",
			Value:       1024,
			Destination: &size,
		},
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of warmup runs",
			Value:       1,
			Destination: &warmupRuns,
		},
		&cli.Int64Flag{
			Name:        "runs",
			Usage:       "number of benchmark runs",
			Value:       3,
			Destination: &benchRuns,
		},
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Benchmark tiled Cholesky factorization throughput",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyEngineConfig(cmd, LoadConfig())

			n := int(size)
			if n <= 0 || n%int(tileSize) != 0 {
				return fmt.Errorf("size %d is not a positive multiple of tile size %d", n, tileSize)
			}

			rng := rand.New(rand.NewSource(42))
			x := make([]float64, n)
			y := make([]float64, n)
			for i := range x {
				x[i] = float64(i) / float64(n)
				y[i] = rng.NormFloat64()
			}
			sess, err := gp.New(engineConfig(), x, y, log)
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			fmt.Println("=== Trellis Benchmark ===")
			fmt.Printf("Matrix:   %d x %d (tile %d, %d x %d tiles)\n", n, n, tileSize, n/int(tileSize), n/int(tileSize))
			fmt.Printf("Backend:  %s\n", backendName)
			fmt.Printf("CPUs:     %d (%s)\n", runtime.NumCPU(), cpuFeatures())
			fmt.Printf("GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
			fmt.Printf("Warmup:   %d runs\n", warmupRuns)
			fmt.Printf("Runs:     %d\n", benchRuns)
			fmt.Println()

			a := benchMatrix(n, rng)
			for i := range int(warmupRuns) {
				log.Info("warmup run", "run", i+1)
				if _, err := sess.Factorize(a, n); err != nil {
					return fmt.Errorf("warmup run %d: %w", i+1, err)
				}
			}

			// n^3/3 flops per Cholesky factorization
			flops := float64(n) * float64(n) * float64(n) / 3

			durations := make([]time.Duration, 0, benchRuns)
			for i := range int(benchRuns) {
				if err := ctx.Err(); err != nil {
					return err
				}
				log.Info("benchmark run", "run", i+1)
				start := time.Now()
				if _, err := sess.Factorize(a, n); err != nil {
					return fmt.Errorf("benchmark run %d: %w", i+1, err)
				}
				durations = append(durations, time.Since(start))
			}

			fmt.Println("=== Results ===")
			fmt.Printf("%-6s %12s %10s\n", "Run", "Duration", "GFLOP/s")
			var sum time.Duration
			for i, d := range durations {
				fmt.Printf("%-6d %12s %10.2f\n", i+1, d.Round(time.Microsecond), flops/d.Seconds()/1e9)
				sum += d
			}
			avg := sum / time.Duration(len(durations))
			fmt.Printf("\n%-6s %12s %10.2f\n", "Avg", avg.Round(time.Microsecond), flops/avg.Seconds()/1e9)

			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			fmt.Printf("\nMemory: %.1f MB alloc, %.1f MB sys\n",
				float64(mem.Alloc)/(1024*1024),
				float64(mem.Sys)/(1024*1024))
			return nil
		},
	}
}
