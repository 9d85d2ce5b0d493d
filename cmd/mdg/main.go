package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/yanun0323/logs"

	"hftsim/internal/mdg"
	"hftsim/internal/obs"
	"hftsim/internal/ops"
)

func main() {
	if err := runMain(os.Args[1:]); err != nil {
		logs.Errorf("%+v", err)
		os.Exit(1)
	}
}

func runMain(args []string) error {
	fs := flag.NewFlagSet("mdg", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to JSON or YAML config (default: built-in)")
	ticks := fs.Int("ticks", 10, "Number of ticks to generate")
	step := fs.Duration("step", time.Second, "Virtual time between ticks")
	seed := fs.Int64("seed", 0, "Override the config seed (0=keep)")
	out := fs.String("out", "", "Output file for JSON lines (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *ticks <= 0 {
		return fmt.Errorf("ticks must be > 0")
	}
	loaded, err := loadConfig(*configPath, *seed)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	w := io.Writer(os.Stdout)
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("open output failed: %w", err)
		}
		defer f.Close()
		w = f
	}

	metrics := obs.NewMetrics()
	start := loaded.Engine.StartTime
	if start.IsZero() {
		start = time.Now().UTC()
	}
	n, err := generate(w, loaded, *ticks, *step, start, metrics)
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	snapshot := metrics.Snapshot()
	logs.Infof("wrote %d quotes over %d ticks, tick_latency=%+v", n, snapshot.Ticks, snapshot.TickLatency)
	return nil
}

func loadConfig(path string, seed int64) (ops.Loaded, error) {
	var (
		cfg ops.FileConfig
		err error
	)
	if path == "" {
		cfg = ops.Default()
	} else if cfg, err = ops.Read(path); err != nil {
		return ops.Loaded{}, err
	}
	if seed != 0 {
		cfg.Seed = seed
	}
	return ops.Resolve(cfg)
}

// generate writes ticks rounds of quotes as JSON lines and returns the
// number of quotes written.
func generate(w io.Writer, loaded ops.Loaded, ticks int, step time.Duration, start time.Time, metrics *obs.Metrics) (int, error) {
	reg := loaded.Registry
	rng := rand.New(rand.NewSource(loaded.Seed))
	model, err := mdg.NewPriceModel(reg, loaded.Model, rng)
	if err != nil {
		return 0, err
	}
	synth, err := mdg.NewSynthesizer(reg, loaded.Model.Classes, rng, mdg.NewSequencer(reg.Names()))
	if err != nil {
		return 0, err
	}
	generator, err := mdg.NewGenerator(reg, model, synth)
	if err != nil {
		return 0, err
	}

	buf := bufio.NewWriter(w)
	enc := json.NewEncoder(buf)
	count := 0
	for i := 1; i <= ticks; i++ {
		begin := time.Now()
		quotes, err := generator.Next(step.Seconds(), start.Add(time.Duration(i)*step))
		if err != nil {
			return count, err
		}
		for _, q := range quotes {
			if err := enc.Encode(q); err != nil {
				return count, err
			}
			count++
		}
		metrics.ObserveTick(time.Since(begin))
	}
	return count, buf.Flush()
}
