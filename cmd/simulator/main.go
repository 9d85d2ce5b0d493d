package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"hftsim/internal/ops"
)

func main() {
	if err := runMain(os.Args[1:]); err != nil {
		logs.Errorf("%+v", err)
		os.Exit(1)
	}
}

// runMain parses args and runs one simulation. Every deferred cleanup has
// run by the time it returns.
func runMain(args []string) error {
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to JSON or YAML config (default: built-in)")
	envPath := fs.String("env", ".env", "Env file holding the feed key and database DSN")
	exportPath := fs.String("export", "", "Report output path (overrides report.exportPath)")
	verifyPath := fs.String("verify", "", "Previous report to compare the equity curve against")
	seed := fs.Int64("seed", 0, "Override the config seed (0=keep)")
	ticks := fs.Uint64("ticks", 0, "Override maxTicks (0=keep)")
	profileAddr := fs.String("pyroscope", "", "Pyroscope server address (empty=disabled)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := ops.LoadEnv(*envPath); err != nil {
		return fmt.Errorf("env load failed: %w", err)
	}
	loaded, err := loadConfig(*configPath, *seed, *ticks)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if *exportPath != "" {
		loaded.Report.ExportPath = *exportPath
	}

	if *profileAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "hftsim",
			ServerAddress:   *profileAddr,
			Tags: map[string]string{
				"run":  loaded.Engine.RunID,
				"mode": loaded.Engine.Mode.String(),
			},
			Logger: profileLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return fmt.Errorf("pyroscope start failed: %w", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sys.Shutdown():
			logs.Info("shutdown signal received, finishing the current tick")
			cancel()
		case <-ctx.Done():
		}
	}()

	export, err := run(ctx, loaded, time.Now)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}
	if *verifyPath != "" {
		if err := verify(*verifyPath, export); err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		logs.Infof("equity curve matches %s (%d points)", *verifyPath, len(export.EquityCurve))
	}
	return nil
}

func loadConfig(path string, seed int64, ticks uint64) (ops.Loaded, error) {
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
	if ticks != 0 {
		cfg.MaxTicks = ticks
	}
	return ops.Resolve(cfg)
}

// profileLogger routes profiler chatter to the debug log.
type profileLogger struct{}

func (profileLogger) Infof(format string, args ...interface{})  { logs.Debugf(format, args...) }
func (profileLogger) Debugf(format string, args ...interface{}) { logs.Debugf(format, args...) }
func (profileLogger) Errorf(format string, args ...interface{}) { logs.Errorf(format, args...) }
