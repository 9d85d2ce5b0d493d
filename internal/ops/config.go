package ops

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"hftsim/internal/bus"
	"hftsim/internal/chaos"
	"hftsim/internal/engine"
	ierrors "hftsim/internal/errors"
	"hftsim/internal/exec"
	"hftsim/internal/feed"
	"hftsim/internal/ledger"
	"hftsim/internal/mdg"
	"hftsim/internal/risk"
	"hftsim/internal/schema"
	"hftsim/pkg/exception"
)

const (
	defaultFeedAPIKeyEnv = "HFTSIM_FEED_API_KEY"
	defaultSinkDSNEnv    = "HFTSIM_PG_DSN"
	defaultQueueSize     = 1024
)

// FileConfig mirrors the JSON/YAML config layout. Durations are strings
// such as "500ms".
type FileConfig struct {
	RunID          string                 `json:"runId" yaml:"runId"`
	Seed           int64                  `json:"seed" yaml:"seed"`
	Mode           string                 `json:"mode" yaml:"mode"`
	TickInterval   string                 `json:"tickInterval" yaml:"tickInterval"`
	SimStep        string                 `json:"simStep" yaml:"simStep"`
	StartTime      string                 `json:"startTime" yaml:"startTime"`
	MaxTicks       uint64                 `json:"maxTicks" yaml:"maxTicks"`
	InitialCash    float64                `json:"initialCash" yaml:"initialCash"`
	AllowShort     bool                   `json:"allowShort" yaml:"allowShort"`
	StaleAfter     uint32                 `json:"staleAfter" yaml:"staleAfter"`
	MaxCurvePoints int                    `json:"maxCurvePoints" yaml:"maxCurvePoints"`
	Model          ModelConfig            `json:"model" yaml:"model"`
	Classes        map[string]ClassConfig `json:"classes" yaml:"classes"`
	Symbols        []SymbolConfig         `json:"symbols" yaml:"symbols"`
	Execution      ExecutionConfig        `json:"execution" yaml:"execution"`
	Risk           RiskConfig             `json:"risk" yaml:"risk"`
	Feed           FeedConfig             `json:"feed" yaml:"feed"`
	Strategies     []StrategyConfig       `json:"strategies" yaml:"strategies"`
	Sink           SinkConfig             `json:"sink" yaml:"sink"`
	Report         ReportConfig           `json:"report" yaml:"report"`
	Features       FeatureFlagsConfig     `json:"features" yaml:"features"`
}

// ModelConfig holds price model parameters shared by all classes.
type ModelConfig struct {
	BaseVolatility float64 `json:"baseVolatility" yaml:"baseVolatility"`
	Drift          float64 `json:"drift" yaml:"drift"`
}

// ClassConfig overrides the defaults of one asset class.
type ClassConfig struct {
	VolatilityMultiplier *float64 `json:"volatilityMultiplier" yaml:"volatilityMultiplier"`
	SpreadBps            *float64 `json:"spreadBps" yaml:"spreadBps"`
	Liquidity            *float64 `json:"liquidity" yaml:"liquidity"`
}

// SymbolConfig describes a symbol entry. Prices default per class.
type SymbolConfig struct {
	Name      string  `json:"name" yaml:"name"`
	Class     string  `json:"class" yaml:"class"`
	SeedPrice float64 `json:"seedPrice" yaml:"seedPrice"`
	MinPrice  float64 `json:"minPrice" yaml:"minPrice"`
	MaxPrice  float64 `json:"maxPrice" yaml:"maxPrice"`
}

// ExecutionConfig configures fills.
type ExecutionConfig struct {
	BaseSlippageBps float64 `json:"baseSlippageBps" yaml:"baseSlippageBps"`
	ImpactBps       float64 `json:"impactBps" yaml:"impactBps"`
	CommissionRate  float64 `json:"commissionRate" yaml:"commissionRate"`
}

// RiskConfig mirrors risk.Config with a string window.
type RiskConfig struct {
	risk.Config     `yaml:",inline"`
	OrderRateWindow string `json:"orderRateWindow" yaml:"orderRateWindow"`
}

// FeedConfig configures the live quote source.
type FeedConfig struct {
	URL            string      `json:"url" yaml:"url"`
	APIKeyEnv      string      `json:"apiKeyEnv" yaml:"apiKeyEnv"`
	Timeout        string      `json:"timeout" yaml:"timeout"`
	UpdateInterval string      `json:"updateInterval" yaml:"updateInterval"`
	Chaos          ChaosConfig `json:"chaos" yaml:"chaos"`
}

// ChaosConfig mirrors chaos.Config with a string delay.
type ChaosConfig struct {
	chaos.Config `yaml:",inline"`
	MaxDelay     string `json:"maxDelay" yaml:"maxDelay"`
}

// StrategyConfig selects one reference strategy.
type StrategyConfig struct {
	Kind   string             `json:"kind" yaml:"kind"`
	Name   string             `json:"name" yaml:"name"`
	Params map[string]float64 `json:"params" yaml:"params"`
}

// SinkConfig configures PostgreSQL persistence. The DSN is read from the
// environment variable DSNEnv.
type SinkConfig struct {
	DSNEnv string `json:"dsnEnv" yaml:"dsnEnv"`
}

// ReportConfig configures reporting. Overflow is "block" or "drop"; empty
// blocks when the sink is enabled and drops otherwise.
type ReportConfig struct {
	ExportPath string `json:"exportPath" yaml:"exportPath"`
	QueueSize  int    `json:"queueSize" yaml:"queueSize"`
	LogEvery   uint64 `json:"logEvery" yaml:"logEvery"`
	Overflow   string `json:"overflow" yaml:"overflow"`
}

// ReportSpec is the resolved reporting setup.
type ReportSpec struct {
	ExportPath string
	QueueSize  int
	LogEvery   uint64
	Overflow   bus.OverflowPolicy
}

// FeatureFlagsConfig captures optional runtime flags.
type FeatureFlagsConfig struct {
	EnableRisk  *bool `json:"enableRisk" yaml:"enableRisk"`
	EnableChaos *bool `json:"enableChaos" yaml:"enableChaos"`
	EnableSink  *bool `json:"enableSink" yaml:"enableSink"`
}

// FeatureFlags are resolved runtime flags.
type FeatureFlags struct {
	EnableRisk  bool
	EnableChaos bool
	EnableSink  bool
}

// FeedSpec is the resolved live feed setup.
type FeedSpec struct {
	HTTP           feed.HTTPConfig
	UpdateInterval time.Duration
	Chaos          chaos.Config
}

// StrategySpec is a resolved strategy entry.
type StrategySpec struct {
	Kind   string
	Name   string
	Params map[string]float64
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Seed       int64
	Registry   *schema.Registry
	Engine     engine.Config
	Model      mdg.ModelConfig
	Execution  exec.Config
	Ledger     ledger.Config
	Risk       risk.Config
	StaleAfter uint32
	Feed       FeedSpec
	Strategies []StrategySpec
	SinkDSN    string
	Report     ReportSpec
	Features   FeatureFlags
}

// LoadEnv loads KEY=VALUE pairs from path into the environment. A missing
// file is not an error.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "load env file").With("path", path)
	}
	return nil
}

// Load reads a JSON or YAML config file (by extension) and resolves it.
func Load(path string) (Loaded, error) {
	cfg, err := Read(path)
	if err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg)
}

// Read decodes a config file without resolving it, so callers can apply
// overrides first.
func Read(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, errors.Wrap(err, "read config").With("path", path)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return FileConfig{}, errors.Wrap(err, "parse config").With("path", path)
	}
	return cfg, nil
}

// Parse decodes a config document. ext selects the format: ".yaml"/".yml"
// or JSON otherwise.
func Parse(data []byte, ext string) (FileConfig, error) {
	var cfg FileConfig
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return FileConfig{}, err
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return FileConfig{}, err
		}
	}
	return cfg, nil
}

// Default returns the built-in configuration: one symbol per class and a
// mean reversion strategy.
func Default() FileConfig {
	return FileConfig{
		Seed:         42,
		Mode:         "simulated",
		TickInterval: "0s",
		SimStep:      "1s",
		MaxTicks:     1000,
		InitialCash:  100000,
		StaleAfter:   3,
		Model:        ModelConfig{BaseVolatility: 0.0005},
		Symbols: []SymbolConfig{
			{Name: "AAPL", Class: "stock"},
			{Name: "BTC-USD", Class: "crypto"},
			{Name: "EUR-USD", Class: "forex"},
			{Name: "USD-JPY", Class: "forex"},
		},
		Execution:  ExecutionConfig{BaseSlippageBps: 5, ImpactBps: 10},
		Strategies: []StrategyConfig{{Kind: "mean_reversion", Name: "mean_reversion"}},
	}
}

// Resolve validates cfg and fills in defaults. Every problem is reported
// as exception.ErrInvalidConfig.
func Resolve(cfg FileConfig) (Loaded, error) {
	invalid := func(format string, args ...any) (Loaded, error) {
		return Loaded{}, ierrors.Wrapf(exception.ErrInvalidConfig, format, args...)
	}

	mode, err := parseMode(cfg.Mode)
	if err != nil {
		return invalid("%s", err)
	}
	tickInterval, err := parseDuration("tickInterval", cfg.TickInterval, 0)
	if err != nil {
		return invalid("%s", err)
	}
	simStep, err := parseDuration("simStep", cfg.SimStep, 0)
	if err != nil {
		return invalid("%s", err)
	}
	var startTime time.Time
	if cfg.StartTime != "" {
		if startTime, err = time.Parse(time.RFC3339, cfg.StartTime); err != nil {
			return invalid("startTime: %s", err)
		}
	} else if mode == engine.ModeSimulated {
		startTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if cfg.InitialCash <= 0 || math.IsInf(cfg.InitialCash, 0) {
		return invalid("initialCash must be > 0")
	}

	classes, liquidity, err := resolveClasses(cfg.Classes)
	if err != nil {
		return invalid("%s", err)
	}
	registry, err := buildRegistry(cfg.Symbols)
	if err != nil {
		return invalid("%s", err)
	}
	model := mdg.ModelConfig{
		BaseVolatility: cfg.Model.BaseVolatility,
		Drift:          cfg.Model.Drift,
		Classes:        classes,
	}
	if err := model.Validate(registry); err != nil {
		return invalid("%s", err)
	}

	execution := exec.Config{
		Slippage: exec.SlippageModel{
			BaseBps:   cfg.Execution.BaseSlippageBps,
			ImpactBps: cfg.Execution.ImpactBps,
			Liquidity: liquidity,
		},
		CommissionRate: cfg.Execution.CommissionRate,
	}
	if err := execution.Slippage.Validate(); err != nil {
		return invalid("%s", err)
	}
	if execution.CommissionRate < 0 || execution.CommissionRate >= 1 {
		return invalid("commissionRate must be in [0, 1)")
	}

	riskCfg := cfg.Risk.Config
	if riskCfg.MaxOrderQty < 0 || riskCfg.MaxOrderNotional < 0 || riskCfg.MaxPosition < 0 || riskCfg.OrderRateLimit < 0 {
		return invalid("risk limits must be >= 0")
	}
	if riskCfg.OrderRateWindow, err = parseDuration("risk.orderRateWindow", cfg.Risk.OrderRateWindow, 0); err != nil {
		return invalid("%s", err)
	}

	features := resolveFeatures(cfg.Features)
	feedSpec, err := resolveFeed(cfg.Feed, mode, features)
	if err != nil {
		return invalid("%s", err)
	}

	if len(cfg.Strategies) == 0 {
		return invalid("at least one strategy is required")
	}
	strategies := make([]StrategySpec, 0, len(cfg.Strategies))
	for i, s := range cfg.Strategies {
		if s.Kind == "" {
			return invalid("strategies[%d]: kind is required", i)
		}
		name := s.Name
		if name == "" {
			name = s.Kind
		}
		strategies = append(strategies, StrategySpec{Kind: s.Kind, Name: name, Params: s.Params})
	}

	var dsn string
	if features.EnableSink {
		env := cfg.Sink.DSNEnv
		if env == "" {
			env = defaultSinkDSNEnv
		}
		if dsn = os.Getenv(env); dsn == "" {
			return invalid("sink enabled but %s is empty", env)
		}
	}

	report := ReportSpec{
		ExportPath: cfg.Report.ExportPath,
		QueueSize:  cfg.Report.QueueSize,
		LogEvery:   cfg.Report.LogEvery,
		Overflow:   bus.OverflowDropNewest,
	}
	if report.QueueSize <= 0 {
		report.QueueSize = defaultQueueSize
	}
	switch {
	case cfg.Report.Overflow != "":
		if report.Overflow, err = bus.ParseOverflowPolicy(cfg.Report.Overflow); err != nil {
			return invalid("report.overflow: %s", err)
		}
	case features.EnableSink:
		report.Overflow = bus.OverflowBlock
	}

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	return Loaded{
		Seed:     cfg.Seed,
		Registry: registry,
		Engine: engine.Config{
			Mode:         mode,
			TickInterval: tickInterval,
			SimStep:      simStep,
			StartTime:    startTime,
			MaxTicks:     cfg.MaxTicks,
			RunID:        runID,
		},
		Model:     model,
		Execution: execution,
		Ledger: ledger.Config{
			InitialCash:    cfg.InitialCash,
			AllowShort:     cfg.AllowShort,
			MaxCurvePoints: cfg.MaxCurvePoints,
		},
		Risk:       riskCfg,
		StaleAfter: cfg.StaleAfter,
		Feed:       feedSpec,
		Strategies: strategies,
		SinkDSN:    dsn,
		Report:     report,
		Features:   features,
	}, nil
}

func parseMode(mode string) (engine.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "simulated", "sim":
		return engine.ModeSimulated, nil
	case "live":
		return engine.ModeLive, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", mode)
	}
}

func parseDuration(field, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must be >= 0", field)
	}
	return d, nil
}

func resolveClasses(cfg map[string]ClassConfig) (map[schema.AssetClass]mdg.ClassParams, map[schema.AssetClass]float64, error) {
	classes := mdg.DefaultClassParams()
	liquidity := exec.DefaultLiquidity()
	for name, c := range cfg {
		class, err := schema.ParseAssetClass(name)
		if err != nil {
			return nil, nil, err
		}
		params := classes[class]
		if c.VolatilityMultiplier != nil {
			params.VolatilityMultiplier = *c.VolatilityMultiplier
		}
		if c.SpreadBps != nil {
			params.SpreadBps = *c.SpreadBps
		}
		classes[class] = params
		if c.Liquidity != nil {
			liquidity[class] = *c.Liquidity
		}
	}
	return classes, liquidity, nil
}

func buildRegistry(symbols []SymbolConfig) (*schema.Registry, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("at least one symbol is required")
	}
	reg := schema.NewRegistry()
	for _, sym := range symbols {
		class, err := schema.ParseAssetClass(sym.Class)
		if err != nil {
			return nil, fmt.Errorf("symbol %s: %w", sym.Name, err)
		}
		seed := sym.SeedPrice
		if seed == 0 {
			seed = DefaultSeedPrice(sym.Name, class)
		}
		lo, hi := sym.MinPrice, sym.MaxPrice
		loFactor, hiFactor := defaultBand(class)
		if lo == 0 {
			lo = seed * loFactor
		}
		if hi == 0 {
			hi = seed * hiFactor
		}
		if _, err := reg.AddSymbol(schema.Symbol{
			Name:      sym.Name,
			Class:     class,
			SeedPrice: seed,
			MinPrice:  lo,
			MaxPrice:  hi,
		}); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// defaultBand returns the seed multiples bounding a symbol's price when no
// bounds are configured. Currency pairs move far less than equities.
func defaultBand(class schema.AssetClass) (lo, hi float64) {
	if class == schema.AssetClassForex {
		return 0.5, 1.5
	}
	return 0.1, 10
}

// DefaultSeedPrice returns the starting mid for a symbol without a
// configured seed.
func DefaultSeedPrice(name string, class schema.AssetClass) float64 {
	upper := strings.ToUpper(name)
	switch class {
	case schema.AssetClassCrypto:
		if strings.HasPrefix(upper, "BTC") || strings.HasPrefix(upper, "XBT") {
			return 30000
		}
		return 100
	case schema.AssetClassForex:
		if strings.Contains(upper, "JPY") {
			return 110
		}
		return 1.1
	default:
		return 100
	}
}

func resolveFeed(cfg FeedConfig, mode engine.Mode, features FeatureFlags) (FeedSpec, error) {
	timeout, err := parseDuration("feed.timeout", cfg.Timeout, 0)
	if err != nil {
		return FeedSpec{}, err
	}
	interval, err := parseDuration("feed.updateInterval", cfg.UpdateInterval, time.Second)
	if err != nil {
		return FeedSpec{}, err
	}
	if interval == 0 {
		return FeedSpec{}, fmt.Errorf("feed.updateInterval must be > 0")
	}
	chaosCfg := cfg.Chaos.Config
	if chaosCfg.MaxDelay, err = parseDuration("feed.chaos.maxDelay", cfg.Chaos.MaxDelay, 0); err != nil {
		return FeedSpec{}, err
	}
	if chaosCfg.ReorderWindow <= 0 {
		chaosCfg.ReorderWindow = 1
	}
	if features.EnableChaos {
		if err := chaosCfg.Validate(); err != nil {
			return FeedSpec{}, fmt.Errorf("feed.chaos: %w", err)
		}
	}
	if mode == engine.ModeLive && cfg.URL == "" {
		return FeedSpec{}, fmt.Errorf("live mode needs feed.url")
	}
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = defaultFeedAPIKeyEnv
	}
	return FeedSpec{
		HTTP: feed.HTTPConfig{
			URL:     cfg.URL,
			APIKey:  os.Getenv(keyEnv),
			Timeout: timeout,
		},
		UpdateInterval: interval,
		Chaos:          chaosCfg,
	}, nil
}

func resolveFeatures(cfg FeatureFlagsConfig) FeatureFlags {
	flags := FeatureFlags{
		EnableRisk:  true,
		EnableChaos: false,
		EnableSink:  false,
	}
	if cfg.EnableRisk != nil {
		flags.EnableRisk = *cfg.EnableRisk
	}
	if cfg.EnableChaos != nil {
		flags.EnableChaos = *cfg.EnableChaos
	}
	if cfg.EnableSink != nil {
		flags.EnableSink = *cfg.EnableSink
	}
	return flags
}
