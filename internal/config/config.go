// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"optionbot-go/internal/signal"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	HealthAddr  string `yaml:"health_addr"`
	LogLevel    string `yaml:"log_level"`
	Timezone    string `yaml:"timezone"`
}

// Instrument names one (segment, security id) pair the feed should stream.
type Instrument struct {
	Segment    string `yaml:"segment" validate:"required"`
	SecurityID string `yaml:"security_id" validate:"required"`
}

// Exchange describes the market data feed the engine consumes.
type Exchange struct {
	Provider     string       `yaml:"provider"`
	WebsocketURL string       `yaml:"ws_url"`
	Instruments  []Instrument `yaml:"instruments" validate:"dive"`
	PollInterval int          `yaml:"poll_interval_ms" validate:"gte=0"`
}

// Scanner controls the background polling loop.
type Scanner struct {
	IntervalMs int `yaml:"interval_ms" validate:"gte=0"`
}

// Bias tunes the multi-timeframe bias engine.
type Bias struct {
	HTFInterval       string  `yaml:"htf_interval"`
	MTFInterval       string  `yaml:"mtf_interval"`
	LTFInterval       string  `yaml:"ltf_interval"`
	RequireCHoCH      bool    `yaml:"require_choch"`
	PremiumThreshold  float64 `yaml:"premium_threshold" validate:"gte=0,lte=1"`
	DiscountThreshold float64 `yaml:"discount_threshold" validate:"gte=0,lte=1"`
	PivotLeft         int     `yaml:"pivot_left" validate:"gte=0"`
	PivotRight        int     `yaml:"pivot_right" validate:"gte=0"`
	Lookback          int     `yaml:"lookback" validate:"gte=0"`
}

// StrategyParams groups tunable knobs for a strategy implementation.
type StrategyParams struct {
	MinRSI      float64 `yaml:"min_rsi" validate:"gte=0,lte=100"`
	WindowStart string  `yaml:"window_start"`
	WindowEnd   string  `yaml:"window_end"`
}

// Strategy enables one strategy by name along with its parameter bundle.
type Strategy struct {
	Name       string         `yaml:"name" validate:"required"`
	Enabled    *bool          `yaml:"enabled"`
	Multiplier int            `yaml:"multiplier"`
	Params     StrategyParams `yaml:"params"`
}

// IsEnabled treats an omitted enabled flag as on.
func (s Strategy) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// Index describes one tradeable index and its option instruments.
type Index struct {
	Key        string                            `yaml:"key" validate:"required"`
	Segment    string                            `yaml:"segment"`
	SecurityID string                            `yaml:"sid"`
	LotSize    int                               `yaml:"lot_size" validate:"gte=0"`
	Options    map[string]any                    `yaml:"options"`
	Candidates map[string]signal.OptionCandidate `yaml:"candidates"`
}

// Raw renders the index as the loose mapping signal.NormalizeIndex accepts.
func (ix Index) Raw() map[string]any {
	return map[string]any{
		"key":      ix.Key,
		"segment":  ix.Segment,
		"sid":      ix.SecurityID,
		"lot_size": ix.LotSize,
		"options":  ix.Options,
	}
}

// Candidate returns the configured option override for a direction, if any.
func (ix Index) Candidate(dir signal.Direction) *signal.OptionCandidate {
	for k, c := range ix.Candidates {
		if signal.ParseDirection(k) == dir && c.SecurityID != "" {
			cc := c
			return &cc
		}
	}
	return nil
}

// IndexFloor overrides the drawdown floor for a single index.
type IndexFloor struct {
	Index    string  `yaml:"index" validate:"required"`
	FloorPct float64 `yaml:"floor_pct" validate:"gte=0"`
}

// Drawdown parameterizes the upward profit-drawdown curve.
type Drawdown struct {
	ProfitMin    float64      `yaml:"profit_min" validate:"gte=0"`
	ProfitMax    float64      `yaml:"profit_max" validate:"gtfield=ProfitMin"`
	DDStartPct   float64      `yaml:"dd_start_pct" validate:"gte=0"`
	DDEndPct     float64      `yaml:"dd_end_pct" validate:"gte=0"`
	ExponentialK float64      `yaml:"exponential_k" validate:"gt=0"`
	IndexFloors  []IndexFloor `yaml:"index_floors" validate:"dive"`
}

// ATRPenalty tightens the reverse stop when volatility is at or under Threshold.
type ATRPenalty struct {
	Threshold  float64 `yaml:"threshold" validate:"gte=0"`
	PenaltyPct float64 `yaml:"penalty_pct" validate:"gte=0"`
}

// ReverseLoss parameterizes the stop applied while a position trades below entry.
type ReverseLoss struct {
	Enabled              *bool        `yaml:"enabled"`
	MaxLossPct           float64      `yaml:"max_loss_pct" validate:"gtfield=MinLossPct"`
	MinLossPct           float64      `yaml:"min_loss_pct" validate:"gte=0"`
	LossSpanPct          float64      `yaml:"loss_span_pct" validate:"gt=0"`
	TimeTightenPerMin    float64      `yaml:"time_tighten_per_min" validate:"gte=0"`
	ATRPenaltyThresholds []ATRPenalty `yaml:"atr_penalty_thresholds" validate:"dive"`
}

// IsEnabled treats an omitted enabled flag as on.
func (r ReverseLoss) IsEnabled() bool { return r.Enabled == nil || *r.Enabled }

// Risk encodes the stop and drawdown curves applied to live positions.
type Risk struct {
	Drawdown      Drawdown    `yaml:"drawdown"`
	ReverseLoss   ReverseLoss `yaml:"reverse_loss"`
	StopLossPct   float64     `yaml:"stop_loss_pct" validate:"gte=0"`
	TakeProfitPct float64     `yaml:"take_profit_pct" validate:"gte=0"`
}

// Eligibility holds the thresholds of the order gate.
type Eligibility struct {
	SessionStart         string `yaml:"session_start"`
	SessionEnd           string `yaml:"session_end"`
	MaxDailyTradesPerIdx int    `yaml:"max_daily_trades_per_index" validate:"gte=0"`
	MaxSameSidePositions int    `yaml:"max_same_side_positions" validate:"gte=0"`
	CooldownSeconds      int    `yaml:"cooldown_seconds" validate:"gte=0"`
	MaxExpiryDays        int    `yaml:"max_expiry_days" validate:"gte=0"`
}

// Paper captures paper-trading account settings.
type Paper struct {
	StartingCash float64 `yaml:"starting_cash" validate:"gte=0"`
	FillsPath    string  `yaml:"fills_path"`
}

// Notify configures outbound decision alerts.
type Notify struct {
	WebhookURL string `yaml:"webhook_url" validate:"omitempty,url"`
	Buffer     int    `yaml:"buffer" validate:"gte=0"`
}

// Position configures position persistence.
type Position struct {
	JournalPath string `yaml:"journal_path"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App         App         `yaml:"app"`
	Exchange    Exchange    `yaml:"exchange"`
	Scanner     Scanner     `yaml:"scanner"`
	Bias        Bias        `yaml:"bias"`
	Strategies  []Strategy  `yaml:"strategies" validate:"dive"`
	Indices     []Index     `yaml:"indices" validate:"dive"`
	Risk        Risk        `yaml:"risk"`
	Eligibility Eligibility `yaml:"eligibility"`
	Paper       Paper       `yaml:"paper"`
	Notify      Notify      `yaml:"notify"`
	Position    Position    `yaml:"position"`
}

var validate = validator.New()

// Load reads a YAML file from disk, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks struct constraints after defaults have been applied.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Indices))
	for _, ix := range c.Indices {
		key := strings.ToUpper(ix.Key)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("validate config: duplicate index %q", ix.Key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// FloorFor returns the drawdown floor configured for an index, or DDEndPct.
func (d Drawdown) FloorFor(indexKey string) float64 {
	for _, f := range d.IndexFloors {
		if strings.EqualFold(f.Index, indexKey) {
			return f.FloorPct
		}
	}
	return d.DDEndPct
}
