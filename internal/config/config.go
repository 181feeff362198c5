package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"autodelta/internal/model"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
	Limits   LimitsConfig   `yaml:"limits"`
	Timing   TimingConfig   `yaml:"timing"`
	Targets  TargetsConfig  `yaml:"targets"`
	Recovery RecoveryConfig `yaml:"recovery"`
	Market   MarketConfig   `yaml:"market"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Device   DeviceConfig   `yaml:"device"`
	Rounds   RoundsConfig   `yaml:"rounds"`
	Notify   NotifyConfig   `yaml:"notify"`
}

type ServerConfig struct {
	Addr string     `yaml:"addr"`
	Cors CorsConfig `yaml:"cors"`
}

type CorsConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlitePath"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
	Buffer  int    `yaml:"buffer"`
}

type LimitsConfig struct {
	// TouchQPS paces writes on the touch channel. Zero disables pacing.
	TouchQPS   float64 `yaml:"touchQPS"`
	TouchBurst int     `yaml:"touchBurst"`
}

type TimingConfig struct {
	PollIntervalMs       int  `yaml:"pollIntervalMs"`
	DefaultTimeoutMs     int  `yaml:"defaultTimeoutMs"`
	LongPressTimeoutMs   int  `yaml:"longPressTimeoutMs"`
	AdPauseIntervals     int  `yaml:"adPauseIntervals"`
	ConfirmClick         bool `yaml:"confirmClick"`
	MultitouchDurationMs int  `yaml:"multitouchDurationMs"`
	MultitouchSubDelayMs int  `yaml:"multitouchSubDelayMs"`
	TapHoldMs            int  `yaml:"tapHoldMs"`
}

func (c TimingConfig) PollInterval() time.Duration {
	if c.PollIntervalMs <= 0 {
		return 50 * time.Millisecond
	}
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c TimingConfig) DefaultTimeout() time.Duration {
	if c.DefaultTimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.DefaultTimeoutMs) * time.Millisecond
}

func (c TimingConfig) LongPressTimeout() time.Duration {
	if c.LongPressTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.LongPressTimeoutMs) * time.Millisecond
}

func (c TimingConfig) MultitouchDuration() time.Duration {
	if c.MultitouchDurationMs <= 0 {
		return time.Second
	}
	return time.Duration(c.MultitouchDurationMs) * time.Millisecond
}

func (c TimingConfig) MultitouchSubDelay() time.Duration {
	if c.MultitouchSubDelayMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.MultitouchSubDelayMs) * time.Millisecond
}

func (c TimingConfig) TapHold() time.Duration {
	if c.TapHoldMs <= 0 {
		return 50 * time.Millisecond
	}
	return time.Duration(c.TapHoldMs) * time.Millisecond
}

// TargetsConfig names the registry entries the core relies on. The names must
// exist in the perception bridge's registry.
type TargetsConfig struct {
	Ad           string `yaml:"ad"`
	Popup        string `yaml:"popup"`
	Reconnect    string `yaml:"reconnect"`
	StartGame    string `yaml:"startGame"`
	CancelRejoin string `yaml:"cancelRejoin"`
	AbandonMatch string `yaml:"abandonMatch"`
	Staging      string `yaml:"staging"`
	Pass         string `yaml:"pass"`
	Back         string `yaml:"back"`
	Market       string `yaml:"market"`
	Sell         string `yaml:"sell"`
	Tidy         string `yaml:"tidy"`
	ConfirmTidy  string `yaml:"confirmTidy"`
	Cancel       string `yaml:"cancel"`
	List         string `yaml:"list"`
}

type RecoveryConfig struct {
	PollIntervalMs int  `yaml:"pollIntervalMs"`
	SettleMs       int  `yaml:"settleMs"`
	RestartDelayMs int  `yaml:"restartDelayMs"`
	StageTimeoutMs int  `yaml:"stageTimeoutMs"`
	DismissPass    bool `yaml:"dismissPass"`
}

func (c RecoveryConfig) PollInterval() time.Duration {
	if c.PollIntervalMs <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c RecoveryConfig) Settle() time.Duration {
	if c.SettleMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.SettleMs) * time.Millisecond
}

func (c RecoveryConfig) RestartDelay() time.Duration {
	if c.RestartDelayMs < 0 {
		return 0
	}
	return time.Duration(c.RestartDelayMs) * time.Millisecond
}

// StageTimeout bounds each polling stage. Zero means unbounded.
func (c RecoveryConfig) StageTimeout() time.Duration {
	if c.StageTimeoutMs <= 0 {
		return 0
	}
	return time.Duration(c.StageTimeoutMs) * time.Millisecond
}

type MarketConfig struct {
	ProbeLot         int `yaml:"probeLot"`
	BatchLot         int `yaml:"batchLot"`
	FailureThreshold int `yaml:"failureThreshold"`

	ProbeButton   model.Point `yaml:"probeButton"`
	BatchButton   model.Point `yaml:"batchButton"`
	ConfirmButton model.Point `yaml:"confirmButton"`
	CoinWidget    model.Point `yaml:"coinWidget"`
	NeutralPoint  model.Point `yaml:"neutralPoint"`

	CoinRegion  model.Region `yaml:"coinRegion"`
	PriceRegion model.Region `yaml:"priceRegion"`
	CountRegion model.Region `yaml:"countRegion"`

	CategoryOrigin model.Point `yaml:"categoryOrigin"`
	CategoryStep   int         `yaml:"categoryStep"`
	Categories     int         `yaml:"categories"`
	ScrollFrom     model.Point `yaml:"scrollFrom"`
	ScrollTo       model.Point `yaml:"scrollTo"`

	SliderLeft  int `yaml:"sliderLeft"`
	SliderRight int `yaml:"sliderRight"`
	SliderY     int `yaml:"sliderY"`
	NudgeOffset int `yaml:"nudgeOffset"`

	SettleMs  int `yaml:"settleMs"`
	ConfirmMs int `yaml:"confirmMs"`
}

func (c MarketConfig) Settle() time.Duration {
	if c.SettleMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.SettleMs) * time.Millisecond
}

func (c MarketConfig) Confirm() time.Duration {
	if c.ConfirmMs <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(c.ConfirmMs) * time.Millisecond
}

type BridgeConfig struct {
	VisionURL string         `yaml:"visionURL"`
	TouchURL  string         `yaml:"touchURL"`
	TimeoutMs int            `yaml:"timeoutMs"`
	Retry     BridgeRetryCfg `yaml:"retry"`
}

type BridgeRetryCfg struct {
	Count     int `yaml:"count"`
	WaitMs    int `yaml:"waitMs"`
	MaxWaitMs int `yaml:"maxWaitMs"`
}

func (c BridgeConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c BridgeRetryCfg) Wait() time.Duration {
	if c.WaitMs <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(c.WaitMs) * time.Millisecond
}

func (c BridgeRetryCfg) MaxWait() time.Duration {
	if c.MaxWaitMs <= 0 {
		return 800 * time.Millisecond
	}
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}

type DeviceConfig struct {
	Serial           string `yaml:"serial"`
	ADBPath          string `yaml:"adbPath"`
	Package          string `yaml:"package"`
	Activity         string `yaml:"activity"`
	CommandTimeoutMs int    `yaml:"commandTimeoutMs"`
}

func (c DeviceConfig) CommandTimeout() time.Duration {
	if c.CommandTimeoutMs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.CommandTimeoutMs) * time.Millisecond
}

type RoundsConfig struct {
	// Count is the number of rounds to run; zero runs until stopped.
	Count        int          `yaml:"count"`
	RetryDelayMs int          `yaml:"retryDelayMs"`
	Steps        []StepConfig `yaml:"steps"`
}

func (c RoundsConfig) RetryDelay() time.Duration {
	if c.RetryDelayMs <= 0 {
		return time.Second
	}
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// StepConfig is one line of the round script. Which fields apply depends on Kind.
type StepConfig struct {
	Kind      string      `yaml:"kind"`
	Target    string      `yaml:"target,omitempty"`
	Next      string      `yaml:"next,omitempty"`
	Point     model.Point `yaml:"point,omitempty"`
	Sub       model.Point `yaml:"sub,omitempty"`
	TimeoutMs int         `yaml:"timeoutMs,omitempty"`
	DelayMs   int         `yaml:"delayMs,omitempty"`
	Ad        bool        `yaml:"ad,omitempty"`
	Enabled   bool        `yaml:"enabled,omitempty"`
	Optional  bool        `yaml:"optional,omitempty"`
	Repeat    int         `yaml:"repeat,omitempty"`

	Item               string `yaml:"item,omitempty"`
	StockItem          string `yaml:"stockItem,omitempty"`
	TargetPrice        int    `yaml:"targetPrice,omitempty"`
	MaxAcceptablePrice int    `yaml:"maxAcceptablePrice,omitempty"`
	GoalCount          int    `yaml:"goalCount,omitempty"`
	Quantity           int    `yaml:"quantity,omitempty"`
}

func (s StepConfig) Timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// TimeoutOr is the step timeout, or def when the step leaves it unset.
func (s StepConfig) TimeoutOr(def time.Duration) time.Duration {
	if s.TimeoutMs <= 0 {
		return def
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

func (s StepConfig) Delay() time.Duration {
	if s.DelayMs <= 0 {
		return 0
	}
	return time.Duration(s.DelayMs) * time.Millisecond
}

// NotifyConfig tunes outgoing mail. Without SMTPHost the server is derived
// from the recipient's domain. From is the sender display name.
type NotifyConfig struct {
	SMTPHost        string `yaml:"smtpHost"`
	SMTPPort        int    `yaml:"smtpPort"`
	From            string `yaml:"from"`
	SummaryWindowMs int    `yaml:"summaryWindowMs"`
}

func (c NotifyConfig) SummaryWindow() time.Duration {
	if c.SummaryWindowMs < 0 {
		return 0
	}
	if c.SummaryWindowMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.SummaryWindowMs) * time.Millisecond
}

var stepKinds = map[string]bool{
	"click":      true,
	"step":       true,
	"waitFor":    true,
	"longPress":  true,
	"multitouch": true,
	"tap":        true,
	"sleep":      true,
	"restart":    true,
	"wifi":       true,
	"buy":        true,
	"sell":       true,
}

// Load reads an optional .env next to the process, then the YAML file, then
// applies environment overrides and defaults.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

func Parse(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("AUTODELTA_DEVICE_SERIAL")); v != "" {
		c.Device.Serial = v
	}
	if v := strings.TrimSpace(os.Getenv("AUTODELTA_VISION_URL")); v != "" {
		c.Bridge.VisionURL = v
	}
	if v := strings.TrimSpace(os.Getenv("AUTODELTA_TOUCH_URL")); v != "" {
		c.Bridge.TouchURL = v
	}
	if v := strings.TrimSpace(os.Getenv("AUTODELTA_SMTP_FROM")); v != "" {
		c.Notify.From = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8091"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "./data/autodelta.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Buffer <= 0 {
		c.Log.Buffer = 500
	}
	if c.Limits.TouchBurst <= 0 {
		c.Limits.TouchBurst = 4
	}
	if c.Timing.AdPauseIntervals <= 0 {
		c.Timing.AdPauseIntervals = 2
	}

	t := &c.Targets
	setDefault(&t.Ad, "广告")
	setDefault(&t.Popup, "确认重连")
	setDefault(&t.Reconnect, "重连入局")
	setDefault(&t.StartGame, "开始游戏")
	setDefault(&t.CancelRejoin, "取消重连")
	setDefault(&t.AbandonMatch, "放弃对局")
	setDefault(&t.Staging, "行前备战")
	setDefault(&t.Pass, "通行证")
	setDefault(&t.Back, "返回")
	setDefault(&t.Market, "交易行")
	setDefault(&t.Sell, "出售")
	setDefault(&t.Tidy, "整理")
	setDefault(&t.ConfirmTidy, "确认整理")
	setDefault(&t.Cancel, "取消")
	setDefault(&t.List, "上架2")

	m := &c.Market
	if m.ProbeLot <= 0 {
		m.ProbeLot = 31
	}
	if m.BatchLot <= 0 {
		m.BatchLot = 200
	}
	if m.FailureThreshold <= 0 {
		m.FailureThreshold = 5
	}
	if m.ProbeButton.IsZero() {
		m.ProbeButton = model.Point{X: 2036, Y: 810}
	}
	if m.BatchButton.IsZero() {
		m.BatchButton = model.Point{X: 2350, Y: 810}
	}
	if m.ConfirmButton.IsZero() {
		m.ConfirmButton = model.Point{X: 2196, Y: 950}
	}
	if m.CoinWidget.IsZero() {
		m.CoinWidget = model.Point{X: 2230, Y: 50}
	}
	if m.NeutralPoint.IsZero() {
		m.NeutralPoint = model.Point{X: 2230, Y: 400}
	}
	if m.CoinRegion.Empty() {
		m.CoinRegion = model.Region{X1: 2002, Y1: 133, X2: 2295, Y2: 174}
	}
	if m.PriceRegion.Empty() {
		m.PriceRegion = model.Region{X1: 2029, Y1: 913, X2: 2310, Y2: 984}
	}
	if m.CountRegion.Empty() {
		m.CountRegion = model.Region{X1: 1708, Y1: 564, X2: 2025, Y2: 611}
	}
	if m.CategoryOrigin.IsZero() {
		m.CategoryOrigin = model.Point{X: 2460, Y: 680}
	}
	if m.CategoryStep <= 0 {
		m.CategoryStep = 130
	}
	if m.Categories <= 0 {
		m.Categories = 4
	}
	if m.ScrollFrom.IsZero() {
		m.ScrollFrom = model.Point{X: 1900, Y: 950}
	}
	if m.ScrollTo.IsZero() {
		m.ScrollTo = model.Point{X: 1900, Y: 650}
	}
	if m.SliderLeft <= 0 {
		m.SliderLeft = 1685
	}
	if m.SliderRight <= 0 {
		m.SliderRight = 2150
	}
	if m.SliderY <= 0 {
		m.SliderY = 650
	}
	if m.NudgeOffset <= 0 {
		m.NudgeOffset = 60
	}

	if c.Bridge.VisionURL == "" {
		c.Bridge.VisionURL = "http://127.0.0.1:8765"
	}
	if c.Bridge.TouchURL == "" {
		c.Bridge.TouchURL = "ws://127.0.0.1:8765/touch"
	}
	if c.Bridge.Retry.Count < 0 {
		c.Bridge.Retry.Count = 0
	}
	if c.Device.ADBPath == "" {
		c.Device.ADBPath = "adb"
	}
	if c.Device.Package == "" {
		c.Device.Package = "com.tencent.tmgp.dfm"
	}
	if c.Device.Activity == "" {
		c.Device.Activity = "com.epicgames.ue4.SplashActivity"
	}
	if c.Notify.SMTPHost != "" && c.Notify.SMTPPort <= 0 {
		c.Notify.SMTPPort = 465
	}
	if c.Notify.From == "" {
		c.Notify.From = "autodelta"
	}
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Market.ProbeLot >= c.Market.BatchLot {
		return fmt.Errorf("market.probeLot (%d) must be smaller than market.batchLot (%d)", c.Market.ProbeLot, c.Market.BatchLot)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug/info/warn/error", c.Log.Level)
	}
	for i, s := range c.Rounds.Steps {
		if !stepKinds[s.Kind] {
			return fmt.Errorf("rounds.steps[%d]: unknown kind %q", i, s.Kind)
		}
		switch s.Kind {
		case "click", "waitFor":
			if s.Target == "" {
				return fmt.Errorf("rounds.steps[%d]: %s needs target", i, s.Kind)
			}
		case "step":
			if s.Target == "" || s.Next == "" {
				return fmt.Errorf("rounds.steps[%d]: step needs target and next", i)
			}
		case "buy":
			if s.Item == "" || s.GoalCount <= 0 {
				return fmt.Errorf("rounds.steps[%d]: buy needs item and goalCount", i)
			}
			if s.TargetPrice <= 0 || s.MaxAcceptablePrice < s.TargetPrice {
				return fmt.Errorf("rounds.steps[%d]: buy needs 0 < targetPrice <= maxAcceptablePrice", i)
			}
		case "sell":
			if s.Item == "" || s.Quantity <= 0 {
				return fmt.Errorf("rounds.steps[%d]: sell needs item and quantity", i)
			}
		}
	}
	return nil
}

func setDefault(dst *string, v string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = v
	}
}
