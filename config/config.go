package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del autotrader.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Trading   TradingConfig   `yaml:"trading"`
	Risk      RiskConfig      `yaml:"risk"`
	Positions PositionsConfig `yaml:"positions"`
	Model     ModelConfig     `yaml:"model"`
	API       APIConfig       `yaml:"api"`
	Feed      FeedConfig      `yaml:"feed"`
	Paths     PathsConfig     `yaml:"paths"`
	Log       LogConfig       `yaml:"log"`
}

// EngineConfig controla el loop de trading.
type EngineConfig struct {
	CycleSeconds      int  `yaml:"cycle_seconds"`
	MaxWorkers        int  `yaml:"max_workers"`         // fan-out de I/O por ciclo, ≤8
	ExpiryWindowHours int  `yaml:"expiry_window_hours"` // contratos con expiry dentro de N horas
	DryRun            bool `yaml:"dry_run"`
}

// TradingConfig controla el evaluador de edge y el sizing.
type TradingConfig struct {
	Assets             []string `yaml:"assets"`
	MinEdge            float64  `yaml:"min_edge"`              // fracción, ej. 0.10
	MinRiskReward      float64  `yaml:"min_risk_reward"`       // piso de payoff/pérdida
	KellyFraction      float64  `yaml:"kelly_fraction"`        // multiplicador fraccional de Kelly
	MaxTradeFraction   float64  `yaml:"max_trade_fraction"`    // tope de bankroll por trade
	MinPriceCents      int      `yaml:"min_price_cents"`       // límite inferior del ask operable
	MaxPriceCents      int      `yaml:"max_price_cents"`       // límite superior del ask operable
	MinMinutesToExpiry float64  `yaml:"min_minutes_to_expiry"` // evita mercados a punto de expirar
}

// RiskConfig controla el risk governor.
type RiskConfig struct {
	DailyLossCapCents    int     `yaml:"daily_loss_cap_cents"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
	CooldownHours        float64 `yaml:"cooldown_hours"`
	DailyTradeCap        int     `yaml:"daily_trade_cap"`
	CycleTradeCap        int     `yaml:"cycle_trade_cap"`
	CategoryCapCents     int     `yaml:"category_cap_cents"` // exposición por asset+hora de expiry
}

// PositionsConfig controla stops y salidas.
type PositionsConfig struct {
	StopLossPct        float64 `yaml:"stop_loss_pct"`        // pérdida desde entrada, ej. 0.40
	TrailActivationPct float64 `yaml:"trail_activation_pct"` // ganancia que activa el trailing, ej. 0.30
	TrailGapCents      int     `yaml:"trail_gap_cents"`
	MaxHoldingMinutes  float64 `yaml:"max_holding_minutes"`
}

// ModelConfig contiene la volatilidad horaria por asset.
type ModelConfig struct {
	SigmaHourly map[string]float64 `yaml:"sigma_hourly"` // asset → σ log-return por hora
}

// APIConfig configura el acceso firmado al exchange.
type APIConfig struct {
	BaseURL        string `yaml:"base_url"`
	KeyID          string `yaml:"key_id"`           // normalmente via env
	PrivateKeyPEM  string `yaml:"-"`                // solo via env, nunca YAML
	PrivateKeyPath string `yaml:"private_key_path"` // alternativa: archivo PEM
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// FeedConfig configura la fuente pública de spot/OHLC.
type FeedConfig struct {
	BaseURL string `yaml:"base_url"` // vacío = producción de Binance
}

// PathsConfig controla dónde se persisten logs, estado y reportes.
type PathsConfig struct {
	DataDir    string `yaml:"data_dir"`    // raíz data/trading
	OHLCDir    string `yaml:"ohlc_dir"`    // data/ohlc
	ReportsDir string `yaml:"reports_dir"` // data/trading/reports
	AlertsDir  string `yaml:"alerts_dir"`  // archivos .alert
	LedgerDSN  string `yaml:"ledger_dsn"`  // SQLite de la vista derivada, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CycleInterval devuelve el intervalo del ciclo como time.Duration.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Engine.CycleSeconds) * time.Second
}

// Cooldown devuelve la duración del cooldown del circuit breaker.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Risk.CooldownHours * float64(time.Hour))
}

// APITimeout devuelve el deadline duro de cada llamada HTTP.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// Sigma devuelve la σ horaria configurada para un asset (0 si no hay).
func (c *Config) Sigma(asset string) float64 {
	return c.Model.SigmaHourly[asset]
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KALSHI_API_KEY_ID"); v != "" {
		cfg.API.KeyID = v
	}
	if v := os.Getenv("KALSHI_PRIVATE_KEY"); v != "" {
		cfg.API.PrivateKeyPEM = v
	}
	if v := os.Getenv("KALSHI_PRIVATE_KEY_PATH"); v != "" {
		cfg.API.PrivateKeyPath = v
	}
	if v := envFloat("SIGMA_BTC"); v > 0 {
		ensureSigma(cfg)
		cfg.Model.SigmaHourly["BTC"] = v
	}
	if v := envFloat("SIGMA_ETH"); v > 0 {
		ensureSigma(cfg)
		cfg.Model.SigmaHourly["ETH"] = v
	}
	if v := envFloat("MIN_EDGE"); v > 0 {
		cfg.Trading.MinEdge = v
	}
	if v := envFloat("KELLY_FRACTION"); v > 0 {
		cfg.Trading.KellyFraction = v
	}
	if v := envFloat("MAX_TRADE_FRACTION"); v > 0 {
		cfg.Trading.MaxTradeFraction = v
	}
	if v := envInt("DAILY_LOSS_CAP_CENTS"); v > 0 {
		cfg.Risk.DailyLossCapCents = v
	}
	if v := envInt("MAX_CONSECUTIVE_LOSSES"); v > 0 {
		cfg.Risk.MaxConsecutiveLosses = v
	}
	if v := envFloat("COOLDOWN_HOURS"); v > 0 {
		cfg.Risk.CooldownHours = v
	}
	if v := envInt("DAILY_TRADE_CAP"); v > 0 {
		cfg.Risk.DailyTradeCap = v
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		cfg.Engine.DryRun = v == "1" || v == "true"
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Engine.CycleSeconds <= 0 {
		cfg.Engine.CycleSeconds = 30
	}
	if cfg.Engine.MaxWorkers <= 0 || cfg.Engine.MaxWorkers > 8 {
		cfg.Engine.MaxWorkers = 8
	}
	if cfg.Engine.ExpiryWindowHours <= 0 {
		cfg.Engine.ExpiryWindowHours = 2
	}
	if len(cfg.Trading.Assets) == 0 {
		cfg.Trading.Assets = []string{"BTC", "ETH"}
	}
	if cfg.Trading.MinEdge <= 0 {
		cfg.Trading.MinEdge = 0.10
	}
	if cfg.Trading.MinRiskReward <= 0 {
		cfg.Trading.MinRiskReward = 0.5
	}
	if cfg.Trading.KellyFraction <= 0 {
		cfg.Trading.KellyFraction = 0.25
	}
	if cfg.Trading.MaxTradeFraction <= 0 {
		cfg.Trading.MaxTradeFraction = 0.05
	}
	if cfg.Trading.MinPriceCents <= 0 {
		cfg.Trading.MinPriceCents = 5
	}
	if cfg.Trading.MaxPriceCents <= 0 {
		cfg.Trading.MaxPriceCents = 95
	}
	if cfg.Trading.MinMinutesToExpiry <= 0 {
		cfg.Trading.MinMinutesToExpiry = 5
	}
	if cfg.Risk.DailyLossCapCents <= 0 {
		cfg.Risk.DailyLossCapCents = 5000 // $50
	}
	if cfg.Risk.MaxConsecutiveLosses <= 0 {
		cfg.Risk.MaxConsecutiveLosses = 5
	}
	if cfg.Risk.CooldownHours <= 0 {
		cfg.Risk.CooldownHours = 4
	}
	if cfg.Risk.DailyTradeCap <= 0 {
		cfg.Risk.DailyTradeCap = 50
	}
	if cfg.Risk.CycleTradeCap <= 0 {
		cfg.Risk.CycleTradeCap = 3
	}
	if cfg.Risk.CategoryCapCents <= 0 {
		cfg.Risk.CategoryCapCents = 2000 // $20 por asset+hora
	}
	if cfg.Positions.StopLossPct <= 0 {
		cfg.Positions.StopLossPct = 0.40
	}
	if cfg.Positions.TrailActivationPct <= 0 {
		cfg.Positions.TrailActivationPct = 0.30
	}
	if cfg.Positions.TrailGapCents <= 0 {
		cfg.Positions.TrailGapCents = 5
	}
	if cfg.Positions.MaxHoldingMinutes <= 0 {
		cfg.Positions.MaxHoldingMinutes = 45
	}
	ensureSigma(cfg)
	if cfg.Model.SigmaHourly["BTC"] <= 0 {
		cfg.Model.SigmaHourly["BTC"] = 0.005
	}
	if cfg.Model.SigmaHourly["ETH"] <= 0 {
		cfg.Model.SigmaHourly["ETH"] = 0.007
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "https://api.elections.kalshi.com/trade-api/v2"
	}
	if cfg.API.TimeoutSeconds <= 0 {
		cfg.API.TimeoutSeconds = 30
	}
	if cfg.Paths.DataDir == "" {
		cfg.Paths.DataDir = "data/trading"
	}
	if cfg.Paths.OHLCDir == "" {
		cfg.Paths.OHLCDir = "data/ohlc"
	}
	if cfg.Paths.ReportsDir == "" {
		cfg.Paths.ReportsDir = cfg.Paths.DataDir + "/reports"
	}
	if cfg.Paths.AlertsDir == "" {
		cfg.Paths.AlertsDir = cfg.Paths.DataDir + "/alerts"
	}
	if cfg.Paths.LedgerDSN == "" {
		cfg.Paths.LedgerDSN = cfg.Paths.DataDir + "/ledger.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// validate rechaza configuraciones incoherentes antes de arrancar el loop.
func validate(cfg *Config) error {
	if cfg.Trading.MinPriceCents >= cfg.Trading.MaxPriceCents {
		return fmt.Errorf("config: min_price_cents (%d) debe ser < max_price_cents (%d)",
			cfg.Trading.MinPriceCents, cfg.Trading.MaxPriceCents)
	}
	if cfg.Trading.MaxTradeFraction > 1 {
		return fmt.Errorf("config: max_trade_fraction %.2f > 1", cfg.Trading.MaxTradeFraction)
	}
	for asset, sigma := range cfg.Model.SigmaHourly {
		if sigma <= 0 {
			return fmt.Errorf("config: sigma_hourly[%s] debe ser positiva", asset)
		}
	}
	return nil
}

func ensureSigma(cfg *Config) {
	if cfg.Model.SigmaHourly == nil {
		cfg.Model.SigmaHourly = map[string]float64{}
	}
}

func envFloat(key string) float64 {
	v, _ := strconv.ParseFloat(os.Getenv(key), 64)
	return v
}

func envInt(key string) int {
	v, _ := strconv.Atoi(os.Getenv(key))
	return v
}
