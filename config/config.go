package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del motor de reconciliación.
type Config struct {
	Chain      ChainConfig      `yaml:"chain"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`
}

// ChainConfig apunta al full node y al signer externo.
type ChainConfig struct {
	APIBase    string `yaml:"api_base"`
	SignerBase string `yaml:"signer_base"`
	Contract   string `yaml:"contract"`
	Escrow     string `yaml:"escrow"` // cuenta escrow del contrato: sus "pujas" son acciones de sistema
}

// ReconcilerConfig controla el loop de polling. Las constantes acopladas a
// supuestos del ledger externo (spacing de payouts, debounce) son campos
// configurables, no literales.
type ReconcilerConfig struct {
	PollIntervalMS     int     `yaml:"poll_interval_ms"`
	ErrorBackoffSecs   int     `yaml:"error_backoff_secs"`
	EndedDebouncePolls int     `yaml:"ended_debounce_polls"`
	RemovedSoakPolls   int     `yaml:"removed_soak_polls"`
	PayoutSpacingMS    int     `yaml:"payout_spacing_ms"`
	HouseCutRate       float64 `yaml:"house_cut_rate"`
	TypeConfigTTLSecs  int     `yaml:"type_config_ttl_secs"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si
// existe. Los valores del .env sobreescriben los del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// PollInterval devuelve el intervalo de polling como time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Reconciler.PollIntervalMS) * time.Millisecond
}

// ErrorBackoff devuelve el backoff tras un ciclo fallido.
func (c *Config) ErrorBackoff() time.Duration {
	return time.Duration(c.Reconciler.ErrorBackoffSecs) * time.Second
}

// PayoutSpacing devuelve el gap mínimo entre submissions de payout.
func (c *Config) PayoutSpacing() time.Duration {
	return time.Duration(c.Reconciler.PayoutSpacingMS) * time.Millisecond
}

// TypeConfigTTL devuelve la vida de la cache de configuración por lane.
func (c *Config) TypeConfigTTL() time.Duration {
	return time.Duration(c.Reconciler.TypeConfigTTLSecs) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHAIN_API_BASE"); v != "" {
		cfg.Chain.APIBase = v
	}
	if v := os.Getenv("CHAIN_SIGNER_BASE"); v != "" {
		cfg.Chain.SignerBase = v
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
	if cfg.Chain.APIBase == "" {
		cfg.Chain.APIBase = "https://api.eosnewyork.io"
	}
	if cfg.Chain.SignerBase == "" {
		cfg.Chain.SignerBase = "http://127.0.0.1:8901"
	}
	if cfg.Chain.Contract == "" {
		cfg.Chain.Contract = "eostimecontr"
	}
	if cfg.Chain.Escrow == "" {
		cfg.Chain.Escrow = cfg.Chain.Contract
	}
	if cfg.Reconciler.PollIntervalMS <= 0 {
		cfg.Reconciler.PollIntervalMS = 250
	}
	if cfg.Reconciler.ErrorBackoffSecs <= 0 {
		cfg.Reconciler.ErrorBackoffSecs = 5
	}
	if cfg.Reconciler.EndedDebouncePolls <= 0 {
		cfg.Reconciler.EndedDebouncePolls = 10
	}
	if cfg.Reconciler.RemovedSoakPolls <= 0 {
		cfg.Reconciler.RemovedSoakPolls = 10
	}
	if cfg.Reconciler.PayoutSpacingMS <= 0 {
		cfg.Reconciler.PayoutSpacingMS = 2000
	}
	if cfg.Reconciler.HouseCutRate <= 0 {
		cfg.Reconciler.HouseCutRate = 0.10
	}
	if cfg.Reconciler.TypeConfigTTLSecs <= 0 {
		cfg.Reconciler.TypeConfigTTLSecs = 30
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "eostime.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
