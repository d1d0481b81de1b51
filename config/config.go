package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/xerrors"
)

// Config is an in memory representation of the statechannel configuration file
type Config struct {
	Coordinator *CoordinatorConfig `toml:"coordinator"`
	Wallet      *WalletConfig      `toml:"wallet"`
	Channel     *ChannelConfig     `toml:"channel"`
	Ledger      *LedgerConfig      `toml:"ledger"`
	Assets      []*AssetConfig     `toml:"assets"`
	Metrics     *MetricsConfig     `toml:"metrics"`
}

// Duration is a time.Duration that reads and writes as a string such as "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// CoordinatorConfig holds the connection options for the off-chain coordinator.
type CoordinatorConfig struct {
	URL            string   `toml:"url"`
	ConnectTimeout Duration `toml:"connectTimeout"`
	RequestTimeout Duration `toml:"requestTimeout"`
}

func newDefaultCoordinatorConfig() *CoordinatorConfig {
	return &CoordinatorConfig{
		ConnectTimeout: Duration(10 * time.Second),
		RequestTimeout: Duration(30 * time.Second),
	}
}

// WalletConfig holds the signing credential. Leaving both fields empty is a
// valid configuration and selects simulation mode.
type WalletConfig struct {
	PrivateKey    string `toml:"privateKey,omitempty"`
	KeystorePath  string `toml:"keystorePath,omitempty"`
	PassphraseEnv string `toml:"passphraseEnv"`
}

func newDefaultWalletConfig() *WalletConfig {
	return &WalletConfig{
		PassphraseEnv: "STATECHANNEL_PASSPHRASE",
	}
}

// HasCredential reports whether any signing credential is configured.
func (w *WalletConfig) HasCredential() bool {
	return w != nil && (w.PrivateKey != "" || w.KeystorePath != "")
}

// ChannelConfig holds the parameters used when opening channels.
type ChannelConfig struct {
	Simulation   bool     `toml:"simulation"`
	DefaultAsset string   `toml:"defaultAsset"`
	Protocol     string   `toml:"protocol"`
	Challenge    uint64   `toml:"challenge"`
	Quorum       uint64   `toml:"quorum"`
	Weights      []uint64 `toml:"weights"`
	ChainID      uint64   `toml:"chainId"`
	Custody      string   `toml:"custody,omitempty"`
	OpenTimeout  Duration `toml:"openTimeout"`
}

func newDefaultChannelConfig() *ChannelConfig {
	return &ChannelConfig{
		DefaultAsset: "usdc",
		Protocol:     "payment-app_v0.2",
		Challenge:    86400,
		Quorum:       100,
		Weights:      []uint64{50, 50},
		OpenTimeout:  Duration(60 * time.Second),
	}
}

// LedgerConfig holds the connection options for the settlement network's
// JSON-RPC endpoint.
type LedgerConfig struct {
	URL             string   `toml:"url"`
	Timeout         Duration `toml:"timeout"`
	DecimalsTTL     Duration `toml:"decimalsTTL"`
	DefaultDecimals uint8    `toml:"defaultDecimals"`
}

func newDefaultLedgerConfig() *LedgerConfig {
	return &LedgerConfig{
		Timeout:         Duration(15 * time.Second),
		DecimalsTTL:     Duration(time.Hour),
		DefaultDecimals: 6,
	}
}

// AssetConfig maps a symbol to a token contract. Decimals, when set, pins the
// precision and skips the ledger query.
type AssetConfig struct {
	Symbol   string `toml:"symbol"`
	Token    string `toml:"token"`
	Decimals *uint8 `toml:"decimals,omitempty"`
}

// MetricsConfig holds all configuration options related to node metrics.
type MetricsConfig struct {
	Enabled            bool     `toml:"enabled"`
	PrometheusEndpoint string   `toml:"prometheusEndpoint"`
	ReportInterval     Duration `toml:"reportInterval"`
}

func newDefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:            false,
		PrometheusEndpoint: "127.0.0.1:9400",
		ReportInterval:     Duration(5 * time.Second),
	}
}

// NewDefaultConfig returns a config object with all the fields filled out to
// their default values
func NewDefaultConfig() *Config {
	return &Config{
		Coordinator: newDefaultCoordinatorConfig(),
		Wallet:      newDefaultWalletConfig(),
		Channel:     newDefaultChannelConfig(),
		Ledger:      newDefaultLedgerConfig(),
		Metrics:     newDefaultMetricsConfig(),
	}
}

// Validate reports every problem in cfg at once.
func (cfg *Config) Validate() error {
	var result *multierror.Error

	if cfg.Coordinator == nil || cfg.Wallet == nil || cfg.Channel == nil || cfg.Ledger == nil || cfg.Metrics == nil {
		return xerrors.New("config is missing a required section")
	}

	if cfg.Coordinator.ConnectTimeout <= 0 {
		result = multierror.Append(result, xerrors.New("coordinator.connectTimeout must be positive"))
	}
	if cfg.Coordinator.RequestTimeout <= 0 {
		result = multierror.Append(result, xerrors.New("coordinator.requestTimeout must be positive"))
	}
	if cfg.Wallet.PrivateKey != "" && cfg.Wallet.KeystorePath != "" {
		result = multierror.Append(result, xerrors.New("wallet.privateKey and wallet.keystorePath are mutually exclusive"))
	}
	if len(cfg.Channel.Weights) != 2 {
		result = multierror.Append(result, xerrors.Errorf("channel.weights must have one entry per participant, got %d", len(cfg.Channel.Weights)))
	}
	if cfg.Channel.Challenge == 0 {
		result = multierror.Append(result, xerrors.New("channel.challenge must be positive"))
	}
	if cfg.Channel.OpenTimeout <= 0 {
		result = multierror.Append(result, xerrors.New("channel.openTimeout must be positive"))
	}
	if cfg.Ledger.Timeout <= 0 {
		result = multierror.Append(result, xerrors.New("ledger.timeout must be positive"))
	}
	if cfg.Ledger.DefaultDecimals > 77 {
		result = multierror.Append(result, xerrors.Errorf("ledger.defaultDecimals %d does not fit a uint256 amount", cfg.Ledger.DefaultDecimals))
	}

	seen := make(map[string]struct{}, len(cfg.Assets))
	for i, a := range cfg.Assets {
		if a == nil || a.Symbol == "" {
			result = multierror.Append(result, xerrors.Errorf("assets.%d: symbol is required", i))
			continue
		}
		sym := strings.ToLower(a.Symbol)
		if _, ok := seen[sym]; ok {
			result = multierror.Append(result, xerrors.Errorf("assets.%d: duplicate symbol %q", i, a.Symbol))
		}
		seen[sym] = struct{}{}
		if a.Token == "" {
			result = multierror.Append(result, xerrors.Errorf("assets.%d: token is required", i))
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.ReportInterval <= 0 {
		result = multierror.Append(result, xerrors.New("metrics.reportInterval must be positive"))
	}

	return result.ErrorOrNil()
}

// WriteFile writes the config to the given filepath.
func (cfg *Config) WriteFile(file string) error {
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	if err := toml.NewEncoder(f).Encode(*cfg); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

// ReadFile reads a config file from disk. Options missing from the file keep
// their defaults.
func ReadFile(file string) (*Config, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close() // nolint: errcheck

	cfg := NewDefaultConfig()
	if _, err := toml.DecodeReader(f, cfg); err != nil {
		return nil, xerrors.Errorf("decoding %s: %w", file, err)
	}

	return cfg, nil
}

// traverseConfig contains the shared traversal logic for getting and setting
// config values.  It uses reflection to find the sub-struct referenced by `key`
// and applies a processing function to the referenced struct
func (cfg *Config) traverseConfig(key string,
	f func(reflect.Value, string) (interface{}, error)) (interface{}, error) {
	v := reflect.Indirect(reflect.ValueOf(cfg))
	keyTags := strings.Split(key, ".")
OUTER:
	for j, keyTag := range keyTags {
		switch v.Type().Kind() {
		case reflect.Struct:
			for i := 0; i < v.NumField(); i++ {
				tomlTag := strings.Split(v.Type().Field(i).Tag.Get("toml"), ",")[0]
				if tomlTag == keyTag {
					v = v.Field(i)
					if j == len(keyTags)-1 {
						return f(v, key)
					}
					v = reflect.Indirect(v)
					continue OUTER
				}
			}
		case reflect.Array, reflect.Slice:
			i64, err := strconv.ParseUint(keyTag, 0, 0)
			if err != nil {
				return nil, xerrors.New("non-integer key into slice")
			}
			i := int(i64)
			if i > v.Len()-1 {
				return nil, xerrors.New("key into slice out of range")
			}
			v = v.Index(i)
			if j == len(keyTags)-1 {
				return f(v, key)
			}
			v = reflect.Indirect(v)
			continue OUTER
		}

		return nil, xerrors.Errorf("key: %s invalid for config", key)
	}
	return nil, xerrors.New("empty key is invalid")
}

// fieldToSet decodes tomlVal into a value of type fieldT. Struct-typed keys
// take a table body, everything else a plain toml value.
func fieldToSet(key string, tomlVal string, fieldT reflect.Type) (reflect.Value, error) {
	ks := strings.Split(key, ".")
	k := ks[len(ks)-1]

	kind := fieldT.Kind()
	if kind == reflect.Ptr {
		kind = fieldT.Elem().Kind()
	}
	var doc string
	if kind == reflect.Struct && !strings.HasPrefix(strings.TrimSpace(tomlVal), "{") {
		doc = fmt.Sprintf("[%s]\n%s", k, tomlVal)
	} else {
		doc = fmt.Sprintf("%s=%s", k, tomlVal)
	}

	recvT := reflect.StructOf([]reflect.StructField{{
		Name: "Field",
		Type: fieldT,
		Tag:  reflect.StructTag(`toml:"` + k + `"`),
	}})
	valToRecv := reflect.New(recvT)

	if _, err := toml.Decode(doc, valToRecv.Interface()); err != nil {
		return valToRecv, xerrors.Errorf("input could not be marshaled to sub-config at %s: %w", key, err)
	}
	return valToRecv.Elem().Field(0), nil
}

// Set sets the config value referenced by `key`, e.g. 'coordinator.url', to
// the toml value encoded in tomlVal.
func (cfg *Config) Set(key string, tomlVal string) (interface{}, error) {
	f := func(v reflect.Value, key string) (interface{}, error) {
		setT := v.Type()
		recvT := setT
		if setT.Kind() == reflect.Ptr {
			recvT = setT.Elem()
		}

		valToSet, err := fieldToSet(key, tomlVal, recvT)
		if err != nil {
			return nil, err
		}
		if setT.Kind() == reflect.Ptr {
			ptr := reflect.New(recvT)
			ptr.Elem().Set(valToSet)
			valToSet = ptr
		}

		v.Set(valToSet)
		return v.Interface(), nil
	}

	return cfg.traverseConfig(key, f)
}

// Get gets the config value referenced by `key`, e.g. 'ledger.timeout'.
func (cfg *Config) Get(key string) (interface{}, error) {
	f := func(v reflect.Value, key string) (interface{}, error) {
		return v.Interface(), nil
	}

	return cfg.traverseConfig(key, f)
}
