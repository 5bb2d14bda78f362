package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "papertrade"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if len(cfg.Instruments) == 0 {
		cfg.Instruments = DefaultInstruments()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DefaultInstruments 返回终端默认的品种清单。
// 外汇类品种按惯例保留4位小数，其余保留2位。
func DefaultInstruments() []InstrumentConfig {
	return []InstrumentConfig{
		{Symbol: "BTCUSDT", Name: "Bitcoin", Type: "Crypto", StartPrice: 65420.50, Decimals: 2},
		{Symbol: "ETHUSDT", Name: "Ethereum", Type: "Crypto", StartPrice: 3450.12, Decimals: 2},
		{Symbol: "SOLUSDT", Name: "Solana", Type: "Crypto", StartPrice: 145.40, Decimals: 2},
		{Symbol: "XRPUSDT", Name: "XRP", Type: "Crypto", StartPrice: 0.62, Decimals: 2},
		{Symbol: "EURUSD", Name: "EUR / USD", Type: "Forex", StartPrice: 1.0850, Decimals: 4},
		{Symbol: "GBPUSD", Name: "GBP / USD", Type: "Forex", StartPrice: 1.2640, Decimals: 4},
		{Symbol: "GOLD", Name: "Gold / USD", Type: "Forex", StartPrice: 2345.80, Decimals: 2},
		{Symbol: "AAPL", Name: "Apple Inc.", Type: "Stocks", StartPrice: 185.92, Decimals: 2},
		{Symbol: "TSLA", Name: "Tesla Inc.", Type: "Stocks", StartPrice: 178.50, Decimals: 2},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("feed.tick_interval", "1500ms")
	v.SetDefault("feed.volatility", 0.0006)
	v.SetDefault("feed.min_price", 0.0001)
	v.SetDefault("feed.seed", 0)

	v.SetDefault("engine.initial_balance", 10000)
	v.SetDefault("engine.max_leverage", 100)
	v.SetDefault("engine.clamp_loss_to_margin", true)

	v.SetDefault("openai.enabled", false)
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4.1")
	v.SetDefault("openai.timeout", "15s")

	v.SetDefault("database.path", "data/papertrade.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("server.port", 8700)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
