package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了模拟交易终端运行所需的全部配置项。
type Config struct {
	App         AppConfig          `mapstructure:"app"`
	Instruments []InstrumentConfig `mapstructure:"instruments"`
	Feed        FeedConfig         `mapstructure:"feed"`
	Engine      EngineConfig       `mapstructure:"engine"`
	OpenAI      OpenAIConfig       `mapstructure:"openai"`
	Database    DatabaseConfig     `mapstructure:"database"`
	Logging     LoggingConfig      `mapstructure:"logging"`
	Server      ServerConfig       `mapstructure:"server"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// InstrumentConfig 描述单个可交易品种。
type InstrumentConfig struct {
	Symbol     string  `mapstructure:"symbol"`
	Name       string  `mapstructure:"name"`
	Type       string  `mapstructure:"type"` // Crypto | Forex | Stocks
	StartPrice float64 `mapstructure:"start_price"`
	Decimals   int     `mapstructure:"decimals"`
}

// FeedConfig 控制价格模拟器的节奏与波动。
type FeedConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	Volatility   float64       `mapstructure:"volatility"`
	MinPrice     float64       `mapstructure:"min_price"`
	Seed         int64         `mapstructure:"seed"`
}

// EngineConfig 控制仓位引擎行为。
type EngineConfig struct {
	InitialBalance    float64 `mapstructure:"initial_balance"`
	MaxLeverage       float64 `mapstructure:"max_leverage"`
	ClampLossToMargin bool    `mapstructure:"clamp_loss_to_margin"`
}

// OpenAIConfig 描述大模型分析调用参数。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
	Enabled bool          `mapstructure:"enabled"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// ServerConfig 控制终端 HTTP 接口。
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

var validInstrumentTypes = map[string]struct{}{
	"Crypto": {},
	"Forex":  {},
	"Stocks": {},
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}

	if len(c.Instruments) == 0 {
		err = multierr.Append(err, errors.New("instruments 至少需要一个品种"))
	}
	seen := make(map[string]struct{}, len(c.Instruments))
	for i, inst := range c.Instruments {
		symbol := strings.TrimSpace(inst.Symbol)
		if symbol == "" {
			err = multierr.Append(err, fmt.Errorf("instruments[%d].symbol 不能为空", i))
			continue
		}
		if _, dup := seen[symbol]; dup {
			err = multierr.Append(err, fmt.Errorf("instruments 品种 %s 重复", symbol))
		}
		seen[symbol] = struct{}{}
		if _, ok := validInstrumentTypes[inst.Type]; !ok {
			err = multierr.Append(err, fmt.Errorf("instruments[%d].type 取值非法: %s", i, inst.Type))
		}
		if inst.StartPrice <= 0 {
			err = multierr.Append(err, fmt.Errorf("instruments[%d].start_price 必须大于0", i))
		}
		if inst.Decimals < 0 || inst.Decimals > 8 {
			err = multierr.Append(err, fmt.Errorf("instruments[%d].decimals 必须位于[0,8]", i))
		}
	}

	if c.Feed.TickInterval <= 0 {
		err = multierr.Append(err, errors.New("feed.tick_interval 必须大于0"))
	}
	if c.Feed.Volatility <= 0 || c.Feed.Volatility > 0.1 {
		err = multierr.Append(err, errors.New("feed.volatility 应位于(0,0.1]"))
	}
	if c.Feed.MinPrice <= 0 {
		err = multierr.Append(err, errors.New("feed.min_price 必须大于0"))
	}

	if c.Engine.InitialBalance <= 0 {
		err = multierr.Append(err, errors.New("engine.initial_balance 必须大于0"))
	}
	if c.Engine.MaxLeverage < 1 {
		err = multierr.Append(err, errors.New("engine.max_leverage 不能小于1"))
	}

	if c.OpenAI.Enabled {
		if c.OpenAI.APIKey == "" {
			err = multierr.Append(err, errors.New("openai.api_key 不能为空"))
		}
		if c.OpenAI.Model == "" {
			err = multierr.Append(err, errors.New("openai.model 不能为空"))
		}
		if c.OpenAI.Timeout <= 0 {
			err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
		}
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}

	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, errors.New("server.port 必须位于(0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
