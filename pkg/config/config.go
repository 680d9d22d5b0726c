package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var valid = validator.New()

// Config 全局配置结构体（聚合所有核心模块）
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Monitor MonitorConfig `yaml:"monitor" mapstructure:"monitor"`
	Sink    SinkConfig    `yaml:"sink" mapstructure:"sink"`
	Binding BindingConfig `yaml:"binding" mapstructure:"binding"`
	Log     ZapLogConfig  `yaml:"log" mapstructure:"log"`
}

// ServerConfig HTTP服务配置（/metrics /health /pollers）
type ServerConfig struct {
	Addr         string        `yaml:"addr" mapstructure:"addr" env:"HTTP_ADDR" validate:"required,hostname_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" validate:"required,gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" validate:"required,gt=0"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"required,gt=0"`
}

// MonitorConfig 数据库指标采集配置
type MonitorConfig struct {
	// Interval 两次采集之间的最小空闲时间
	Interval time.Duration `yaml:"interval" mapstructure:"interval" env:"MONITOR_INTERVAL" validate:"required,gt=0"`
	// Timeout 单次采集周期超时，0 表示不限制
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
	Tag     string        `yaml:"tag" mapstructure:"tag"`
	Retry   RetryConfig   `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig 连接失败后的重连策略（由 agent 负责，而不是采集器本身）
type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval" mapstructure:"initial_interval" validate:"required,gt=0"`
	MaxInterval     time.Duration `yaml:"max_interval" mapstructure:"max_interval" validate:"required,gtefield=InitialInterval"`
	MaxElapsed      time.Duration `yaml:"max_elapsed" mapstructure:"max_elapsed" validate:"gte=0"`
}

// SinkConfig 指标下游配置
type SinkConfig struct {
	Types []string   `yaml:"types" mapstructure:"types" validate:"required,min=1,dive,oneof=log nats prometheus"`
	NATS  NATSConfig `yaml:"nats" mapstructure:"nats"`
}

type NATSConfig struct {
	URL           string `yaml:"url" mapstructure:"url"`
	SubjectPrefix string `yaml:"subject_prefix" mapstructure:"subject_prefix"`
	Name          string `yaml:"name" mapstructure:"name"`
}

// BindingConfig 服务绑定来源；File 为空时读取 VCAP_SERVICES
type BindingConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// ZapLogConfig 日志配置
type ZapLogConfig struct {
	Level   string `yaml:"level" mapstructure:"level" env:"LOG_LEVEL" validate:"required,oneof=debug info warn error dpanic panic fatal"`
	Format  string `yaml:"format" mapstructure:"format" env:"LOG_FORMAT" validate:"required,oneof=json console"`
	Path    string `yaml:"path" mapstructure:"path" env:"LOG_PATH" validate:"required"`
	MaxSize int    `yaml:"max_size" mapstructure:"max_size" validate:"required,gt=0"`
	MaxAge  int    `yaml:"max_age" mapstructure:"max_age" validate:"required,gt=0"`
}

// NewDefaultConfig 创建默认配置（所有字段兜底，避免空指针/非法值）
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         "0.0.0.0:9216",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Monitor: MonitorConfig{
			Interval: 10 * time.Second,
			Retry: RetryConfig{
				InitialInterval: time.Second,
				MaxInterval:     time.Minute,
				MaxElapsed:      10 * time.Minute,
			},
		},
		Sink: SinkConfig{
			Types: []string{"log", "prometheus"},
			NATS: NATSConfig{
				URL:           "nats://127.0.0.1:4222",
				SubjectPrefix: "dbmetrics",
				Name:          "dbmetrics-agent",
			},
		},
		Log: ZapLogConfig{
			Level:   "info",
			Format:  "console",
			Path:    "./logs",
			MaxSize: 100,
			MaxAge:  7,
		},
	}
}

// LoadConfigWithCli 加载配置（默认值 < YAML < ENV < 显式传入的 Flags），支持 time.Duration
func LoadConfigWithCli(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	// 1. 只绑定显式传入的 flag，未修改的 flag 默认值不覆盖配置文件
	var bindErr error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		bindErr = errors.Join(bindErr, v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f))
	})
	if bindErr != nil {
		return nil, fmt.Errorf("bind flags: %w", bindErr)
	}

	// 2. 解析配置文件 (--config)
	configFile, _ := cmd.Flags().GetString("config")
	return load(v, configFile)
}

// Load 仅从文件和环境变量加载
func Load(configFile string) (*Config, error) {
	return load(viper.New(), configFile)
}

func load(v *viper.Viper, configFile string) (*Config, error) {
	cfg := NewDefaultConfig()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	// 3. 绑定环境变量（DBMETRICS_MONITOR_INTERVAL -> monitor.interval）
	v.SetEnvPrefix("dbmetrics")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := bindEnvs(v, reflect.TypeOf(Config{}), ""); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	// 4. 解码到结构体
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}
	if err := decoder.Decode(normalizeKeys(v.AllSettings())); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// 5. 校验配置
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// bindEnvs AutomaticEnv 只对已知 key 生效，这里按 mapstructure tag 注册全部 key
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) error {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := f.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Duration(0)) {
			if err := bindEnvs(v, f.Type, key); err != nil {
				return err
			}
			continue
		}
		if err := v.BindEnv(key); err != nil {
			return err
		}
	}
	return nil
}

// normalizeKeys flag 名使用中划线（read-timeout），结构体 tag 使用下划线
func normalizeKeys(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, val := range in {
		if nested, ok := val.(map[string]any); ok {
			val = normalizeKeys(nested)
		}
		out[strings.ReplaceAll(k, "-", "_")] = val
	}
	return out
}

// Validate 配置校验
func (c *Config) Validate() error {
	if err := valid.Struct(c); err != nil {
		return err
	}
	if err := c.Monitor.Validate(); err != nil {
		return err
	}
	if err := c.Sink.Validate(); err != nil {
		return err
	}
	return c.Log.Validate()
}
