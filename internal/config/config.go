package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ExtractBridge/pkg/logger"
)

// EnvPrefix 是所有环境变量覆盖项的前缀。
const EnvPrefix = "EXTRACTBRIDGE_"

// Config 描述守护进程启动阶段需要加载的全部配置。
type Config struct {
	Logging   logger.Config   `yaml:"logging"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Python    PythonConfig    `yaml:"python"`
	Plugins   PluginsConfig   `yaml:"plugins"`
	Tesseract TesseractConfig `yaml:"tesseract"`
	Docconv   DocconvConfig   `yaml:"docconv"`
	Plaintext PlaintextConfig `yaml:"plaintext"`
	Health    HealthConfig    `yaml:"health"`
	Events    EventsConfig    `yaml:"events"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ExecutorConfig 限制同时阻塞在外部回调上的调用数量。
type ExecutorConfig struct {
	MaxBlocking int `yaml:"max_blocking"`
}

// PythonConfig 描述嵌入式 Python 宿主进程。
type PythonConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Executable string   `yaml:"executable"`
	WorkingDir string   `yaml:"working_dir"`
	Path       []string `yaml:"path"`
}

// PluginsConfig 指向插件清单文件。
type PluginsConfig struct {
	Manifest string `yaml:"manifest"`
}

// TesseractConfig 控制内置 OCR 后端。
type TesseractConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Languages []string `yaml:"languages"`
	Priority  int      `yaml:"priority"`
}

// DocconvConfig 控制内置文档提取器。
type DocconvConfig struct {
	Enabled     bool `yaml:"enabled"`
	Readability bool `yaml:"readability"`
}

// PlaintextConfig 控制内置纯文本提取器。
type PlaintextConfig struct {
	Enabled bool `yaml:"enabled"`
}

// HealthConfig 控制健康快照的上报。
type HealthConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig 描述健康快照写入的 Redis 实例。Address 为空时不上报。
type RedisConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Key      string        `yaml:"key"`
	Interval time.Duration `yaml:"interval"`
	TTL      time.Duration `yaml:"ttl"`
}

// MetricsConfig 控制 /metrics 与 /healthz 端点。Address 为空时不监听。
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// EventsConfig 控制注册表事件的发布。
type EventsConfig struct {
	AMQP  AMQPConfig  `yaml:"amqp"`
	MySQL MySQLConfig `yaml:"mysql"`
}

// AMQPConfig 描述事件队列。URL 为空时不发布。
type AMQPConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

// MySQLConfig 描述注册表事件审计库。DSN 为空时不写入。
type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Default 返回未读取任何文件时的配置。
func Default() *Config {
	cfg := &Config{
		Tesseract: TesseractConfig{Enabled: true},
		Docconv:   DocconvConfig{Enabled: true},
		Plaintext: PlaintextConfig{Enabled: true},
	}
	cfg.applyDefaults("")
	return cfg
}

// Load 解析指定路径的 YAML 配置文件，随后依次应用 .env 文件、环境变量
// 覆盖项和默认值。path 为空时只使用环境变量和默认值。
func Load(path string) (*Config, error) {
	// .env 不存在不是错误。
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("加载 .env 失败: %w", err)
	}

	cfg := &Config{
		Tesseract: TesseractConfig{Enabled: true},
		Docconv:   DocconvConfig{Enabled: true},
		Plaintext: PlaintextConfig{Enabled: true},
	}
	baseDir := ""
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查无法通过默认值修正的字段。
func (c *Config) Validate() error {
	if c.Executor.MaxBlocking < 0 {
		return errors.New("executor.max_blocking 不能为负数")
	}
	if c.Health.Redis.Address != "" && c.Health.Redis.Interval <= 0 {
		return errors.New("health.redis.interval 必须为正数")
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// applyEnv 用 EXTRACTBRIDGE_* 环境变量覆盖文件中的值。
func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = splitList(v)
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s=%q 不是布尔值", EnvPrefix, key, v))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s=%q 不是整数", EnvPrefix, key, v))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s=%q 不是时长", EnvPrefix, key, v))
				return
			}
			*dst = d
		}
	}

	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	integer("MAX_BLOCKING", &c.Executor.MaxBlocking)
	boolean("PYTHON_ENABLED", &c.Python.Enabled)
	str("PYTHON_EXECUTABLE", &c.Python.Executable)
	str("PYTHON_WORKING_DIR", &c.Python.WorkingDir)
	list("PYTHON_PATH", &c.Python.Path)
	str("PLUGINS_MANIFEST", &c.Plugins.Manifest)
	boolean("TESSERACT_ENABLED", &c.Tesseract.Enabled)
	list("TESSERACT_LANGUAGES", &c.Tesseract.Languages)
	boolean("DOCCONV_ENABLED", &c.Docconv.Enabled)
	str("REDIS_ADDRESS", &c.Health.Redis.Address)
	str("REDIS_PASSWORD", &c.Health.Redis.Password)
	integer("REDIS_DB", &c.Health.Redis.DB)
	str("REDIS_KEY", &c.Health.Redis.Key)
	duration("HEALTH_INTERVAL", &c.Health.Redis.Interval)
	str("AMQP_URL", &c.Events.AMQP.URL)
	str("AMQP_QUEUE", &c.Events.AMQP.Queue)
	str("MYSQL_DSN", &c.Events.MySQL.DSN)
	str("METRICS_ADDRESS", &c.Metrics.Address)
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。相对路径以配置
// 文件所在目录为基准。
func (c *Config) applyDefaults(baseDir string) {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Executor.MaxBlocking == 0 {
		c.Executor.MaxBlocking = 64
	}

	if c.Python.Executable == "" {
		c.Python.Executable = "python3"
	}
	c.Python.WorkingDir = resolve(baseDir, c.Python.WorkingDir)
	for i, p := range c.Python.Path {
		c.Python.Path[i] = resolve(baseDir, p)
	}

	if c.Plugins.Manifest != "" {
		c.Plugins.Manifest = resolve(baseDir, c.Plugins.Manifest)
	}

	if len(c.Tesseract.Languages) == 0 {
		c.Tesseract.Languages = []string{"eng"}
	}

	if c.Health.Redis.Key == "" {
		host, _ := os.Hostname()
		c.Health.Redis.Key = "extractbridge:health:" + host
	}
	if c.Health.Redis.Interval == 0 {
		c.Health.Redis.Interval = 30 * time.Second
	}
	if c.Health.Redis.TTL == 0 {
		c.Health.Redis.TTL = 3 * c.Health.Redis.Interval
	}

	if c.Events.AMQP.Queue == "" {
		c.Events.AMQP.Queue = "extractbridge.registry"
	}
}

func resolve(baseDir, path string) string {
	if path == "" {
		return baseDir
	}
	if filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
