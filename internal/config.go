package internal

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	apperrors "github.com/koopa0/system-design/14-rps-rendezvous/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
//
// 優先順序（後者覆蓋前者）：預設值 → config.yaml → 環境變數（含 .env）→ 命令列參數
type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`

	Admin struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"admin"`

	Match struct {
		Pairing      PairingMode   `yaml:"pairing"`       // "matched" 或 "shared"
		RoundTimeout time.Duration `yaml:"round_timeout"` // 0 表示無限等待
	} `yaml:"match"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Events struct {
		Buffer       int    `yaml:"buffer"` // 環形緩衝行數，也是非同步發佈佇列長度
		NATSURL      string `yaml:"nats_url"`
		NATSSubject  string `yaml:"nats_subject"`
		RedisAddr    string `yaml:"redis_addr"`
		RedisChannel string `yaml:"redis_channel"`
	} `yaml:"events"`
}

// DefaultConfig 預設配置
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8000
	cfg.Admin.Enabled = true
	cfg.Admin.Port = 8080
	cfg.Match.Pairing = PairingMatched
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Events.Buffer = 256
	cfg.Events.NATSSubject = "rps.log"
	cfg.Events.RedisChannel = "rps:log"
	return cfg
}

// LoadConfig 載入配置檔案；檔案不存在時使用預設值
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("讀取配置檔案失敗: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidConfig, "parse config file")
	}
	return cfg, nil
}

// LoadEnv 把 .env 檔案載入行程環境（不覆蓋已存在的變數）
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv 以環境變數覆蓋配置
//
// getenv 通常是 os.Getenv，測試時可替換。
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("RPS_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := getenv("RPS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return invalidConfig("RPS_PORT", v)
		}
		c.Server.Port = port
	}
	if v := getenv("RPS_ADMIN_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return invalidConfig("RPS_ADMIN_PORT", v)
		}
		c.Admin.Port = port
	}
	if v := getenv("RPS_PAIRING"); v != "" {
		c.Match.Pairing = PairingMode(strings.ToLower(v))
	}
	if v := getenv("RPS_ROUND_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return invalidConfig("RPS_ROUND_TIMEOUT", v)
		}
		c.Match.RoundTimeout = d
	}
	if v := getenv("RPS_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("RPS_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := getenv("RPS_NATS_URL"); v != "" {
		c.Events.NATSURL = v
	}
	if v := getenv("RPS_REDIS_ADDR"); v != "" {
		c.Events.RedisAddr = v
	}
	return nil
}

// Validate 檢查配置
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return invalidConfig("server.port", strconv.Itoa(c.Server.Port))
	}
	if c.Admin.Enabled && (c.Admin.Port < 0 || c.Admin.Port > 65535) {
		return invalidConfig("admin.port", strconv.Itoa(c.Admin.Port))
	}
	if c.Admin.Enabled && c.Admin.Port != 0 && c.Admin.Port == c.Server.Port {
		return apperrors.New(apperrors.ErrCodeInvalidConfig, "invalid config").
			WithDetails("admin.port must differ from server.port")
	}
	if !c.Match.Pairing.Valid() {
		return invalidConfig("match.pairing", string(c.Match.Pairing))
	}
	if c.Match.RoundTimeout < 0 {
		return invalidConfig("match.round_timeout", c.Match.RoundTimeout.String())
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return invalidConfig("log.format", c.Log.Format)
	}
	if c.Events.Buffer <= 0 {
		return invalidConfig("events.buffer", strconv.Itoa(c.Events.Buffer))
	}
	return nil
}

// Addr 遊戲伺服器監聽地址
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// AdminAddr 管理 API 監聽地址
func (c *Config) AdminAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Admin.Port))
}

func invalidConfig(field, value string) error {
	return apperrors.New(apperrors.ErrCodeInvalidConfig, "invalid config").
		WithDetails(fmt.Sprintf("%s=%q", field, value))
}
