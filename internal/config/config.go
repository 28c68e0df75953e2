package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ChannelConfig 单个投递通道的地址
type ChannelConfig struct {
	URL      string `yaml:"url"`
	Fallback string `yaml:"fallback"`
}

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version" ignored:"true"`

	CDP struct {
		Host        string   `yaml:"host" envconfig:"CDP_HOST"`
		Port        int      `yaml:"port" envconfig:"CDP_PORT"`
		Filter      string   `yaml:"filter" envconfig:"FILTER"`
		AttachTypes []string `yaml:"attachTypes" envconfig:"CDP_ATTACH_TYPES"`
		AttachHosts []string `yaml:"attachHosts" envconfig:"CDP_ATTACH_HOSTS"`
	} `yaml:"cdp"`

	Capture struct {
		APIPath           string        `yaml:"apiPath" envconfig:"CAPTURE_API_PATH"`
		AssetPath         string        `yaml:"assetPath" envconfig:"CAPTURE_ASSET_PATH"`
		InterceptPatterns []string      `yaml:"interceptPatterns" envconfig:"CAPTURE_INTERCEPT_PATTERNS"`
		Intercept         bool          `yaml:"intercept" envconfig:"CAPTURE_INTERCEPT"`
		ObserveAPI        bool          `yaml:"observeApi" envconfig:"CAPTURE_OBSERVE_API"`
		DedupeWindow      time.Duration `yaml:"dedupeWindow" envconfig:"CAPTURE_DEDUPE_WINDOW"`
		BodyPrefix        int           `yaml:"bodyPrefix" envconfig:"CAPTURE_BODY_PREFIX"`
		PendingTTL        time.Duration `yaml:"pendingTTL" envconfig:"CAPTURE_PENDING_TTL"`
		PendingCapacity   int           `yaml:"pendingCapacity" envconfig:"CAPTURE_PENDING_CAPACITY"`
		WatchSuffixes     []string      `yaml:"watchSuffixes" envconfig:"CAPTURE_WATCH_SUFFIXES"`
	} `yaml:"capture"`

	Channels struct {
		API             ChannelConfig `yaml:"api"`
		Image           ChannelConfig `yaml:"image"`
		ImageJSON       ChannelConfig `yaml:"imageJson"`
		ReconnectDelay  time.Duration `yaml:"reconnectDelay" envconfig:"CHANNEL_RECONNECT_DELAY"`
		FallbackTimeout time.Duration `yaml:"fallbackTimeout" envconfig:"CHANNEL_FALLBACK_TIMEOUT"`
		QueueSize       int           `yaml:"queueSize" envconfig:"CHANNEL_QUEUE_SIZE"`
	} `yaml:"channels"`

	Log struct {
		Level      string   `yaml:"level" envconfig:"LOG_LEVEL"`
		Writer     []string `yaml:"writer" envconfig:"LOG_WRITER"`
		File       string   `yaml:"file" envconfig:"LOG_FILE"`
		MaxSizeMB  int      `yaml:"maxSizeMB"`
		MaxBackups int      `yaml:"maxBackups"`
		MaxAgeDays int      `yaml:"maxAgeDays"`
	} `yaml:"log"`

	Status struct {
		Listen string `yaml:"listen" envconfig:"STATUS_LISTEN"`
	} `yaml:"status"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}

	c.CDP.Host = "127.0.0.1"
	c.CDP.Port = 9222
	c.CDP.Filter = "kcs|gadgets/ifr|osapi.dmm.com|play.games.dmm.com"
	c.CDP.AttachTypes = []string{"webview"}
	c.CDP.AttachHosts = []string{"play.games.dmm.com", "kancolle"}

	c.Capture.APIPath = "/kcsapi/"
	c.Capture.AssetPath = "/kcs2/"
	c.Capture.InterceptPatterns = []string{"*://*/kcsapi/*"}
	c.Capture.Intercept = true
	c.Capture.DedupeWindow = 2000 * time.Millisecond
	c.Capture.BodyPrefix = 64
	c.Capture.PendingTTL = 2 * time.Minute
	c.Capture.PendingCapacity = 4096
	c.Capture.WatchSuffixes = []string{"/api_get_member/questlist"}

	c.Channels.API = ChannelConfig{URL: "ws://127.0.0.1:8890/api/websocket", Fallback: "http://127.0.0.1:8890/api"}
	c.Channels.Image = ChannelConfig{URL: "ws://127.0.0.1:8890/image/websocket", Fallback: "http://127.0.0.1:8890/image"}
	c.Channels.ImageJSON = ChannelConfig{URL: "ws://127.0.0.1:8890/imageJson/websocket", Fallback: "http://127.0.0.1:8890/imageJson"}
	c.Channels.ReconnectDelay = time.Second
	c.Channels.FallbackTimeout = 2 * time.Second
	c.Channels.QueueSize = 256

	c.Log.Level = "info"
	c.Log.Writer = []string{"file"}
	c.Log.File = "logs/cdpbridge.log"
	c.Log.MaxSizeMB = 50
	c.Log.MaxBackups = 12
	c.Log.MaxAgeDays = 62

	return c
}

// Load 依次应用默认值、配置文件（可选）与环境变量
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("error opening config file %v: %w", path, err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("error decoding config file %v: %w", path, err)
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("error reading environment: %w", err)
	}
	// LOG_STDOUT=1 时同时输出到控制台
	if os.Getenv("LOG_STDOUT") == "1" && !contains(cfg.Log.Writer, "console") {
		cfg.Log.Writer = append(cfg.Log.Writer, "console")
	}
	return cfg, cfg.Validate()
}

// DevToolsURL 返回调试端点的 HTTP 地址
func (c *Config) DevToolsURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDP.Host, c.CDP.Port)
}

// Validate 检查必填项
func (c *Config) Validate() error {
	if c.CDP.Host == "" || c.CDP.Port <= 0 {
		return fmt.Errorf("invalid cdp endpoint %q:%d", c.CDP.Host, c.CDP.Port)
	}
	if c.Capture.APIPath == "" || c.Capture.AssetPath == "" {
		return fmt.Errorf("capture paths must not be empty")
	}
	for name, ch := range map[string]ChannelConfig{
		"api":       c.Channels.API,
		"image":     c.Channels.Image,
		"imageJson": c.Channels.ImageJSON,
	} {
		if ch.URL == "" && ch.Fallback == "" {
			return fmt.Errorf("channel %s has neither url nor fallback", name)
		}
	}
	if c.Capture.DedupeWindow <= 0 {
		return fmt.Errorf("dedupe window must be positive")
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
