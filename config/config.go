// Package config loads and validates chatrelay's JSON settings, the way
// moto's config/setting.go loads setting.json: an env-var overridable path,
// an init-time load with a fallback to defaults, and a Reload entry point.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// LogSettings controls the zap/lumberjack sink built by the utils package.
type LogSettings struct {
	Level string `json:"level"`
	Path  string `json:"path"`
}

// ServerSettings holds everything the chat server binary needs to run.
type ServerSettings struct {
	Log LogSettings `json:"log"`

	// Listen is the chat wire listen address, e.g. ":8888".
	Listen string `json:"listen"`
	// AdminListen is the admin wire listen address, e.g. ":8889".
	AdminListen string `json:"admin_listen"`

	// Blacklist holds source IPs refused at accept time.
	Blacklist map[string]bool `json:"blacklist"`
	// MaxConnsPerIPPer30s caps new connections from one source IP in a
	// 30s window that starts at that IP's first admitted connection,
	// mirroring moto's WAF counter.
	MaxConnsPerIPPer30s int `json:"max_conns_per_ip_per_30s"`

	// PacketLossRate and ArtificialDelayMillis seed the fault injector at
	// startup; both are also mutable at runtime via the admin surface.
	PacketLossRate        float64 `json:"packet_loss_rate"`
	ArtificialDelayMillis int     `json:"artificial_delay_millis"`
}

func defaultServerSettings() *ServerSettings {
	return &ServerSettings{
		Log: LogSettings{
			Level: "info",
			Path:  "chatrelay.log",
		},
		Listen:              ":8888",
		AdminListen:         ":8889",
		Blacklist:           map[string]bool{},
		MaxConnsPerIPPer30s: 200,
	}
}

// GlobalCfg is the globally effective server configuration.
var GlobalCfg *ServerSettings

func init() {
	path := os.Getenv("CHATRELAY_CONFIG")
	if path == "" {
		path = "config/settings.json"
	}
	cfg, err := load(path)
	if err != nil {
		fmt.Printf("chatrelay: using default settings (%s)\n", err.Error())
		cfg = defaultServerSettings()
	}
	GlobalCfg = cfg
}

// Reload re-reads settings from path, validates them, and swaps GlobalCfg in.
// Callers that also log should follow with utils.Reconfigure.
func Reload(path string) error {
	cfg, err := load(path)
	if err != nil {
		return err
	}
	GlobalCfg = cfg
	return nil
}

func load(path string) (*ServerSettings, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := defaultServerSettings()
	if err := json.Unmarshal(buf, cfg); err != nil {
		return nil, err
	}
	if err := verify(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func verify(c *ServerSettings) error {
	if c.Listen == "" {
		return fmt.Errorf("empty chat listen address")
	}
	if c.AdminListen == "" {
		return fmt.Errorf("empty admin listen address")
	}
	if c.PacketLossRate < 0 || c.PacketLossRate > 1 {
		return fmt.Errorf("packet_loss_rate out of range [0,1]: %v", c.PacketLossRate)
	}
	if c.ArtificialDelayMillis < 0 {
		return fmt.Errorf("artificial_delay_millis must be non-negative")
	}
	if c.MaxConnsPerIPPer30s <= 0 {
		c.MaxConnsPerIPPer30s = 200
	}
	if c.Blacklist == nil {
		c.Blacklist = map[string]bool{}
	}
	return nil
}

// ClientSettings holds what the CLI client and the load-test harness need.
type ClientSettings struct {
	Log        LogSettings `json:"log"`
	ServerAddr string      `json:"server_addr"`
	Username   string      `json:"username"`
}

func defaultClientSettings() *ClientSettings {
	return &ClientSettings{
		Log:        LogSettings{Level: "warn", Path: "chatrelay-client.log"},
		ServerAddr: "localhost:8888",
	}
}

// LoadClientSettings reads client settings from path, falling back to
// defaults if the file is absent or invalid.
func LoadClientSettings(path string) *ClientSettings {
	cfg := defaultClientSettings()
	if path == "" {
		return cfg
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	if err := json.Unmarshal(buf, cfg); err != nil {
		return defaultClientSettings()
	}
	return cfg
}
