// Package config loads the relay server configuration from YAML.
package config

import (
	"net"
	"strconv"
)

// Config is the relay server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Admin  AdminConfig  `yaml:"admin"`
}

// ServerConfig configures the chat listener.
type ServerConfig struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Lanes is the number of lanes; 0 means one per logical CPU.
	Lanes            int    `yaml:"lanes"`
	ReadBufferSize   int    `yaml:"read_buffer_size"`
	MaxFrameSize     uint32 `yaml:"max_frame_size"`
	MaxPendingFrames int    `yaml:"max_pending_frames"`
	// MaxOutboxBytes is how much may be queued for a peer before it is dropped.
	MaxOutboxBytes int64 `yaml:"max_outbox_bytes"`
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LogConfig configures logging. An empty Dir logs to stdout only.
type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// AdminConfig configures the admin HTTP server. An empty Addr disables it.
type AdminConfig struct {
	Addr string `yaml:"addr"`
}
