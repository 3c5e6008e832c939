package config

import (
	"github.com/cyberinferno/chatrelay/wire"
	"github.com/cyberinferno/chatrelay/worker"
)

// Default values for optional configuration fields.
const (
	DefaultServerName     = "chat"
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 9000
	DefaultReadBufferSize = 4096
	DefaultMaxFrameSize     = wire.DefaultMaxFrameSize
	DefaultMaxPendingFrames = worker.DefaultMaxPendingFrames
	DefaultMaxOutboxBytes   = worker.DefaultMaxOutboxBytes
	DefaultLogLevel       = "info"
)

// ApplyDefaults fills every unset optional field.
func (c *Config) ApplyDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = DefaultServerName
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.ReadBufferSize == 0 {
		c.Server.ReadBufferSize = DefaultReadBufferSize
	}
	if c.Server.MaxFrameSize == 0 {
		c.Server.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.Server.MaxPendingFrames == 0 {
		c.Server.MaxPendingFrames = DefaultMaxPendingFrames
	}
	if c.Server.MaxOutboxBytes == 0 {
		c.Server.MaxOutboxBytes = DefaultMaxOutboxBytes
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}
