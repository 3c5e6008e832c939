package config

import (
	"errors"
	"fmt"

	"github.com/cyberinferno/chatrelay/logger"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Lanes < 0 {
		return errors.New("server.lanes must be >= 0")
	}
	if c.Server.ReadBufferSize < 1 {
		return errors.New("server.read_buffer_size must be >= 1")
	}
	if c.Server.MaxFrameSize < 1 {
		return errors.New("server.max_frame_size must be >= 1")
	}
	if c.Server.MaxPendingFrames < 1 {
		return errors.New("server.max_pending_frames must be >= 1")
	}
	if c.Server.MaxOutboxBytes < int64(c.Server.MaxFrameSize) {
		return errors.New("server.max_outbox_bytes must be >= server.max_frame_size")
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}
