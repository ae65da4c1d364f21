package maintenancesweep

import (
	"fmt"
	"time"
)

type Config struct {
	BatchSize int `mapstructure:"batch_size"`
	// Interval drives the in-process sweep loop; zero leaves sweeping to the workflow timer.
	Interval time.Duration `mapstructure:"interval"`
}

func DefaultConfig() *Config {
	return &Config{
		BatchSize: 100,
		Interval:  5 * time.Minute,
	}
}

func (c *Config) Validate() error {
	if c.BatchSize <= 0 || c.BatchSize > 1000 {
		return fmt.Errorf("batch_size must be between 1 and 1000")
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval must not be negative")
	}
	return nil
}
