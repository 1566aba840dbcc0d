package postgres

import (
	"fmt"

	"edgelink/internal/common/errors"
)

// Config holds PostgreSQL adapter configuration.
type Config struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	SSLMode  string
}

// Validate checks that the required connection fields are present.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.ConfigError("postgres host is required")
	}
	if c.Database == "" {
		return errors.ConfigError("postgres database name is required")
	}
	if c.User == "" {
		return errors.ConfigError("postgres user is required")
	}
	if c.Port == "" {
		c.Port = "5432"
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	return nil
}

// GetType returns the storage type identifier.
func (c *Config) GetType() string {
	return "postgres"
}

// GetConnectionString builds the lib/pq connection string.
func (c *Config) GetConnectionString() string {
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.User, c.Password, c.SSLMode)
}
