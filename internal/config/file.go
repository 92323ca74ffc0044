package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// fillFrom copies values from o into fields c left empty.
func (c *Config) fillFrom(o *Config) {
	if o == nil {
		return
	}
	c.Server.Port = firstNonEmpty(c.Server.Port, normalizePort(o.Server.Port))
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = append([]string(nil), o.Server.AllowedOrigins...)
	}

	c.Hosting.AccountID = firstNonEmpty(c.Hosting.AccountID, o.Hosting.AccountID)
	c.Hosting.ZoneID = firstNonEmpty(c.Hosting.ZoneID, o.Hosting.ZoneID)
	c.Hosting.APIToken = firstNonEmpty(c.Hosting.APIToken, o.Hosting.APIToken)
	c.Hosting.APIKey = firstNonEmpty(c.Hosting.APIKey, o.Hosting.APIKey)
	c.Hosting.APIEmail = firstNonEmpty(c.Hosting.APIEmail, o.Hosting.APIEmail)
	c.Hosting.APIBaseURL = firstNonEmpty(c.Hosting.APIBaseURL, o.Hosting.APIBaseURL)
	c.Hosting.BaseDomain = firstNonEmpty(c.Hosting.BaseDomain, o.Hosting.BaseDomain)
	c.Hosting.ScriptPrefix = firstNonEmpty(c.Hosting.ScriptPrefix, o.Hosting.ScriptPrefix)

	c.Storage.Endpoint = firstNonEmpty(c.Storage.Endpoint, o.Storage.Endpoint)
	c.Storage.Region = firstNonEmpty(c.Storage.Region, o.Storage.Region)
	c.Storage.AccessKey = firstNonEmpty(c.Storage.AccessKey, o.Storage.AccessKey)
	c.Storage.SecretKey = firstNonEmpty(c.Storage.SecretKey, o.Storage.SecretKey)
	c.Storage.Bucket = firstNonEmpty(c.Storage.Bucket, o.Storage.Bucket)
	c.Storage.PublicURL = firstNonEmpty(c.Storage.PublicURL, o.Storage.PublicURL)

	c.Backend.URL = firstNonEmpty(c.Backend.URL, o.Backend.URL)
	c.Backend.AnonKey = firstNonEmpty(c.Backend.AnonKey, o.Backend.AnonKey)
	c.Backend.ServiceKey = firstNonEmpty(c.Backend.ServiceKey, o.Backend.ServiceKey)

	if len(c.Build.Command) == 0 {
		c.Build.Command = append([]string(nil), o.Build.Command...)
	}
	c.Build.OutputDir = firstNonEmpty(c.Build.OutputDir, o.Build.OutputDir)
	c.Build.WorkRoot = firstNonEmpty(c.Build.WorkRoot, o.Build.WorkRoot)
	if c.Build.MaxAttempts <= 0 {
		c.Build.MaxAttempts = o.Build.MaxAttempts
	}
	if c.Build.Timeout <= 0 {
		c.Build.Timeout = o.Build.Timeout
	}

	c.Features.AIFixEscalation = c.Features.AIFixEscalation || o.Features.AIFixEscalation
	c.AI.APIKey = firstNonEmpty(c.AI.APIKey, o.AI.APIKey)
	c.AI.Model = firstNonEmpty(c.AI.Model, o.AI.Model)

	c.Source.DatabaseURL = firstNonEmpty(c.Source.DatabaseURL, o.Source.DatabaseURL)
	c.Source.Dir = firstNonEmpty(c.Source.Dir, o.Source.Dir)

	if c.Coordinator.MaxConcurrent <= 0 {
		c.Coordinator.MaxConcurrent = o.Coordinator.MaxConcurrent
	}
	if c.Coordinator.ResultTTL <= 0 {
		c.Coordinator.ResultTTL = o.Coordinator.ResultTTL
	}
}
