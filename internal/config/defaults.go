package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:       "~/.config/thinkbrief",
			SQLiteFile: "thinkbrief.db",
		},
		Cache: CacheConfig{
			Enabled:    true,
			File:       "mirror.db",
			MaxRecords: 200,
		},
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           5000,
			MaxUploadBytes: 20971520,
		},
		Identity: IdentityConfig{
			BaseURL:        "http://localhost:5001",
			TimeoutSeconds: 10,
		},
		Inference: InferenceConfig{
			BaseURL:        "http://localhost:5005",
			TimeoutSeconds: 120,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
