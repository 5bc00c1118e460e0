package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	SourceDirectory     string            `mapstructure:"source_directory"`
	SupportedExtensions []string          `mapstructure:"supported_extensions"`
	Compression         CompressionConfig `mapstructure:"compression"`
	Performance         PerformanceConfig `mapstructure:"performance"`
	Security            SecurityConfig    `mapstructure:"security"`
	Logging             LoggingConfig     `mapstructure:"logging"`
}

// CompressionConfig contains the byte-budget search settings. It is read-only
// during a run; the planner receives it as an immutable target.
type CompressionConfig struct {
	MaxFileSize    int64   `mapstructure:"max_file_size"` // bytes; files above this are recompressed
	MinQuality     int     `mapstructure:"min_quality"`
	QualityStep    int     `mapstructure:"quality_step"`
	StartQuality   int     `mapstructure:"start_quality"`
	DownscaleRatio float64 `mapstructure:"downscale_ratio"`
	AllowPNGToWebP bool    `mapstructure:"allow_png_to_webp"`
	MarkProcessed  bool    `mapstructure:"mark_processed"` // stamp EXIF Software tag on JPEG outputs
}

// PerformanceConfig contains performance tuning settings
type PerformanceConfig struct {
	BatchSize     int  `mapstructure:"batch_size"`
	WorkerThreads int  `mapstructure:"worker_threads"`
	ShowProgress  bool `mapstructure:"show_progress"`
}

// SecurityConfig contains safety settings
type SecurityConfig struct {
	DryRun         bool `mapstructure:"dry_run"`
	MaxFilesPerRun int  `mapstructure:"max_files_per_run"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		SourceDirectory: ".",
		SupportedExtensions: []string{
			".jpg", ".jpeg", ".png", ".webp",
		},
		Compression: CompressionConfig{
			MaxFileSize:    512 * 1024,
			MinQuality:     20,
			QualityStep:    5,
			StartQuality:   95,
			DownscaleRatio: 0.9,
			AllowPNGToWebP: true,
			MarkProcessed:  true,
		},
		Performance: PerformanceConfig{
			BatchSize:     100,
			WorkerThreads: 4,
			ShowProgress:  true,
		},
		Security: SecurityConfig{
			DryRun:         false,
			MaxFilesPerRun: 0, // 0 means no limit
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "image-shrinker.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.image-shrinker")
		viper.AddConfigPath("/etc/image-shrinker")
	}

	// Enable environment variable support
	viper.SetEnvPrefix("IMAGE_SHRINKER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Try to read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	// Unmarshal config
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate and normalize config
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.SourceDirectory == "" {
		c.SourceDirectory = "."
	}

	if !isValidPath(c.SourceDirectory) {
		return fmt.Errorf("source_directory does not exist or is not accessible: %s", c.SourceDirectory)
	}

	if c.Compression.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive, got %d", c.Compression.MaxFileSize)
	}

	if c.Compression.MinQuality < 1 || c.Compression.MinQuality > 100 {
		return fmt.Errorf("min_quality must be in [1,100], got %d", c.Compression.MinQuality)
	}

	if c.Compression.StartQuality < c.Compression.MinQuality || c.Compression.StartQuality > 100 {
		return fmt.Errorf("start_quality must be between min_quality and 100, got %d", c.Compression.StartQuality)
	}

	if c.Compression.QualityStep < 1 {
		return fmt.Errorf("quality_step must be at least 1, got %d", c.Compression.QualityStep)
	}

	if c.Compression.DownscaleRatio <= 0 || c.Compression.DownscaleRatio >= 1 {
		return fmt.Errorf("downscale_ratio must be between 0 and 1 exclusive, got %g", c.Compression.DownscaleRatio)
	}

	// Validate extensions format
	c.SupportedExtensions = normalizeExtensions(c.SupportedExtensions)
	if len(c.SupportedExtensions) == 0 {
		return fmt.Errorf("supported_extensions must not be empty")
	}

	// Validate performance settings
	if c.Performance.BatchSize <= 0 {
		c.Performance.BatchSize = 100
	}
	if c.Performance.WorkerThreads <= 0 {
		c.Performance.WorkerThreads = 4
	}

	// Validate logging settings
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// IsSupportedExtension checks if the extension is in the configured set
func (c *Config) IsSupportedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, supportedExt := range c.SupportedExtensions {
		if ext == supportedExt {
			return true
		}
	}
	return false
}

// Helper functions

func isValidPath(path string) bool {
	if path == "" {
		return false
	}

	expandedPath := os.ExpandEnv(path)
	if strings.HasPrefix(expandedPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return false
		}
		expandedPath = filepath.Join(home, expandedPath[1:])
	}

	stat, err := os.Stat(expandedPath)
	return err == nil && stat.IsDir()
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, len(extensions))
	for i, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[i] = ext
	}
	return normalized
}
