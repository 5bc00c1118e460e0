package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"image-shrinker-go/internal/codec"
	"image-shrinker-go/internal/config"
	"image-shrinker-go/internal/logger"
	"image-shrinker-go/internal/statistics"
	"image-shrinker-go/internal/walker"
	"image-shrinker-go/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	sourceDir  string
	maxSizeKiB int64
	minQuality int
	noWebP     bool
	dryRun     bool
	verbose    bool
	quiet      bool
	port       int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "image-shrinker [directory]",
	Short: "Recompress images on disk to fit a byte-size budget",
	Long: `ImageShrinker recursively finds JPEG, PNG and WebP files above a
configurable size budget and recompresses them in place, preserving
transparency and aspect ratio.

Features:
- Quality-then-scale convergence to the byte budget
- Opaque PNGs converted to JPEG, transparent PNGs to WebP when needed
- Alpha channels are never lost
- All candidate encodings happen in memory; no oversized intermediates
  ever touch the disk
- Dry-run mode for safe testing
- Comprehensive logging and statistics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShrink(args)
	},
}

// scanCmd reports candidate files without modifying anything.
var scanCmd = &cobra.Command{
	Use:   "scan [directory]",
	Short: "Scan directory and report oversized images without compressing",
	Long: `Scan the specified directory (or current directory) and display
which files exceed the size budget and how each would be handled,
without actually compressing them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(args)
	},
}

// testDecodeCmd classifies one file for debugging.
var testDecodeCmd = &cobra.Command{
	Use:   "test-decode <file>",
	Short: "Decode a single file and show its classification",
	Long: `Decodes a single image and prints its dimensions, transparency and
the compression policy class it would fall into. Useful for debugging
format and alpha detection.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTestDecode(args[0])
	},
}

// serveCmd starts the web interface server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start web interface server",
	Long: `Starts a web server with a graphical interface for ImageShrinker.
The web interface allows you to:
- Browse and select directories
- Adjust the size budget per run
- Monitor compression progress in real-time
- View statistics and results

Access the interface at http://localhost:<port> (default: 8080)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	rootCmd.Flags().StringVar(&sourceDir, "source", "", "directory containing images (default: current directory)")
	rootCmd.Flags().Int64Var(&maxSizeKiB, "max-size", 0, "size budget in KiB (default: 512)")
	rootCmd.Flags().IntVar(&minQuality, "min-quality", 0, "lossy quality floor (default: 20)")
	rootCmd.Flags().BoolVar(&noWebP, "no-webp", false, "never convert transparent PNGs to WebP")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report candidates without modifying any files")

	serveCmd.Flags().IntVar(&port, "port", 8080, "port to run web server on")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(testDecodeCmd)
	rootCmd.AddCommand(serveCmd)
}

// initConfig loads configuration file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.image-shrinker")
		viper.AddConfigPath("/etc/image-shrinker")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// runShrink executes the main compression logic.
func runShrink(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if dryRun {
		cfg.Security.DryRun = true
	}

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()
	w := walker.New(cfg, log, stats, codec.NewImagingCodec())

	if err := w.Run(); err != nil {
		return fmt.Errorf("compression run failed: %w", err)
	}

	if !quiet {
		fmt.Println("\n" + stats.GetSummary())
		if stats.GetFilesWithErrors() > 0 {
			fmt.Println("\n" + stats.GetErrorSummary())
		}
	}

	return nil
}

// runScan reports candidate files without modifying them.
func runScan(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg.Security.DryRun = true

	fmt.Fprintf(os.Stderr, "Scanning directory: %s\n", cfg.SourceDirectory)

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()
	w := walker.New(cfg, log, stats, codec.NewImagingCodec())

	if err := w.Run(); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if !quiet {
		fmt.Println("\n==================================================")
		fmt.Println("SCAN RESULTS")
		fmt.Println("==================================================")
		fmt.Println("\n" + stats.GetSummary())
	}

	return nil
}

// runTestDecode decodes and classifies a single file.
func runTestDecode(filePath string) error {
	if !fileExists(filePath) {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	fmt.Printf("Testing decode for: %s\n", filePath)

	c := codec.NewImagingCodec()
	img, err := c.Decode(filePath)
	if err != nil {
		fmt.Printf("Error decoding: %v\n", err)
		return nil
	}

	b := img.Bounds()
	fmt.Printf("Dimensions: %dx%d\n", b.Dx(), b.Dy())
	fmt.Printf("Has alpha: %v\n", c.HasAlpha(img))

	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe() error {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG LOAD ERROR: %v\n", err)
		cfg = config.DefaultConfig()
		cfg.Security.DryRun = true
	}

	log := setupLogger(cfg)
	server := web.NewServer(cfg, log, codec.NewImagingCodec())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("ImageShrinker web interface started!\n")
	fmt.Printf("Open your browser and go to: http://localhost:%d\n", port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}

// loadConfig loads configuration and applies CLI overrides.
func loadConfig(args []string) (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	if sourceDir != "" {
		cfg.SourceDirectory = sourceDir
	}

	if len(args) > 0 {
		cfg.SourceDirectory = args[0]
	}

	if cfg.SourceDirectory == "" {
		cfg.SourceDirectory = "."
	}

	if maxSizeKiB > 0 {
		cfg.Compression.MaxFileSize = maxSizeKiB * 1024
	}
	if minQuality > 0 {
		cfg.Compression.MinQuality = minQuality
	}
	if noWebP {
		cfg.Compression.AllowPNGToWebP = false
	}

	if !dirExists(cfg.SourceDirectory) {
		return nil, fmt.Errorf("source directory does not exist: %s", cfg.SourceDirectory)
	}

	return cfg, nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// dirExists returns true if the given path exists and is a directory.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
