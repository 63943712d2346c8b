package main

import (
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"blockvfs/internal/config"
	"blockvfs/internal/logging"
	"blockvfs/internal/mount"
	"blockvfs/internal/storage"
	"blockvfs/internal/vfs"
)

var logger = logging.GetLogger()

func main() {
	configPath := flag.String("config", "", "Path to JSON or YAML config file")
	imagePath := flag.String("image", "", "Backing image file (overrides config)")
	mountPoint := flag.String("mount", "", "Mount point for the filesystem (overrides config)")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	pretty := flag.Bool("pretty", false, "Render logs for a console instead of JSON")
	flag.Parse()

	manager, err := config.NewManager(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	cfg := manager.GetConfig()

	if *imagePath != "" {
		cfg.ImagePath = *imagePath
	}
	if *mountPoint != "" {
		cfg.MountPoint = *mountPoint
	}

	if *pretty || cfg.PrettyLogs {
		logging.SetPretty(true)
	}
	if *verbose || cfg.DebugMode {
		logger.SetLevel(logging.LevelDebug)
	}

	logger.Info("Starting blockvfs...")
	logger.Debug("Image: %s", cfg.ImagePath)
	logger.Debug("Mount point: %s", cfg.MountPoint)

	if cfg.MountPoint == "" {
		logger.Error("A mount point is required (use -mount or the config file)")
		os.Exit(1)
	}
	cleanMount := filepath.Clean(cfg.MountPoint)

	store, err := storage.Open(cfg.ImagePath, cfg.BlockSize, cfg.BlockCount)
	if err != nil {
		logger.Error("Failed to open image: %v", err)
		os.Exit(1)
	}

	filesystem, err := vfs.New(store)
	if err != nil {
		logger.Error("Failed to create filesystem: %v", err)
		store.Close()
		os.Exit(1)
	}

	logger.Debug("Setting up signal handlers...")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	adapter := mount.New(filesystem)
	if err := adapter.Mount(cleanMount); err != nil {
		logger.Error("Mount failed: %v", err)
		filesystem.Shutdown()
		os.Exit(1)
	}

	logger.Info("Filesystem mounted and ready")

	go func() {
		sig := <-sigChan
		logger.Info("Received signal %v", sig)
		if err := adapter.Unmount(cleanMount); err != nil {
			logger.Error("Unmount error: %v", err)
		}
	}()

	adapter.Wait()

	if err := filesystem.Shutdown(); err != nil {
		logger.Error("Shutdown error: %v", err)
	}
	logger.Info("Clean shutdown complete")
}
