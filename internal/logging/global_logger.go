// Package logging wires logrus with lumberjack-rotated output and a
// request-id propagation scheme shared by the Gin middleware stack and the
// dispatch loop.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	setupOnce sync.Once
	writerMu  sync.Mutex
	logWriter *lumberjack.Logger
)

// SetupBaseLogger configures the shared logrus instance and routes Gin's own
// debug output through it. Safe to call more than once; runs once.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&Formatter{})

		infoWriter := log.StandardLogger().Writer()
		gin.DefaultWriter = infoWriter
		gin.DefaultErrorWriter = log.StandardLogger().WriterLevel(log.ErrorLevel)
	})
}

// FileConfig controls rotation of the on-disk log file (§ ambient stack:
// AMBIENT — logging).
type FileConfig struct {
	Enabled bool
	Dir     string
	// MaxSizeMB is the per-file rotation threshold.
	MaxSizeMB int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}

// ConfigureOutput switches the global log destination between a rotating
// file and stdout, matching a config hot-reload event.
func ConfigureOutput(cfg FileConfig) error {
	SetupBaseLogger()

	writerMu.Lock()
	defer writerMu.Unlock()

	if !cfg.Enabled {
		if logWriter != nil {
			_ = logWriter.Close()
			logWriter = nil
		}
		log.SetOutput(os.Stdout)
		return nil
	}

	dir := cfg.Dir
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("logging: create log directory: %w", err)
	}
	if logWriter != nil {
		_ = logWriter.Close()
	}
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	logWriter = &lumberjack.Logger{
		Filename:   filepath.Join(dir, "relaygate.log"),
		MaxSize:    maxSize,
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	log.SetOutput(logWriter)
	return nil
}
