package loggerfile

import (
	"os"
	"path/filepath"
	"time"

	"github.com/meta-node-blockchain/ben-or/pkg/logger"
)

// LogCleaner quản lý việc xóa file trace cũ
type LogCleaner struct {
	logDir string
	maxAge time.Duration
	stop   chan struct{}
}

// NewLogCleaner tạo mới một LogCleaner; maxAge 0 xoá mọi file.
func NewLogCleaner(logDir string, maxAge time.Duration) *LogCleaner {
	return &LogCleaner{
		logDir: logDir,
		maxAge: maxAge,
		stop:   make(chan struct{}),
	}
}

// CleanLogs xóa các file trace cũ hơn maxAge và trả về số file đã xoá.
func (lc *LogCleaner) CleanLogs() (int, error) {
	if _, err := os.Stat(lc.logDir); os.IsNotExist(err) {
		return 0, nil
	}

	cutoff := time.Now().Add(-lc.maxAge)
	removed := 0
	err := filepath.Walk(lc.logDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".log" {
			return nil
		}
		if lc.maxAge > 0 && info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			logger.Error("Không thể xóa file %s: %v", path, err)
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		logger.Info("Đã xóa %d file trace trong %s", removed, lc.logDir)
	}
	return removed, nil
}

// StartPeriodicCleanup chạy CleanLogs theo chu kỳ interval cho tới khi Stop.
func (lc *LogCleaner) StartPeriodicCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := lc.CleanLogs(); err != nil {
					logger.Error("Lỗi khi xóa logs tự động: %v", err)
				}
			case <-lc.stop:
				return
			}
		}
	}()
}

// Stop dừng lịch trình xóa logs
func (lc *LogCleaner) Stop() {
	close(lc.stop)
}
