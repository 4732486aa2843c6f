package loggerfile

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileLogger struct quản lý ghi log vào file
type FileLogger struct {
	file  *os.File
	path  string
	mutex sync.Mutex
}

// NewFileLogger tạo mới một FileLogger tại logDir/filePath, tạo thư mục con nếu cần.
func NewFileLogger(logDir, filePath string) (*FileLogger, error) {
	full := filepath.Join(logDir, filePath)
	if err := os.MkdirAll(filepath.Dir(full), os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	file, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return &FileLogger{file: file, path: full}, nil
}

// RunPath là đường dẫn tương đối của file trace cho một lần chạy engine.
func RunPath(nodeID int, runID string) string {
	return filepath.Join(fmt.Sprintf("Note_%d", nodeID), runID+".log")
}

// NewRunTrace mở file trace logDir/Note_<node>/<run>.log.
func NewRunTrace(logDir string, nodeID int, runID string) (*FileLogger, error) {
	return NewFileLogger(logDir, RunPath(nodeID, runID))
}

func (fl *FileLogger) Path() string {
	if fl == nil {
		return ""
	}
	return fl.path
}

// Log ghi một message đơn giản vào file
func (fl *FileLogger) Log(message string) {
	if fl == nil {
		return
	}

	fl.mutex.Lock()
	defer fl.mutex.Unlock()

	timestamp := time.Now().Format(time.RFC3339Nano)
	if _, err := fmt.Fprintf(fl.file, "%s: %s\n", timestamp, message); err != nil {
		log.Printf("Failed to write log message: %v", err)
	}
}

// Info ghi một message định dạng vào file
func (fl *FileLogger) Info(message interface{}, a ...interface{}) {
	if fl == nil {
		return
	}
	fl.Log(fmt.Sprintf(fmt.Sprint(message), a...))
}

// Close đóng file log
func (fl *FileLogger) Close() {
	if fl == nil {
		return
	}

	fl.mutex.Lock()
	defer fl.mutex.Unlock()
	if err := fl.file.Close(); err != nil {
		log.Printf("Error closing file: %v", err)
	}
}
