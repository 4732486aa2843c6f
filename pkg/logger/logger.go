package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// --- Constants for log levels ---
const (
	FLAG_TRACE = 5
	FLAG_DEBUG = 4
	FLAG_INFO  = 3
	FLAG_WARN  = 2
	FLAG_ERROR = 1
	FLAG_OFF   = 0
)

// --- ANSI color codes ---
const (
	Reset  = "\033[0m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Cyan   = "\033[36m"
)

// --- Structs ---
type LoggerConfig struct {
	Flag       int
	Identifier string
	Outputs    []io.Writer
	// Plain tắt mã màu ANSI, dùng khi ghi ra file hoặc trong test.
	Plain bool
}

type Logger struct {
	mu     sync.Mutex
	Config *LoggerConfig
}

// --- Global state ---
var config = &LoggerConfig{
	Flag:    FLAG_INFO,
	Outputs: []io.Writer{os.Stdout},
}

var logger = &Logger{Config: config}

// --- Configuration ---
func SetConfig(newConfig *LoggerConfig) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	*config = *newConfig
	logger.Config = config
}

func SetOutputs(outputs ...io.Writer) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	config.Outputs = outputs
}

func SetFlag(flag int) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	config.Flag = flag
}

func SetIdentifier(identifier string) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	config.Identifier = identifier
}

func SetPlain(plain bool) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	config.Plain = plain
}

// ParseLevel chuyển tên level ("trace", "debug", "info", "warn", "error", "off") thành flag.
func ParseLevel(level string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return FLAG_TRACE, nil
	case "debug":
		return FLAG_DEBUG, nil
	case "", "info":
		return FLAG_INFO, nil
	case "warn", "warning":
		return FLAG_WARN, nil
	case "error":
		return FLAG_ERROR, nil
	case "off", "none":
		return FLAG_OFF, nil
	}
	return FLAG_INFO, fmt.Errorf("unknown log level %q", level)
}

// --- Public Log API ---
func Trace(msg interface{}, a ...interface{}) { log(FLAG_TRACE, Blue, "TRACE", msg, a...) }
func Debug(msg interface{}, a ...interface{}) { log(FLAG_DEBUG, Cyan, "DEBUG", msg, a...) }
func Info(msg interface{}, a ...interface{})  { log(FLAG_INFO, Green, "INFO", msg, a...) }
func Warn(msg interface{}, a ...interface{})  { log(FLAG_WARN, Yellow, "WARN", msg, a...) }

func Error(msg interface{}, a ...interface{}) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	if config.Flag < FLAG_ERROR {
		return
	}
	logger.writeToError(formatConsoleLog(Red, "ERROR", msg, a...))
}

// --- Internal Logging Logic ---
func log(level int, color, prefix string, msg interface{}, a ...interface{}) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	if config.Flag >= level {
		logger.writeToOutputs(formatConsoleLog(color, prefix, msg, a...))
	}
}

func (l *Logger) writeToOutputs(buffer []byte) {
	for _, out := range l.Config.Outputs {
		if out != nil {
			out.Write(buffer)
		}
	}
}

// writeToError ghi lỗi ra stderr, hoặc ra outputs nếu đã được cấu hình khác stdout.
func (l *Logger) writeToError(buffer []byte) {
	if len(l.Config.Outputs) == 1 && l.Config.Outputs[0] == io.Writer(os.Stdout) {
		os.Stderr.Write(buffer)
		return
	}
	l.writeToOutputs(buffer)
}

func formatMessage(buffer *bytes.Buffer, msg interface{}, a ...interface{}) {
	if str, ok := msg.(string); ok && len(a) > 0 {
		fmt.Fprintf(buffer, str, a...)
		return
	}
	fmt.Fprint(buffer, msg)
	for _, item := range a {
		fmt.Fprintf(buffer, " %v", item)
	}
}

func formatConsoleLog(color, prefix string, msg interface{}, a ...interface{}) []byte {
	var contentBuffer bytes.Buffer
	if config.Identifier != "" {
		fmt.Fprintf(&contentBuffer, "[%s] ", config.Identifier)
	}
	formatMessage(&contentBuffer, msg, a...)

	lines := strings.Split(contentBuffer.String(), "\n")
	var buffer bytes.Buffer
	header := fmt.Sprintf(" %s ", time.Now().Format("15:04:05.000"))
	if !config.Plain {
		buffer.WriteString(color)
	}
	fmt.Fprintf(&buffer, "┌─[%s]%s\n", prefix, header)
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			fmt.Fprintf(&buffer, "│  %s\n", line)
		}
	}
	buffer.WriteString("└" + strings.Repeat("─", len(prefix)+len(header)+3))
	if !config.Plain {
		buffer.WriteString(Reset)
	}
	buffer.WriteString("\n")
	return buffer.Bytes()
}
