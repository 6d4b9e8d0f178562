package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DebugEnvVar enables debug output when set to "true"
const DebugEnvVar = "DIP_BOT_DEBUG"

// Logger writes engine activity to the console and to a per-session log file
type Logger struct {
	name    string
	zap     *zap.Logger
	level   zap.AtomicLevel
	logFile *os.File
	logDir  string
	started time.Time
	mu      sync.Mutex
}

// LogLevel represents different types of log entries
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARN"
	LogLevelError   LogLevel = "ERROR"
	LogLevelTrade   LogLevel = "TRADE"
	LogLevelStatus  LogLevel = "STATUS"
)

// Options controls where and how verbosely the logger writes
type Options struct {
	Dir     string // defaults to "logs"
	Level   string // debug, info, warn, error
	Console bool
}

// NewLogger creates a session logger writing to <dir>/<name>_<date>.log
func NewLogger(name string, opts Options) (*Logger, error) {
	logDir := opts.Dir
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	started := time.Now()
	logPath := filepath.Join(logDir, fmt.Sprintf("%s_%s.log", name, started.Format("2006-01-02")))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	level := zap.NewAtomicLevelAt(parseLevel(opts.Level))
	if strings.EqualFold(os.Getenv(DebugEnvVar), "true") {
		level.SetLevel(zapcore.DebugLevel)
	}

	fileEncoder := zapcore.NewConsoleEncoder(encoderConfig(zapcore.CapitalLevelEncoder))
	cores := []zapcore.Core{zapcore.NewCore(fileEncoder, zapcore.AddSync(file), level)}
	if opts.Console {
		consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig(zapcore.CapitalColorLevelEncoder))
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), level))
	}

	l := &Logger{
		name:    name,
		zap:     zap.New(zapcore.NewTee(cores...)),
		level:   level,
		logFile: file,
		logDir:  logDir,
		started: started,
	}

	l.writeSessionHeader()

	return l, nil
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return &Logger{
		name:  "nop",
		zap:   zap.NewNop(),
		level: zap.NewAtomicLevelAt(zapcore.InfoLevel),
	}
}

// FromZap wraps an existing zap logger, used by tests that observe output
func FromZap(z *zap.Logger) *Logger {
	return &Logger{
		name:  "zap",
		zap:   z,
		level: zap.NewAtomicLevelAt(zapcore.DebugLevel),
	}
}

func encoderConfig(levelEncoder zapcore.LevelEncoder) zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    levelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// writeSessionHeader writes a session start header straight to the file
func (l *Logger) writeSessionHeader() {
	l.mu.Lock()
	defer l.mu.Unlock()

	header := fmt.Sprintf(`
================================================================================
🚀 ADAPTIVE DIP SESSION STARTED
================================================================================
Session: %s
Started: %s
Log File: %s
================================================================================
`, l.name, l.started.Format("2006-01-02 15:04:05"), l.GetLogPath())

	_, _ = l.logFile.WriteString(header)
}

// Log writes a formatted entry. TRADE and STATUS entries are info level
// with a kind field so they can be filtered.
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	switch level {
	case LogLevelDebug:
		l.zap.Debug(message)
	case LogLevelWarning:
		l.zap.Warn(message)
	case LogLevelError:
		l.zap.Error(message)
	case LogLevelTrade, LogLevelStatus:
		l.zap.Info(message, zap.String("kind", string(level)))
	default:
		l.zap.Info(message)
	}
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(LogLevelInfo, format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.Log(LogLevelWarning, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(LogLevelError, format, args...)
}

// Trade logs a trading action
func (l *Logger) Trade(format string, args ...interface{}) {
	l.Log(LogLevelTrade, format, args...)
}

// Status logs market status information
func (l *Logger) Status(format string, args ...interface{}) {
	l.Log(LogLevelStatus, format, args...)
}

// Debug logs only when the level is debug
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.IsDebug() {
		return
	}
	l.Log(LogLevelDebug, format, args...)
}

// SetDebug switches debug output on or off at runtime
func (l *Logger) SetDebug(enabled bool) {
	if enabled {
		l.level.SetLevel(zapcore.DebugLevel)
		return
	}
	l.level.SetLevel(zapcore.InfoLevel)
}

// IsDebug reports whether debug entries are written
func (l *Logger) IsDebug() bool {
	return l.level.Enabled(zapcore.DebugLevel)
}

// Named returns a child logger sharing the same outputs
func (l *Logger) Named(component string) *Logger {
	return &Logger{
		name:    l.name,
		zap:     l.zap.Named(component),
		level:   l.level,
		logFile: nil,
		logDir:  l.logDir,
		started: l.started,
	}
}

// Zap exposes the underlying zap logger for structured fields
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// LogTradeExecution logs a filled swap
func (l *Logger) LogTradeExecution(side, asset, txRef string, quantity, price, value, averagePrice float64) {
	l.zap.Info(fmt.Sprintf("✅ %s EXECUTED %s", strings.ToUpper(side), asset),
		zap.String("kind", string(LogLevelTrade)),
		zap.String("tx", txRef),
		zap.Float64("quantity", quantity),
		zap.Float64("price", price),
		zap.Float64("value", value),
		zap.Float64("avg_price", averagePrice),
	)
}

// LogCycleCompletion logs a strategy cycle closing out its positions
func (l *Logger) LogCycleCompletion(strategyID string, entryPrice, exitPrice, profitPercent float64, cycle int) {
	l.zap.Info("🎯 CYCLE COMPLETED",
		zap.String("kind", string(LogLevelTrade)),
		zap.String("strategy", strategyID),
		zap.Int("cycle", cycle),
		zap.Float64("entry", entryPrice),
		zap.Float64("exit", exitPrice),
		zap.Float64("pnl_percent", profitPercent),
	)
}

// LogError logs error with context
func (l *Logger) LogError(context string, err error) {
	l.Error("%s: %v", context, err)
}

// LogWarning logs warning with context
func (l *Logger) LogWarning(context string, message string, args ...interface{}) {
	fullMessage := fmt.Sprintf(context+": "+message, args...)
	l.Warning("%s", fullMessage)
}

// Close flushes zap and closes the log file
func (l *Logger) Close() error {
	_ = l.zap.Sync()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile == nil {
		return nil
	}

	footer := fmt.Sprintf(`
================================================================================
🛑 ADAPTIVE DIP SESSION ENDED
================================================================================
Ended: %s | Duration: %s
================================================================================

`, time.Now().Format("2006-01-02 15:04:05"), time.Since(l.started).Round(time.Second))
	_, _ = l.logFile.WriteString(footer)

	err := l.logFile.Close()
	l.logFile = nil
	return err
}

// GetLogPath returns the current log file path, empty when not writing to a file
func (l *Logger) GetLogPath() string {
	if l.logDir == "" {
		return ""
	}
	filename := fmt.Sprintf("%s_%s.log", l.name, l.started.Format("2006-01-02"))
	return filepath.Join(l.logDir, filename)
}
