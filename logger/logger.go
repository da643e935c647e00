package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/zhubert/devmonitor/paths"
)

// Log rotation limits
const (
	MaxSizeMB  = 10
	MaxBackups = 3
	MaxAgeDays = 28
)

const logFileName = "devmonitor.log"

var (
	root     *slog.Logger
	levelVar = new(slog.LevelVar)
	sink     io.WriteCloser
	mu       sync.Mutex
	logPath  string
	initDone bool
)

// DefaultLogPath returns the default log file path
func DefaultLogPath() (string, error) {
	dir, err := paths.LogsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, logFileName), nil
}

// Path returns the file the logger writes to, or "" before initialization.
func Path() string {
	mu.Lock()
	defer mu.Unlock()
	return logPath
}

// SetDebug enables or disables debug level logging
func SetDebug(enabled bool) {
	if enabled {
		levelVar.Set(slog.LevelDebug)
	} else {
		levelVar.Set(slog.LevelInfo)
	}
}

type discardCloser struct{ io.Writer }

func (discardCloser) Close() error { return nil }

// openSink returns a rotating writer for path. os.DevNull is never rotated.
func openSink(path string) (io.WriteCloser, error) {
	if path == os.DevNull {
		return discardCloser{io.Discard}, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	// Fail early on an unwritable path; lumberjack only opens on first write.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	f.Close()

	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    MaxSizeMB,
		MaxBackups: MaxBackups,
		MaxAge:     MaxAgeDays,
		Compress:   true,
	}, nil
}

// install sets the root logger. Caller must hold mu.
func install(path string, w io.WriteCloser) {
	logPath = path
	sink = w
	root = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: levelVar}))
	initDone = true
	root.Info("logger initialized", "path", path)
}

// Init initializes the logger with a custom path. Must be called before logging.
// If not called, the default path will be used on first log call.
// Returns an error if the log file cannot be opened.
func Init(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if initDone {
		return nil
	}

	w, err := openSink(path)
	if err != nil {
		return err
	}
	install(path, w)
	return nil
}

// ensureInit initializes the logger with default settings if not already initialized.
// Caller must hold mu.
func ensureInit() {
	if initDone {
		return
	}

	defaultPath, err := DefaultLogPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to get default log path: %v\n", err)
		return
	}

	w, err := openSink(defaultPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return
	}
	install(defaultPath, w)
}

// Get returns the root logger instance.
// Use this when you don't have conversation context.
func Get() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	ensureInit()

	if root == nil {
		return slog.Default()
	}
	return root
}

// WithConversation returns a logger with the conversation ID attached.
// All log entries from this logger will include conversationID as a structured field.
//
// Example:
//
//	log := logger.WithConversation(client.ConversationID())
//	log.Info("reply correlated", "messageID", id)
//	// Output: level=INFO msg="reply correlated" conversationID=abc123 messageID=...
func WithConversation(conversationID string) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	ensureInit()

	if root == nil {
		return slog.Default().With("conversationID", conversationID)
	}
	return root.With("conversationID", conversationID)
}

// WithComponent returns a logger with the component name attached.
// Useful for logging that is not tied to one conversation.
func WithComponent(component string) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	ensureInit()

	if root == nil {
		return slog.Default().With("component", component)
	}
	return root.With("component", component)
}

// Close closes the log file
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if sink != nil {
		sink.Close()
		sink = nil
	}
	root = nil
}

// Reset resets the logger state, allowing reinitialization.
// This is primarily for testing purposes.
func Reset() {
	mu.Lock()
	defer mu.Unlock()

	if sink != nil {
		sink.Close()
		sink = nil
	}
	initDone = false
	logPath = ""
	root = nil
	levelVar = new(slog.LevelVar)
}

// ClearLogs removes the devmonitor log and its rotated backups from the
// logs directory. Returns the number of files removed.
func ClearLogs() (int, error) {
	defaultPath, err := DefaultLogPath()
	if err != nil {
		return 0, fmt.Errorf("failed to get default log path: %w", err)
	}
	return clearLogsAt(defaultPath)
}

func clearLogsAt(path string) (int, error) {
	count := 0

	if err := os.Remove(path); err == nil {
		count++
	} else if !os.IsNotExist(err) {
		return count, err
	}

	// lumberjack names backups <name>-<timestamp><ext>, optionally gzipped
	ext := filepath.Ext(path)
	prefix := strings.TrimSuffix(path, ext) + "-"
	backups, err := filepath.Glob(prefix + "*" + ext + "*")
	if err != nil {
		return count, err
	}

	for _, backup := range backups {
		if err := os.Remove(backup); err == nil {
			count++
		} else if !os.IsNotExist(err) {
			return count, err
		}
	}

	return count, nil
}
