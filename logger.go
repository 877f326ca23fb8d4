package raffle

import "log"

// DefaultLogger implements Logger using standard log package.
// Debug output is only written when Verbose is set.
type DefaultLogger struct {
	Prefix  string
	Verbose bool
}

// NewDefaultLogger creates a logger that tags every line with the given component prefix
func NewDefaultLogger(prefix string, verbose bool) *DefaultLogger {
	return &DefaultLogger{Prefix: prefix, Verbose: verbose}
}

func (l *DefaultLogger) printf(level, msg string, args ...any) {
	if l.Prefix != "" {
		log.Printf("["+level+"] "+l.Prefix+": "+msg, args...)
		return
	}
	log.Printf("["+level+"] "+msg, args...)
}

// Info logs an info message
func (l *DefaultLogger) Info(msg string, args ...any) { l.printf("INFO", msg, args...) }

// Error logs an error message
func (l *DefaultLogger) Error(msg string, args ...any) { l.printf("ERROR", msg, args...) }

// Debug logs a debug message
func (l *DefaultLogger) Debug(msg string, args ...any) {
	if !l.Verbose {
		return
	}
	l.printf("DEBUG", msg, args...)
}

// SilentLogger implements Logger interface but does not output any logs
// This is useful for testing environments where log output is not desired
type SilentLogger struct{}

// NewSilentLogger creates a new silent logger instance
func NewSilentLogger() *SilentLogger {
	return &SilentLogger{}
}

// Info does nothing (silent)
func (l *SilentLogger) Info(msg string, args ...any) {}

// Error does nothing (silent)
func (l *SilentLogger) Error(msg string, args ...any) {}

// Debug does nothing (silent)
func (l *SilentLogger) Debug(msg string, args ...any) {}
