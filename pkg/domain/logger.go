package domain

// Logger is the leveled, key-value logging port used across all layers. The
// domain layer defines it so application and infrastructure code can log
// without binding to a concrete logging backend.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Debugf(format string, args ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Infof(format string, args ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Warnf(format string, args ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(msg string, keysAndValues ...interface{})
	Fatalf(format string, args ...interface{})
}
