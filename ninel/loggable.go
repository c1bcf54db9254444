package ninel

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Loggable provides optional error and trace logging. A nil logger
// silences that channel.
type Loggable struct {
	ErrorLog, TraceLog Logger
}

func (l *Loggable) Errorf(format string, v ...interface{}) {
	if l.ErrorLog != nil {
		l.ErrorLog.Printf(format, v...)
	}
}

func (l *Loggable) Tracef(format string, v ...interface{}) {
	if l.TraceLog != nil {
		l.TraceLog.Printf(format, v...)
	}
}
