package log

import (
	"github.com/sirupsen/logrus"

	"firestige.xyz/dissector/internal/core"
)

// Field keys with a placeholder of their own in the pattern formatter.
const (
	FieldPacket = "packet"
	FieldLayer  = "layer"
	FieldOffset = "offset"
)

type logrusAdapter struct {
	entry *logrus.Entry
}

func (l *logrusAdapter) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusAdapter) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusAdapter) Info(args ...interface{})                  { l.entry.Info(args...) }
func (l *logrusAdapter) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusAdapter) Warn(args ...interface{})                  { l.entry.Warn(args...) }
func (l *logrusAdapter) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusAdapter) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *logrusAdapter) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusAdapter) with(e *logrus.Entry) Logger { return &logrusAdapter{entry: e} }

func (l *logrusAdapter) WithField(field string, value interface{}) Logger {
	return l.with(l.entry.WithField(field, value))
}

func (l *logrusAdapter) WithFields(fields map[string]interface{}) Logger {
	return l.with(l.entry.WithFields(fields))
}

func (l *logrusAdapter) WithError(err error) Logger {
	return l.with(l.entry.WithError(err))
}

// WithLayer tags entries with the packet and the layer being dissected.
func (l *logrusAdapter) WithLayer(pc core.PacketContext) Logger {
	return l.with(l.entry.WithFields(logrus.Fields{
		FieldPacket: pc.ID,
		FieldLayer:  pc.Tag,
		FieldOffset: pc.Start,
	}))
}

func (l *logrusAdapter) IsTraceEnabled() bool { return l.entry.Logger.IsLevelEnabled(logrus.TraceLevel) }
func (l *logrusAdapter) IsDebugEnabled() bool { return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel) }
func (l *logrusAdapter) IsInfoEnabled() bool  { return l.entry.Logger.IsLevelEnabled(logrus.InfoLevel) }
