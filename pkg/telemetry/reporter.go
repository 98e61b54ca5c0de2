package telemetry

import (
	"github.com/rs/zerolog"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
)

// Reporter adapts a Logger to engine.Reporter.
//
// Map fields are flattened into the log event; any other value is attached
// under the "context" key.
type Reporter struct {
	logger    *Logger
	namespace string
}

var _ engine.Reporter = (*Reporter)(nil)

// NewReporter returns a reporter logging through l.
func NewReporter(l *Logger) *Reporter {
	return &Reporter{logger: l}
}

// Namespace returns the dotted namespace of the reporter.
func (r *Reporter) Namespace() string {
	return r.namespace
}

func (r *Reporter) Debug(msg string, fields any) { r.emit(r.logger.zlog.Debug(), msg, fields) }
func (r *Reporter) Info(msg string, fields any)  { r.emit(r.logger.zlog.Info(), msg, fields) }
func (r *Reporter) Warn(msg string, fields any)  { r.emit(r.logger.zlog.Warn(), msg, fields) }
func (r *Reporter) Error(msg string, fields any) { r.emit(r.logger.zlog.Error(), msg, fields) }

// Child returns a reporter whose namespace is extended by ns.
func (r *Reporter) Child(ns string) engine.Reporter {
	full := ns
	if r.namespace != "" {
		full = r.namespace + "." + ns
	}
	return &Reporter{
		logger:    &Logger{zlog: r.logger.zlog.With().Str("namespace", full).Logger(), config: r.logger.config},
		namespace: full,
	}
}

func (r *Reporter) emit(e *zerolog.Event, msg string, fields any) {
	switch f := fields.(type) {
	case nil:
	case map[string]any:
		e = e.Fields(f)
	case error:
		e = e.Err(f)
	default:
		e = e.Interface("context", f)
	}
	e.Msg(msg)
}
