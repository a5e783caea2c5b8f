package logging

import "sync"

// Recorder is a Logger that keeps entries in memory. Tests use it to assert
// that a path logged (or stayed silent).
type Recorder struct {
	mu      *sync.Mutex
	entries *[]RecordedEntry
	fields  []Field
	level   Level
}

// RecordedEntry is one captured log call
type RecordedEntry struct {
	Level   Level
	Message string
	Fields  map[string]any
}

// NewRecorder creates a Recorder capturing every level
func NewRecorder() *Recorder {
	return &Recorder{
		mu:      &sync.Mutex{},
		entries: &[]RecordedEntry{},
		level:   DebugLevel,
	}
}

func (r *Recorder) record(level Level, msg string, fields []Field) {
	if level < r.level {
		return
	}
	m := make(map[string]any, len(r.fields)+len(fields))
	for _, f := range r.fields {
		m[f.Key] = f.Value
	}
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	r.mu.Lock()
	*r.entries = append(*r.entries, RecordedEntry{Level: level, Message: msg, Fields: m})
	r.mu.Unlock()
}

func (r *Recorder) Debug(msg string, fields ...Field) { r.record(DebugLevel, msg, fields) }
func (r *Recorder) Info(msg string, fields ...Field)  { r.record(InfoLevel, msg, fields) }
func (r *Recorder) Warn(msg string, fields ...Field)  { r.record(WarnLevel, msg, fields) }
func (r *Recorder) Error(msg string, fields ...Field) { r.record(ErrorLevel, msg, fields) }

func (r *Recorder) With(fields ...Field) Logger {
	child := *r
	child.fields = append(append([]Field{}, r.fields...), fields...)
	return &child
}

func (r *Recorder) SetLevel(level Level) { r.level = level }
func (r *Recorder) GetLevel() Level      { return r.level }

// Entries returns a copy of everything recorded so far
func (r *Recorder) Entries() []RecordedEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedEntry, len(*r.entries))
	copy(out, *r.entries)
	return out
}

// Messages returns the messages recorded at or above level
func (r *Recorder) Messages(level Level) []string {
	var out []string
	for _, e := range r.Entries() {
		if e.Level >= level {
			out = append(out, e.Message)
		}
	}
	return out
}
