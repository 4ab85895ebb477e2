package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter writes events to an io.Writer, one line per event, either as
// key=value text or as JSON Lines.
type LogEmitter struct {
	w    io.Writer
	json bool
}

// NewLogEmitter creates a LogEmitter. A nil writer defaults to os.Stdout.
func NewLogEmitter(w io.Writer, jsonMode bool) *LogEmitter {
	if w == nil {
		w = os.Stdout
	}
	return &LogEmitter{w: w, json: jsonMode}
}

func (l *LogEmitter) Emit(event Event) {
	if l.json {
		l.writeJSON(event)
		return
	}
	l.writeText(event)
}

func (l *LogEmitter) writeJSON(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		fmt.Fprintf(l.w, "{\"error\":%q}\n", err.Error())
		return
	}
	fmt.Fprintf(l.w, "%s\n", data)
}

func (l *LogEmitter) writeText(event Event) {
	fmt.Fprintf(l.w, "[%s] run=%s tag=%s key=%s", event.Msg, event.ContextID, event.Tag, event.KeyString)
	if len(event.Meta) > 0 {
		if metaJSON, err := json.Marshal(event.Meta); err == nil {
			fmt.Fprintf(l.w, " meta=%s", metaJSON)
		}
	}
	fmt.Fprint(l.w, "\n")
}

func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		l.Emit(e)
	}
	return nil
}

func (l *LogEmitter) Flush(context.Context) error { return nil }
