package logbus

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// ConsoleSink prints log lines as "15:04:05.000 INFO  msg key=value ...".
type ConsoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

var levelColors = map[string]*color.Color{
	"debug": color.New(color.FgHiBlack),
	"info":  color.New(color.FgCyan),
	"warn":  color.New(color.FgYellow),
	"error": color.New(color.FgRed, color.Bold),
}

func (s *ConsoleSink) Write(at time.Time, data LogData) {
	tag := fmt.Sprintf("%-5s", strings.ToUpper(data.Level))
	if c, ok := levelColors[data.Level]; ok {
		tag = c.Sprint(tag)
	}

	var sb strings.Builder
	sb.WriteString(at.Format("15:04:05.000"))
	sb.WriteByte(' ')
	sb.WriteString(tag)
	sb.WriteByte(' ')
	sb.WriteString(data.Msg)

	keys := make([]string, 0, len(data.Fields))
	for k := range data.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, data.Fields[k])
	}
	sb.WriteByte('\n')

	s.mu.Lock()
	_, _ = io.WriteString(s.w, sb.String())
	s.mu.Unlock()
}
