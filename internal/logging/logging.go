// Package logging configures the process-wide apex/log handler.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/discard"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
)

// EnvLevel overrides the configured level when set.
const EnvLevel = "IMAGEOP_LOG"

// Config selects the log level and output format.
type Config struct {
	Level  string
	Format string
	Output io.Writer
}

// Init installs the handler described by cfg on the default apex logger.
// Formats: text, json, cli, short, discard.
func Init(cfg Config) error {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	level := cfg.Level
	if env := os.Getenv(EnvLevel); env != "" {
		level = env
	}
	if level == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	h, err := NewHandler(cfg.Format, out)
	if err != nil {
		return err
	}

	log.SetHandler(h)
	log.SetLevel(lvl)
	return nil
}

// NewHandler builds a handler for the named format.
func NewHandler(format string, out io.Writer) (log.Handler, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return text.New(out), nil
	case "json":
		return json.New(out), nil
	case "cli":
		return cli.New(out), nil
	case "short":
		return &ShortHandler{Writer: out}, nil
	case "discard":
		return discard.New(), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// ShortHandler writes one line per entry: timestamp, level initial, message, fields.
type ShortHandler struct {
	mu     sync.Mutex
	Writer io.Writer
}

// HandleLog implements the log.Handler interface
func (h *ShortHandler) HandleLog(e *log.Entry) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %.1s %s", e.Timestamp.Format(time.DateTime), strings.ToUpper(e.Level.String()), e.Message)
	for _, name := range e.Fields.Names() {
		fmt.Fprintf(&b, " %s=%v", name, e.Fields.Get(name))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.Writer, b.String())
	return err
}

// Component returns a logger tagged with the component name, falling back to
// the default logger when base is nil.
func Component(base log.Interface, name string) log.Interface {
	if base == nil {
		base = log.Log
	}
	return base.WithField("component", name)
}
