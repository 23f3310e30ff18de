package killswitch

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"
)

// Channel is the external collaborator delivering commands to a Switch —
// transport-agnostic per spec.md §4.5; the Switch itself never depends on
// a specific channel implementation.
type Channel interface {
	// Start begins delivering commands to handle until Stop is called.
	Start(handle func(Envelope)) error
	Stop() error
}

// FileChannel watches a sentinel file for kill-switch command JSON,
// adapted from the teacher's fileWatchPath/CheckFileKill polling idiom but
// driven by fsnotify instead of explicit polling.
type FileChannel struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	done    chan struct{}
}

// NewFileChannel constructs a FileChannel watching path's directory for
// writes to path itself.
func NewFileChannel(path string, logger *slog.Logger) *FileChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileChannel{path: path, logger: logger.With("component", "killswitch.FileChannel"), done: make(chan struct{})}
}

// Start begins watching. Commands are read as a single JSON Envelope
// written to the file.
func (c *FileChannel) Start(handle func(Envelope)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	c.watcher = w

	dir := dirOf(c.path)
	if err := w.Add(dir); err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-c.done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != c.path || !(ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create)) {
					continue
				}
				env, err := readEnvelope(c.path)
				if err != nil {
					c.logger.Warn("failed to read kill-switch file", "path", c.path, "error", err)
					continue
				}
				handle(env)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				c.logger.Error("fsnotify error", "error", err)
			}
		}
	}()

	return nil
}

// Stop shuts the channel down.
func (c *FileChannel) Stop() error {
	close(c.done)
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

func readEnvelope(path string) (Envelope, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// WSChannel receives kill-switch commands pushed over a websocket
// connection from an operator control plane.
type WSChannel struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
	done     chan struct{}
}

// NewWSChannel constructs a WSChannel.
func NewWSChannel(logger *slog.Logger) *WSChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSChannel{
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		logger:   logger.With("component", "killswitch.WSChannel"),
		done:     make(chan struct{}),
	}
}

// Handler returns an http.Handler that upgrades to a websocket connection
// and feeds every received JSON Envelope to handle.
func (c *WSChannel) Handler(handle func(Envelope)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := c.upgrader.Upgrade(w, r, nil)
		if err != nil {
			c.logger.Error("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		conn.SetReadDeadline(time.Now().Add(24 * time.Hour))
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			handle(env)
		}
	})
}

// Start is a no-op for WSChannel: delivery happens through Handler, wired
// into the management API's mux by the caller.
func (c *WSChannel) Start(handle func(Envelope)) error { return nil }

// Stop is a no-op for WSChannel.
func (c *WSChannel) Stop() error { return nil }
