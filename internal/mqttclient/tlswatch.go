package mqttclient

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// TLSWatcher watches the configured CA/cert/key files for changes and logs
// a warning so an operator knows to restart and pick up rotated material.
// paho's client has no live TLS-config reload hook, so a restart is the
// only way to apply new material.
type TLSWatcher struct {
	watcher *fsnotify.Watcher
	log     zerolog.Logger

	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer
}

// WatchTLSFiles starts a TLSWatcher over any non-empty path among ca, cert,
// key. Returns nil if none are configured.
func WatchTLSFiles(ca, cert, key string, log zerolog.Logger) (*TLSWatcher, error) {
	paths := nonEmpty(ca, cert, key)
	if len(paths) == 0 {
		return nil, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if err := w.Add(p); err != nil {
			w.Close()
			return nil, err
		}
	}

	tw := &TLSWatcher{
		watcher:        w,
		log:            log.With().Str("component", "mqtt-tls-watch").Logger(),
		debounceTimers: make(map[string]*time.Timer),
	}
	go tw.run()
	return tw, nil
}

func (tw *TLSWatcher) run() {
	for {
		select {
		case ev, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			tw.debounce(ev.Name)
		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			tw.log.Warn().Err(err).Msg("tls file watch error")
		}
	}
}

// debounce coalesces rapid writes to the same file (editors commonly emit
// several events per save) into one log line.
func (tw *TLSWatcher) debounce(path string) {
	tw.debounceMu.Lock()
	defer tw.debounceMu.Unlock()

	if t, ok := tw.debounceTimers[path]; ok {
		t.Stop()
	}
	tw.debounceTimers[path] = time.AfterFunc(500*time.Millisecond, func() {
		tw.log.Warn().Str("path", path).Msg("mqtt TLS material changed on disk; restart grid-engine to pick it up")
	})
}

// Close stops the watcher.
func (tw *TLSWatcher) Close() error {
	return tw.watcher.Close()
}

func nonEmpty(paths ...string) []string {
	var out []string
	for _, p := range paths {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
