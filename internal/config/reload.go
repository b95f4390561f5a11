package config

import (
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Live holds the mutable subset of Config that reload touches without a
// process restart: thinking-budget mode/budget/effort, upstream-proxy URL,
// security, and experimental flags. The routing map path is not part of it:
// the routing map is loaded once at startup and is not reloaded from disk.
type Live struct {
	mu sync.Mutex // serializes Reload calls themselves

	experimental ExperimentalConfig
	experimentalMu sync.RWMutex
	security       SecurityConfig
	securityMu     sync.RWMutex
	thinkingBudgetMode string
	thinkingBudget     int
	thinkingEffort     string
	thinkingMu         sync.RWMutex
	upstreamProxyURL string
	upstreamMu       sync.RWMutex
}

// NewLive seeds a Live view from an initially loaded Config.
func NewLive(cfg *Config) *Live {
	l := &Live{}
	l.experimental = cfg.Experimental
	l.security = cfg.Security
	l.thinkingBudgetMode = cfg.ThinkingBudgetMode
	l.thinkingBudget = cfg.ThinkingBudget
	l.thinkingEffort = cfg.ThinkingEffort
	l.upstreamProxyURL = cfg.UpstreamProxyURL
	return l
}

func (l *Live) Experimental() ExperimentalConfig {
	l.experimentalMu.RLock()
	defer l.experimentalMu.RUnlock()
	return l.experimental
}

func (l *Live) Security() SecurityConfig {
	l.securityMu.RLock()
	defer l.securityMu.RUnlock()
	return l.security
}

func (l *Live) ThinkingBudgetMode() string {
	l.thinkingMu.RLock()
	defer l.thinkingMu.RUnlock()
	return l.thinkingBudgetMode
}

// ThinkingBudget and ThinkingEffort round out the live view of §4.8's
// ThinkingBudgetConfig alongside ThinkingBudgetMode, so a hot reload changes
// all three fields a request's thinking.Config is built from, not just the
// mode string.
func (l *Live) ThinkingBudget() int {
	l.thinkingMu.RLock()
	defer l.thinkingMu.RUnlock()
	return l.thinkingBudget
}

func (l *Live) ThinkingEffort() string {
	l.thinkingMu.RLock()
	defer l.thinkingMu.RUnlock()
	return l.thinkingEffort
}

func (l *Live) UpstreamProxyURL() string {
	l.upstreamMu.RLock()
	defer l.upstreamMu.RUnlock()
	return l.upstreamProxyURL
}

// Reload applies next's mutable fields, acquiring every field's write lock
// in a fixed alphabetical order within one scope so concurrent reloaders
// can't deadlock and readers never observe a mixed-generation view.
func (l *Live) Reload(next *Config) {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := []string{"experimental", "security", "thinkingBudgetMode", "upstreamProxyURL"}
	sort.Strings(names)

	locks := map[string]func(){
		"experimental":       l.experimentalMu.Lock,
		"security":           l.securityMu.Lock,
		"thinkingBudgetMode":  l.thinkingMu.Lock,
		"upstreamProxyURL":    l.upstreamMu.Lock,
	}
	unlocks := map[string]func(){
		"experimental":       l.experimentalMu.Unlock,
		"security":           l.securityMu.Unlock,
		"thinkingBudgetMode":  l.thinkingMu.Unlock,
		"upstreamProxyURL":    l.upstreamMu.Unlock,
	}

	for _, n := range names {
		locks[n]()
	}
	l.experimental = next.Experimental
	l.security = next.Security
	l.thinkingBudgetMode = next.ThinkingBudgetMode
	l.thinkingBudget = next.ThinkingBudget
	l.thinkingEffort = next.ThinkingEffort
	l.upstreamProxyURL = next.UpstreamProxyURL
	for i := len(names) - 1; i >= 0; i-- {
		unlocks[names[i]]()
	}
}

// Watcher reloads Live from the config file on every write or create event.
// Bursts of events are not debounced: each one triggers its own reload.
type Watcher struct {
	path string
	live *Live
	fsw  *fsnotify.Watcher
}

// NewWatcher starts watching path for changes, applying them to live.
func NewWatcher(path string, live *Live) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	w := &Watcher{path: path, live: live, fsw: fsw}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			next, err := Load(w.path)
			if err != nil {
				log.WithField("error", err).Warn("config reload: failed to parse, keeping previous config")
				continue
			}
			w.live.Reload(next)
			log.Info("config reloaded")
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.WithField("error", err).Warn("config watcher error")
		}
	}
}

func (w *Watcher) Close() error { return w.fsw.Close() }
