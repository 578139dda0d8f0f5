// Package logwatch watches the auth log candidates and reports when one of
// them changes, so cached reports can be dropped before their TTL expires.
package logwatch

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var changesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hostauth_authlog_changes_total",
		Help: "Filesystem changes seen on auth log candidates",
	},
	[]string{"operation"},
)

func init() {
	prometheus.MustRegister(changesTotal)
}

// Config for the auth log watcher
type Config struct {
	HostRoot string
	Paths    []string
	// OnChange is called with the host path of the file that changed.
	OnChange func(path string)
}

// Watcher follows the parent directories of the candidates. Watching the
// directory keeps working across logrotate renames and late file creation.
type Watcher struct {
	cfg     Config
	log     *logrus.Logger
	watcher *fsnotify.Watcher

	// resolved filesystem path -> configured host path
	targets map[string]string
}

// New creates a Watcher. Directories that cannot be watched are logged and
// skipped; New fails only when the watcher itself cannot be created.
func New(cfg Config, log *logrus.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		cfg:     cfg,
		log:     log,
		watcher: watcher,
		targets: make(map[string]string),
	}

	dirs := make(map[string]bool)
	for _, path := range cfg.Paths {
		if !filepath.IsAbs(path) {
			continue
		}
		resolved := filepath.Join(cfg.HostRoot, path)
		w.targets[resolved] = path
		dirs[filepath.Dir(resolved)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			log.WithError(err).WithField("path", dir).Debug("Failed to add watch")
		}
	}

	return w, nil
}

// WatchList returns the directories currently watched.
func (w *Watcher) WatchList() []string {
	return w.watcher.WatchList()
}

// Start delivers change notifications until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	w.log.WithField("paths", w.cfg.Paths).Info("Starting auth log watcher")

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Auth log watcher stopping")
			w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Error("Watcher error")
		}
	}
}

func (w *Watcher) handleFsEvent(event fsnotify.Event) {
	path, ok := w.targets[filepath.Clean(event.Name)]
	if !ok {
		return
	}
	operation := operationOf(event.Op)
	if operation == "" {
		return
	}

	changesTotal.WithLabelValues(operation).Inc()
	w.log.WithFields(logrus.Fields{
		"path":      path,
		"operation": operation,
	}).Debug("Auth log changed")

	if w.cfg.OnChange != nil {
		w.cfg.OnChange(path)
	}
}

// operationOf names the change, or returns "" for ops that do not alter
// log content.
func operationOf(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "modify"
	case op.Has(fsnotify.Remove):
		return "delete"
	case op.Has(fsnotify.Rename):
		return "rename"
	default:
		return ""
	}
}
