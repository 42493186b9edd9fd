package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the configuration document and invokes the supplied
// callback with a freshly validated Config whenever it changes. Stop must
// be called to release filesystem resources.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// debounceWindow coalesces the burst of fsnotify events editors emit for a
// single save (write + chmod, or rename + create).
const debounceWindow = 200 * time.Millisecond

// Watch wires fsnotify around the configuration file. The parent directory
// is watched rather than the file itself so atomic-rename saves keep
// delivering events. A reload that fails validation is reported through
// onError and the previously published catalog stays in effect.
func (l *Loader) Watch(ctx context.Context, onChange func(Config), onError func(error)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("config: watch requires a change callback")
	}
	if l.path == "" {
		return nil, fmt.Errorf("config: no file configured for watching")
	}

	target, err := filepath.Abs(l.path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve watch path: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("config: watch: %w", err)
	}
	if err := fsw.Add(filepath.Dir(target)); err != nil {
		cancel()
		if closeErr := fsw.Close(); closeErr != nil && onError != nil {
			onError(fmt.Errorf("config: watch close: %w", closeErr))
		}
		return nil, fmt.Errorf("config: watch add %s: %w", filepath.Dir(target), err)
	}

	done := make(chan struct{})
	w := &Watcher{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer func() {
			if err := fsw.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("config: watch close: %w", err))
			}
		}()

		var pending *time.Timer
		var pendingC <-chan time.Time
		reload := func() {
			cfg, err := l.Load(watchCtx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				if onError != nil {
					onError(err)
				}
				return
			}
			onChange(cfg)
		}

		for {
			select {
			case <-watchCtx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if pending == nil {
					pending = time.NewTimer(debounceWindow)
					pendingC = pending.C
				} else {
					if !pending.Stop() {
						select {
						case <-pending.C:
						default:
						}
					}
					pending.Reset(debounceWindow)
				}
			case <-pendingC:
				pending = nil
				pendingC = nil
				reload()
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				if err != nil && onError != nil {
					onError(fmt.Errorf("config: watch: %w", err))
				}
			}
		}
	}()

	return w, nil
}
