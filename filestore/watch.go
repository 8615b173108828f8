package filestore

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Watcher 监听存储目录，文件在进程外被修改时回调 onChange(文件名)
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	onChange  func(name string)
	logger    *log.Logger
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewWatcher 开始监听 s 的目录
func (s *Store) NewWatcher(onChange func(name string), logger *log.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(s.dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", s.dir, err)
	}

	w := &Watcher{
		fsWatcher: fsw,
		onChange:  onChange,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go w.run()
	logger.Info("watching storage dir", "dir", s.dir)
	return w, nil
}

const watchedOps = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&watchedOps == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			w.logger.Debug("fsnotify event", "file", name, "op", event.Op)
			w.onChange(name)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", "err", err)
		}
	}
}

// Close 停止监听
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stop)
		err = w.fsWatcher.Close()
		<-w.done
	})
	return err
}
