package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/logger"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// Watch 监听配置文件变更，重新 Load 成功后回调 onChange；阻塞直到 ctx 结束。
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	if onChange == nil {
		return fmt.Errorf("config watch requires callback")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Infof("配置热更新已启用: %s", abs)

	var (
		timer   *time.Timer
		trigger <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case evt, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != abs {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			trigger = timer.C
		case <-trigger:
			trigger = nil
			cfg, err := Load(abs)
			if err != nil {
				logger.Errorf("config reload failed (%s): %v", abs, err)
				continue
			}
			onChange(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("config watcher error: %v", err)
		}
	}
}
