// Package odbc file: internal/adapter/provider/odbc/drivers.go
package odbc

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// PreferredDrivers 是驱动的选择优先级，前者优先。
var PreferredDrivers = []string{
	"ODBC Driver 17 for SQL Server",
	"ODBC Driver 18 for SQL Server",
	"ODBC Driver 13 for SQL Server",
	"FreeTDS",
}

// DefaultCatalogPaths 返回 unixODBC 常见的 odbcinst.ini 位置，ODBCSYSINI 优先。
func DefaultCatalogPaths() []string {
	var paths []string
	if dir := os.Getenv("ODBCSYSINI"); dir != "" {
		paths = append(paths, filepath.Join(dir, "odbcinst.ini"))
	}
	return append(paths, "/etc/odbcinst.ini", "/usr/local/etc/odbcinst.ini", "/opt/homebrew/etc/odbcinst.ini")
}

// DriverCatalog 从 odbcinst.ini 读取已安装的驱动列表，首次使用时加载，文件变化时重新加载。
type DriverCatalog struct {
	paths []string

	mu      sync.RWMutex
	loaded  bool
	drivers []string
}

// NewDriverCatalog 创建驱动目录；paths 为空时使用 DefaultCatalogPaths。
func NewDriverCatalog(paths ...string) *DriverCatalog {
	if len(paths) == 0 {
		paths = DefaultCatalogPaths()
	}
	return &DriverCatalog{paths: paths}
}

// Drivers 返回已安装的驱动名称（保持 odbcinst.ini 中的写法）。
func (c *DriverCatalog) Drivers() []string {
	c.mu.RLock()
	if c.loaded {
		out := append([]string(nil), c.drivers...)
		c.mu.RUnlock()
		return out
	}
	c.mu.RUnlock()
	c.Reload()

	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.drivers...)
}

// Preferred 按优先级返回第一个已安装的驱动。
func (c *DriverCatalog) Preferred() (string, bool) {
	installed := c.Drivers()
	for _, want := range PreferredDrivers {
		for _, have := range installed {
			if strings.EqualFold(want, have) {
				return have, true
			}
		}
	}
	return "", false
}

// Reload 重新读取所有路径，文件不存在不视为错误。
func (c *DriverCatalog) Reload() {
	seen := make(map[string]struct{})
	var drivers []string
	for _, path := range c.paths {
		names, err := readDriverSections(path)
		if err != nil {
			if !os.IsNotExist(err) {
				slog.Warn("读取 odbcinst.ini 失败", "path", path, "error", err)
			}
			continue
		}
		for _, n := range names {
			key := strings.ToLower(n)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			drivers = append(drivers, n)
		}
	}

	c.mu.Lock()
	c.drivers = drivers
	c.loaded = true
	c.mu.Unlock()
	slog.Debug("ODBC 驱动目录已加载", "drivers", drivers)
}

// Watch 监视 odbcinst.ini 所在目录，文件被写入、创建或删除时重新加载；ctx 结束时停止。
func (c *DriverCatalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建 fsnotify watcher 失败: %w", err)
	}

	targets := make(map[string]struct{}, len(c.paths))
	dirs := make(map[string]struct{})
	for _, p := range c.paths {
		clean := filepath.Clean(p)
		targets[clean] = struct{}{}
		dirs[filepath.Dir(clean)] = struct{}{}
	}
	added := 0
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			slog.Debug("跳过不可监视的目录", "dir", dir, "error", err)
			continue
		}
		added++
	}
	if added == 0 {
		_ = watcher.Close()
		return fmt.Errorf("没有可监视的 odbcinst.ini 目录")
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if _, hit := targets[filepath.Clean(event.Name)]; !hit {
					continue
				}
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
					slog.Info("odbcinst.ini 发生变化，重新加载驱动目录", "path", event.Name, "op", event.Op.String())
					c.Reload()
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("odbcinst.ini 监视器报告错误", "error", werr)
			}
		}
	}()
	return nil
}

// readDriverSections 读取 ini 文件中的节名，即驱动名；跳过 [ODBC] 与 [ODBC Drivers] 这类管理节。
func readDriverSections(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "[") || !strings.HasSuffix(line, "]") {
			continue
		}
		name := strings.TrimSpace(line[1 : len(line)-1])
		switch strings.ToLower(name) {
		case "", "odbc", "odbc drivers", "default":
			continue
		}
		names = append(names, name)
	}
	return names, scanner.Err()
}
