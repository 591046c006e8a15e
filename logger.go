package main

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ========================================
// Structured Logger - 结构化日志
// ========================================

// Logger 全局日志实例
var Logger zerolog.Logger

var logFileWriter *rotatingWriter

// LogConfig 日志配置
type LogConfig struct {
	Level      zerolog.Level
	Console    bool
	FilePath   string // 为空时不写文件
	MaxSizeMB  int    // 单文件大小上限
	MaxAgeDays int    // 归档保留天数
	MaxBackups int    // 归档数量上限
}

// DefaultLogConfig 控制台日志，开发模式用
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      zerolog.InfoLevel,
		Console:    true,
		MaxSizeMB:  10,
		MaxAgeDays: 7,
		MaxBackups: 5,
	}
}

// PersistentLogConfig 控制台 + 数据目录下的轮转日志文件
func PersistentLogConfig(appDataPath string) LogConfig {
	cfg := DefaultLogConfig()
	cfg.FilePath = filepath.Join(appDataPath, "logs", "scout.log")
	return cfg
}

// ========================================
// rotatingWriter - 按大小轮转的日志文件
// ========================================

// rotatingWriter 超过大小上限时把当前文件归档为 gzip，
// 归档后按保留策略清理旧文件。
type rotatingWriter struct {
	mu   sync.Mutex
	cfg  LogConfig
	dir  string
	file *os.File
	size int64
}

func newRotatingWriter(cfg LogConfig) (*rotatingWriter, error) {
	dir := filepath.Dir(cfg.FilePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	rw := &rotatingWriter{cfg: cfg, dir: dir}
	if err := rw.open(); err != nil {
		return nil, err
	}
	rw.prune()
	return rw, nil
}

func (rw *rotatingWriter) open() error {
	f, err := os.OpenFile(rw.cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	rw.file = f
	rw.size = info.Size()
	return nil
}

func (rw *rotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	limit := int64(rw.cfg.MaxSizeMB) * 1024 * 1024
	if limit > 0 && rw.size+int64(len(p)) > limit {
		rw.rotate()
	}

	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

// rotate 把当前文件改名归档并异步压缩，失败时继续写原文件
func (rw *rotatingWriter) rotate() {
	rw.file.Close()

	archived := filepath.Join(rw.dir,
		fmt.Sprintf("scout_%s.log", time.Now().Format("20060102_150405")))
	if err := os.Rename(rw.cfg.FilePath, archived); err == nil {
		go func() {
			gzipAndRemove(archived)
			rw.mu.Lock()
			rw.prune()
			rw.mu.Unlock()
		}()
	}

	if err := rw.open(); err != nil {
		// 打不开就丢日志，比崩溃好
		rw.file, _ = os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		rw.size = 0
	}
}

// prune 按 MaxAgeDays / MaxBackups 删除旧归档，新的排前面
func (rw *rotatingWriter) prune() {
	archives, err := filepath.Glob(filepath.Join(rw.dir, "scout_*.log*"))
	if err != nil || len(archives) == 0 {
		return
	}

	mtimes := make(map[string]time.Time, len(archives))
	for _, path := range archives {
		if info, err := os.Stat(path); err == nil {
			mtimes[path] = info.ModTime()
		}
	}
	sort.Slice(archives, func(i, j int) bool {
		return mtimes[archives[i]].After(mtimes[archives[j]])
	})

	maxAge := time.Duration(rw.cfg.MaxAgeDays) * 24 * time.Hour
	for i, path := range archives {
		tooOld := maxAge > 0 && time.Since(mtimes[path]) > maxAge
		tooMany := rw.cfg.MaxBackups > 0 && i >= rw.cfg.MaxBackups
		if tooOld || tooMany {
			os.Remove(path)
		}
	}
}

func (rw *rotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file != nil {
		return rw.file.Close()
	}
	return nil
}

func gzipAndRemove(path string) {
	src, err := os.Open(path)
	if err != nil {
		return
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return
	}
	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(path + ".gz")
		return
	}
	gz.Close()
	dst.Close()
	os.Remove(path)
}

// ========================================
// 初始化
// ========================================

// InitLogger 初始化全局日志
func InitLogger(cfg LogConfig) error {
	var writers []io.Writer

	if cfg.Console || cfg.FilePath == "" {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}
	if cfg.FilePath != "" {
		rw, err := newRotatingWriter(cfg)
		if err != nil {
			return err
		}
		logFileWriter = rw
		writers = append(writers, rw)
	}

	Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(cfg.Level).
		With().
		Timestamp().
		Caller().
		Logger()

	return nil
}

// CloseLogger 关闭日志文件
func CloseLogger() {
	if logFileWriter != nil {
		logFileWriter.Close()
	}
}

// ========================================
// 便捷日志函数
// ========================================

// LogDebug Debug 级别，带模块标签
func LogDebug(module string) *zerolog.Event {
	return Logger.Debug().Str("module", module)
}

// LogInfo Info 级别，带模块标签
func LogInfo(module string) *zerolog.Event {
	return Logger.Info().Str("module", module)
}

// LogWarn Warn 级别，带模块标签
func LogWarn(module string) *zerolog.Event {
	return Logger.Warn().Str("module", module)
}

// LogError Error 级别，带模块标签
func LogError(module string) *zerolog.Event {
	return Logger.Error().Str("module", module)
}

// DeviceLog 设备管理日志
func DeviceLog() *zerolog.Event {
	return Logger.Info().Str("module", "device")
}

// WorkflowLog 工作流执行日志
func WorkflowLog() *zerolog.Event {
	return Logger.Info().Str("module", "workflow")
}

// HistoryLog 执行历史日志
func HistoryLog() *zerolog.Event {
	return Logger.Info().Str("module", "history")
}
