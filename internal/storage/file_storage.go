// internal/storage/file_storage.go
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrQuotaExceeded 表示写入会超出存储配额。
// 调用方应将其映射为"存储已满"的用户提示。
var ErrQuotaExceeded = errors.New("存储配额已用尽")

// FileStorage 提供基于JSON文件的对象存储服务
type FileStorage struct {
	BaseDir string

	// QuotaBytes 为存储配额（字节），0 表示不限制
	QuotaBytes int64

	// 并发控制
	fileLocks sync.Map // 文件级别锁 path -> *sync.RWMutex

	// 简单缓存
	cache        map[string]*CacheEntry
	cacheMutex   sync.RWMutex
	cacheExpiry  time.Duration
	maxCacheSize int
}

// CacheEntry 缓存条目
type CacheEntry struct {
	Data      []byte
	Timestamp time.Time
}

// NewFileStorage 创建文件存储服务
func NewFileStorage(baseDir string, quotaBytes int64) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}

	fs := &FileStorage{
		BaseDir:      baseDir,
		QuotaBytes:   quotaBytes,
		cache:        make(map[string]*CacheEntry),
		cacheExpiry:  5 * time.Minute,
		maxCacheSize: 100,
	}

	fs.startCacheCleanup()

	return fs, nil
}

// 获取文件锁
func (s *FileStorage) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := s.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// usedBytes 统计当前已占用的存储空间
func (s *FileStorage) usedBytes() int64 {
	var total int64
	filepath.WalkDir(s.BaseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// checkQuota 检查写入content后是否仍在配额内
func (s *FileStorage) checkQuota(fullPath string, contentSize int64) error {
	if s.QuotaBytes <= 0 {
		return nil
	}

	// 覆盖写入时旧文件的空间会被释放
	var existing int64
	if info, err := os.Stat(fullPath); err == nil {
		existing = info.Size()
	}

	if s.usedBytes()-existing+contentSize > s.QuotaBytes {
		return ErrQuotaExceeded
	}
	return nil
}

// SaveTextFile 保存文本文件（原子写入：临时文件+重命名）
func (s *FileStorage) SaveTextFile(dirPath, filename string, content []byte) error {
	fullDirPath := filepath.Join(s.BaseDir, dirPath)
	fullPath := filepath.Join(fullDirPath, filename)

	lock := s.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(fullDirPath, 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	if err := s.checkQuota(fullPath, int64(len(content))); err != nil {
		return err
	}

	tempPath := fullPath + ".tmp"

	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return fmt.Errorf("保存临时文件失败: %w", err)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			fmt.Printf("警告: 重命名失败后清理临时文件失败 %s: %v\n", tempPath, removeErr)
		}
		return fmt.Errorf("保存文件失败: %w", err)
	}

	// 写入成功后清除缓存
	s.invalidateCache(fullPath)

	return nil
}

// SaveJSONFile 保存JSON文件
func (s *FileStorage) SaveJSONFile(dirPath, filename string, data interface{}) error {
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}

	return s.SaveTextFile(dirPath, filename, content)
}

// LoadTextFile 读取文本文件
func (s *FileStorage) LoadTextFile(dirPath, filename string) ([]byte, error) {
	fullPath := filepath.Join(s.BaseDir, dirPath, filename)

	// 检查缓存
	s.cacheMutex.RLock()
	if entry, exists := s.cache[fullPath]; exists {
		if time.Since(entry.Timestamp) < s.cacheExpiry {
			s.cacheMutex.RUnlock()
			return entry.Data, nil
		}
	}
	s.cacheMutex.RUnlock()

	lock := s.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}

	s.updateCache(fullPath, content)

	return content, nil
}

// LoadJSONFile 读取并解析JSON文件
func (s *FileStorage) LoadJSONFile(dirPath, filename string, v interface{}) error {
	content, err := s.LoadTextFile(dirPath, filename)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(content, v); err != nil {
		return fmt.Errorf("解析JSON失败: %w", err)
	}

	return nil
}

// FileExists 检查文件是否存在
func (s *FileStorage) FileExists(dirPath, filename string) bool {
	fullPath := filepath.Join(s.BaseDir, dirPath, filename)
	_, err := os.Stat(fullPath)
	return err == nil
}

// DeleteFile 删除文件
func (s *FileStorage) DeleteFile(dirPath, filename string) error {
	fullPath := filepath.Join(s.BaseDir, dirPath, filename)

	lock := s.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return fmt.Errorf("文件不存在: %s", fullPath)
	}

	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("删除文件失败: %w", err)
	}

	s.invalidateCache(fullPath)

	return nil
}

// DeleteDir 删除目录及其内容
func (s *FileStorage) DeleteDir(dirPath string) error {
	fullPath := filepath.Join(s.BaseDir, dirPath)

	lock := s.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return fmt.Errorf("目录不存在: %s", fullPath)
	}

	if err := os.RemoveAll(fullPath); err != nil {
		return fmt.Errorf("删除目录失败: %w", err)
	}

	s.removeCacheEntriesWithPrefix(fullPath)

	return nil
}

// ListDirs 列出目录下的所有子目录
func (s *FileStorage) ListDirs(dirPath string) ([]string, error) {
	fullPath := filepath.Join(s.BaseDir, dirPath)
	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return nil, fmt.Errorf("读取目录失败: %w", err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}

	return dirs, nil
}

// ListFiles 列出目录下指定后缀的文件名
func (s *FileStorage) ListFiles(dirPath, suffix string) ([]string, error) {
	fullPath := filepath.Join(s.BaseDir, dirPath)
	entries, err := os.ReadDir(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取目录失败: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), suffix) {
			files = append(files, entry.Name())
		}
	}

	return files, nil
}

// 缓存管理
func (s *FileStorage) updateCache(path string, data []byte) {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()

	s.cache[path] = &CacheEntry{
		Data:      data,
		Timestamp: time.Now(),
	}

	if len(s.cache) > s.maxCacheSize {
		s.evictOldestLocked(len(s.cache) - s.maxCacheSize)
	}
}

// invalidateCache 清除指定路径的缓存
func (s *FileStorage) invalidateCache(path string) {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()

	delete(s.cache, path)
}

// removeCacheEntriesWithPrefix 移除指定前缀的缓存条目
func (s *FileStorage) removeCacheEntriesWithPrefix(prefix string) {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()

	for key := range s.cache {
		if strings.HasPrefix(key, prefix) {
			delete(s.cache, key)
		}
	}
}

// evictOldestLocked 按时间淘汰最老的count个缓存条目，调用方需持有写锁
func (s *FileStorage) evictOldestLocked(count int) {
	type keyAge struct {
		key  string
		time time.Time
	}

	entries := make([]keyAge, 0, len(s.cache))
	for k, v := range s.cache {
		entries = append(entries, keyAge{k, v.Timestamp})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].time.Before(entries[j].time)
	})

	if count > len(entries) {
		count = len(entries)
	}
	for i := 0; i < count; i++ {
		delete(s.cache, entries[i].key)
	}
}

// startCacheCleanup 启动定期缓存清理
func (s *FileStorage) startCacheCleanup() {
	go func() {
		ticker := time.NewTicker(2 * time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			s.cleanupExpiredCache()
		}
	}()
}

// cleanupExpiredCache 清理过期缓存
func (s *FileStorage) cleanupExpiredCache() {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()

	now := time.Now()
	for path, entry := range s.cache {
		if now.Sub(entry.Timestamp) > s.cacheExpiry {
			delete(s.cache, path)
		}
	}
}
