// internal/storage/file_storage_test.go
package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T, quota int64) *FileStorage {
	t.Helper()
	fs, err := NewFileStorage(t.TempDir(), quota)
	require.NoError(t, err)
	return fs
}

func TestSaveAndLoadJSONFile(t *testing.T) {
	fs := newTestStorage(t, 0)

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, fs.SaveJSONFile("experiences/e1", "data.json", payload{Name: "测试", Count: 3}))
	assert.True(t, fs.FileExists("experiences/e1", "data.json"))

	var loaded payload
	require.NoError(t, fs.LoadJSONFile("experiences/e1", "data.json", &loaded))
	assert.Equal(t, "测试", loaded.Name)
	assert.Equal(t, 3, loaded.Count)
}

func TestLoadMissingFileFails(t *testing.T) {
	fs := newTestStorage(t, 0)

	var out map[string]interface{}
	assert.Error(t, fs.LoadJSONFile("nowhere", "missing.json", &out))
}

func TestOverwriteInvalidatesCache(t *testing.T) {
	fs := newTestStorage(t, 0)

	require.NoError(t, fs.SaveTextFile("dir", "f.txt", []byte("第一版")))

	// 读取一次让内容进入缓存
	content, err := fs.LoadTextFile("dir", "f.txt")
	require.NoError(t, err)
	assert.Equal(t, "第一版", string(content))

	// 覆盖写入后读到的必须是新内容
	require.NoError(t, fs.SaveTextFile("dir", "f.txt", []byte("第二版")))
	content, err = fs.LoadTextFile("dir", "f.txt")
	require.NoError(t, err)
	assert.Equal(t, "第二版", string(content))
}

func TestQuotaExceeded(t *testing.T) {
	fs := newTestStorage(t, 64)

	small := []byte(`{"ok":true}`)
	require.NoError(t, fs.SaveTextFile("d", "small.json", small))

	// 超出配额的写入被拒绝
	big := make([]byte, 128)
	err := fs.SaveTextFile("d", "big.json", big)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.False(t, fs.FileExists("d", "big.json"))
}

func TestQuotaOverwriteFreesOldSpace(t *testing.T) {
	fs := newTestStorage(t, 100)

	require.NoError(t, fs.SaveTextFile("d", "f.txt", make([]byte, 90)))

	// 覆盖写入时旧文件的空间会被释放，同样大小的内容可以写入
	assert.NoError(t, fs.SaveTextFile("d", "f.txt", make([]byte, 95)))

	// 但总量仍受配额约束
	err := fs.SaveTextFile("d", "g.txt", make([]byte, 50))
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestZeroQuotaMeansUnlimited(t *testing.T) {
	fs := newTestStorage(t, 0)

	assert.NoError(t, fs.SaveTextFile("d", "big.bin", make([]byte, 1<<16)))
}

func TestDeleteFileAndDir(t *testing.T) {
	fs := newTestStorage(t, 0)

	require.NoError(t, fs.SaveTextFile("d/sub", "f.txt", []byte("x")))

	require.NoError(t, fs.DeleteFile("d/sub", "f.txt"))
	assert.False(t, fs.FileExists("d/sub", "f.txt"))

	// 删除不存在的文件报错
	assert.Error(t, fs.DeleteFile("d/sub", "f.txt"))

	require.NoError(t, fs.SaveTextFile("d/sub", "g.txt", []byte("y")))
	require.NoError(t, fs.DeleteDir("d"))
	assert.False(t, fs.FileExists("d/sub", "g.txt"))
}

func TestListDirsAndFiles(t *testing.T) {
	fs := newTestStorage(t, 0)

	require.NoError(t, fs.SaveTextFile("experiences/e1", "experience.json", []byte("{}")))
	require.NoError(t, fs.SaveTextFile("experiences/e2", "experience.json", []byte("{}")))
	require.NoError(t, fs.SaveTextFile("experiences/e1", "notes.txt", []byte("x")))

	dirs, err := fs.ListDirs("experiences")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"e1", "e2"}, dirs)

	files, err := fs.ListFiles("experiences/e1", ".json")
	require.NoError(t, err)
	assert.Equal(t, []string{"experience.json"}, files)

	// 不存在的目录返回空列表而不是错误
	files, err = fs.ListFiles("experiences/ghost", ".json")
	require.NoError(t, err)
	assert.Empty(t, files)
}
