package storage

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

const (
	// URLPrefix 是上传文件对外暴露的路径前缀。
	URLPrefix = "/uploads/"

	// MaxSafeNameBytes 限制落盘文件名中原始名部分的长度，加上前缀后远低于 255 字节。
	MaxSafeNameBytes = 100
	maxExtBytes      = 16
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Stored 描述一次写盘结果。
type Stored struct {
	Name     string
	Path     string
	Size     int64
	Checksum string
}

// Disk 把附件写入本地目录，文件名带时间戳与随机片段，并发上传互不覆盖。
type Disk struct {
	dir string
	now func() time.Time
}

func NewDisk(dir string) (*Disk, error) {
	if dir == "" {
		return nil, errors.New("storage: empty upload dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", dir, err)
	}
	return &Disk{dir: dir, now: time.Now}, nil
}

func (d *Disk) Dir() string { return d.dir }

// SafeName 把 [A-Za-z0-9._-] 以外的字符替换为下划线，超长时截断主干并保留扩展名。
func SafeName(original string) string {
	name := unsafeChars.ReplaceAllString(original, "_")
	if name == "" {
		return "file"
	}
	if len(name) <= MaxSafeNameBytes {
		return name
	}
	// 替换后只剩 ASCII，按字节截断是安全的。
	ext := filepath.Ext(name)
	if len(ext) > maxExtBytes {
		ext = ""
	}
	return name[:MaxSafeNameBytes-len(ext)] + ext
}

// StoredName 生成 <毫秒时间戳>_<8 位随机十六进制>_<安全文件名>。
func StoredName(now time.Time, original string) string {
	id := uuid.New()
	return strconv.FormatInt(now.UnixMilli(), 10) + "_" + hex.EncodeToString(id[:4]) + "_" + SafeName(original)
}

// Save 以 O_EXCL 创建文件并在写入时计算 BLAKE3 校验和。
func (d *Disk) Save(original string, r io.Reader) (*Stored, error) {
	name := StoredName(d.now(), original)
	full := filepath.Join(d.dir, name)
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	hasher := blake3.New()
	n, err := io.Copy(io.MultiWriter(f, hasher), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(full)
		return nil, err
	}
	return &Stored{
		Name:     name,
		Path:     URLPrefix + name,
		Size:     n,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Remove 删除已写入的文件，用于入库失败时回滚。
func (d *Disk) Remove(name string) error {
	if name != filepath.Base(name) {
		return fmt.Errorf("storage: invalid name %q", name)
	}
	err := os.Remove(filepath.Join(d.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
