package proxy

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/bufcache/internal/backing"
	"github.com/any-hub/bufcache/internal/cache"
	"github.com/any-hub/bufcache/internal/logging"
)

var (
	// ErrHandleNotFound 表示句柄不存在或已关闭。
	ErrHandleNotFound = errors.New("handle not found")
	// ErrInvalidRange 表示 offset/length 非法。
	ErrInvalidRange = errors.New("invalid range")
	// ErrWriteOnly 表示在只写句柄上读取。
	ErrWriteOnly = errors.New("handle opened write-only")
	// ErrManagerClosed 在 CloseAll 之后的所有调用上返回。
	ErrManagerClosed = errors.New("file manager closed")
)

// Opener 抽象后备文件的打开方式，backing.Store 即为默认实现。
type Opener interface {
	Open(name string, flags backing.Flags, create bool) (*backing.File, error)
}

// Session 是对外暴露的句柄描述。
type Session struct {
	ID     string    `json:"id"`
	Path   string    `json:"path"`
	Mode   string    `json:"mode"`
	Opened time.Time `json:"opened"`
}

type openFile struct {
	session Session
	flags   backing.Flags
	file    *backing.File
	// extent 记录经本句柄写入的最远位置；写命中只落在缓存中，磁盘大小可能滞后。
	extent int64
}

// Manager 维护句柄表，并把所有缓存调用串行化到同一把锁下。
type Manager struct {
	mu      sync.Mutex
	engine  *cache.Engine
	opener  Opener
	logger  *logrus.Logger
	handles map[string]*openFile
	closed  bool
	now     func() time.Time
}

// NewManager 组装 Manager；logger 为空时丢弃日志。
func NewManager(engine *cache.Engine, opener Opener, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		engine:  engine,
		opener:  opener,
		logger:  logger,
		handles: make(map[string]*openFile),
		now:     time.Now,
	}
}

// Open 打开 path 并登记一个新句柄。
func (m *Manager) Open(path string, flags backing.Flags, create bool) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Session{}, ErrManagerClosed
	}

	file, err := m.opener.Open(path, flags, create)
	if err != nil {
		return Session{}, err
	}
	entry := &openFile{
		session: Session{
			ID:     uuid.NewString(),
			Path:   path,
			Mode:   flags.String(),
			Opened: m.now(),
		},
		flags: flags,
		file:  file,
	}
	m.handles[entry.session.ID] = entry

	m.logger.WithFields(logging.HandleFields(entry.session.ID, path, entry.session.Mode)).
		WithField("action", "handle_open").
		Debug("handle opened")
	return entry.session, nil
}

// Read 返回 [off, off+length) 的内容，超出文件末尾的部分被截断。
// 请求按块大小切分后逐段交给缓存引擎。
func (m *Manager) Read(id string, off int64, length int) ([]byte, error) {
	if off < 0 || length < 0 {
		return nil, fmt.Errorf("%w: offset=%d length=%d", ErrInvalidRange, off, length)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	entry, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	if !entry.flags.Readable() {
		return nil, ErrWriteOnly
	}

	size, err := entry.size()
	if err != nil {
		return nil, err
	}
	if off >= size || length == 0 {
		return []byte{}, nil
	}
	if remain := size - off; int64(length) > remain {
		length = int(remain)
	}
	// 未命中的分段直接 pread 磁盘：先把与区间重叠的脏块写回，再以磁盘大小截断
	if err := m.engine.WriteBack(entry.file, off, length); err != nil {
		return nil, err
	}
	disk, err := entry.file.Size()
	if err != nil {
		return nil, err
	}
	if off >= disk {
		return []byte{}, nil
	}
	if remain := disk - off; int64(length) > remain {
		length = int(remain)
	}

	buf := make([]byte, length)
	step := m.engine.ChunkSize()
	for pos := 0; pos < length; pos += step {
		end := min(pos+step, length)
		if _, err := m.engine.Read(entry.file, buf[pos:end], off+int64(pos), entry.flags); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// Write 把 data 写到 off 处，返回写入的字节数。
func (m *Manager) Write(id string, off int64, data []byte) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: offset=%d", ErrInvalidRange, off)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	entry, err := m.lookup(id)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}

	written := 0
	step := m.engine.ChunkSize()
	for pos := 0; pos < len(data); pos += step {
		end := min(pos+step, len(data))
		n, err := m.engine.Write(entry.file, data[pos:end], off+int64(pos), entry.flags)
		written += n
		if err != nil {
			return written, err
		}
		entry.extent = max(entry.extent, off+int64(end))
	}
	return written, nil
}

// Sync 回写句柄的脏数据并落盘。
func (m *Manager) Sync(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, err := m.lookup(id)
	if err != nil {
		return err
	}
	return m.engine.Sync(entry.file)
}

// Close 刷新并关闭句柄；即使刷新失败句柄也会从表中移除。
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, err := m.lookup(id)
	if err != nil {
		return err
	}
	return m.closeLocked(entry)
}

// CloseAll 关闭所有句柄并拒绝后续请求，用于进程退出。
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for _, entry := range m.handles {
		if err := m.closeLocked(entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats 返回缓存引擎的统计快照。
func (m *Manager) Stats() cache.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.Stats()
}

// Handles 按打开时间列出当前句柄。
func (m *Manager) Handles() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessions := make([]Session, 0, len(m.handles))
	for _, entry := range m.handles {
		sessions = append(sessions, entry.session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].Opened.Equal(sessions[j].Opened) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].Opened.Before(sessions[j].Opened)
	})
	return sessions
}

func (m *Manager) lookup(id string) (*openFile, error) {
	if m.closed {
		return nil, ErrManagerClosed
	}
	entry, ok := m.handles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandleNotFound, id)
	}
	return entry, nil
}

func (m *Manager) closeLocked(entry *openFile) error {
	delete(m.handles, entry.session.ID)
	err := m.engine.Close(entry.file)

	fields := logging.HandleFields(entry.session.ID, entry.session.Path, entry.session.Mode)
	fields["action"] = "handle_close"
	if err != nil {
		m.logger.WithFields(fields).WithError(err).Warn("handle closed with errors")
		return err
	}
	m.logger.WithFields(fields).Debug("handle closed")
	return nil
}

func (f *openFile) size() (int64, error) {
	disk, err := f.file.Size()
	if err != nil {
		return 0, err
	}
	return max(disk, f.extent), nil
}
