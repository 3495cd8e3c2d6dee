// Package jsonl 实现异步 JSONL 写入。
// 投递只做一次非阻塞 channel 发送，JSON 编码与 I/O 在后台 goroutine 完成。
package jsonl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

var (
	// ErrBufferFull 写入队列已满，记录被丢弃
	ErrBufferFull = errors.New("jsonl: 写入队列已满")
	// ErrClosed 写入器已关闭
	ErrClosed = errors.New("jsonl: writer 已关闭")
)

type opType int

const (
	opWrite opType = iota
	opFlush
	opClose
)

type op struct {
	typ  opType
	val  any
	done chan error
}

// Writer 异步 JSONL 写入器
type Writer struct {
	// name 输出目标（文件路径或 stdout）
	name string
	// ch 操作通道
	ch chan op

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool

	// sendMu 读锁保护投递，写锁保护关闭，避免向已关闭的 channel 发送
	sendMu sync.RWMutex

	written  atomic.Uint64
	dropped  atomic.Uint64
	encErrs  atomic.Uint64
	ioErrors atomic.Uint64

	wg sync.WaitGroup
}

// NewWriter 创建写入文件的 JSONL 写入器（追加模式）
// 参数 path: 输出文件路径
// 参数 bufferSize: 队列容量
func NewWriter(path string, bufferSize int) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开输出文件失败: %w", err)
	}
	return newWriter(path, f, f, bufferSize), nil
}

// NewStreamWriter 创建写入任意 io.Writer 的写入器（如 os.Stdout），关闭时不关闭 out
func NewStreamWriter(name string, out io.Writer, bufferSize int) *Writer {
	return newWriter(name, out, nil, bufferSize)
}

func newWriter(name string, out io.Writer, closer io.Closer, bufferSize int) *Writer {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	w := &Writer{
		name: name,
		ch:   make(chan op, bufferSize),
	}
	w.wg.Add(1)
	go w.loop(out, closer)
	return w
}

// Write 非阻塞投递一条记录
// 队列满时返回 ErrBufferFull 并计数，已关闭时返回 ErrClosed。
func (w *Writer) Write(v any) error {
	if w == nil {
		return ErrClosed
	}
	w.sendMu.RLock()
	defer w.sendMu.RUnlock()
	if w.closed.Load() {
		return ErrClosed
	}
	select {
	case w.ch <- op{typ: opWrite, val: v}:
		return nil
	default:
		w.dropped.Add(1)
		return ErrBufferFull
	}
}

// Flush 等待此前投递的记录全部写出
func (w *Writer) Flush() error {
	if w == nil {
		return nil
	}
	w.sendMu.RLock()
	if w.closed.Load() {
		w.sendMu.RUnlock()
		return nil
	}
	done := make(chan error, 1)
	w.ch <- op{typ: opFlush, done: done}
	w.sendMu.RUnlock()
	return <-done
}

// Close 写出剩余记录并关闭
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.closeOnce.Do(func() {
		w.sendMu.Lock()
		w.closed.Store(true)
		done := make(chan error, 1)
		w.ch <- op{typ: opClose, done: done}
		close(w.ch)
		w.sendMu.Unlock()
		w.closeErr = <-done
	})
	w.wg.Wait()
	return w.closeErr
}

// Name 输出目标
func (w *Writer) Name() string {
	return w.name
}

// Written 已写出的记录数
func (w *Writer) Written() uint64 {
	return w.written.Load()
}

// Dropped 因队列满丢弃的记录数
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Errors 编码或 I/O 失败的记录数
func (w *Writer) Errors() uint64 {
	return w.encErrs.Load() + w.ioErrors.Load()
}

func (w *Writer) loop(out io.Writer, closer io.Closer) {
	defer w.wg.Done()

	bw := bufio.NewWriterSize(out, 1<<20)
	for req := range w.ch {
		switch req.typ {
		case opWrite:
			b, err := json.Marshal(req.val)
			if err != nil {
				w.encErrs.Add(1)
				continue
			}
			b = append(b, '\n')
			if _, err := bw.Write(b); err != nil {
				w.ioErrors.Add(1)
				continue
			}
			w.written.Add(1)
		case opFlush:
			req.done <- bw.Flush()
		case opClose:
			err := bw.Flush()
			if closer != nil {
				if cerr := closer.Close(); err == nil {
					err = cerr
				}
			}
			req.done <- err
			return
		}
	}
}
