package cache

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// teeBody 把上游响应体原样交给调用方，同时记录已读字节
// 读到 EOF 或被关闭时触发一次写入（sync.Once 保证只触发一次），写入在后台进行。
type teeBody struct {
	src          io.ReadCloser
	flushTimeout time.Duration
	onComplete   func(data []byte, complete bool)

	mu   sync.Mutex
	buf  bytes.Buffer
	eof  bool
	once sync.Once
	done chan struct{}
}

func newTeeBody(src io.ReadCloser, flushTimeout time.Duration, onComplete func([]byte, bool)) *teeBody {
	return &teeBody{
		src:          src,
		flushTimeout: flushTimeout,
		onComplete:   onComplete,
		done:         make(chan struct{}),
	}
}

func (t *teeBody) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)
	if n > 0 {
		t.mu.Lock()
		t.buf.Write(p[:n])
		t.mu.Unlock()
	}
	if err == io.EOF {
		t.mu.Lock()
		t.eof = true
		t.mu.Unlock()
		t.finish()
	}
	return n, err
}

// Close 关闭上游响应体，并最多等待 flushTimeout 让写入完成
// 只返回上游 Close 的错误，缓存写入的结果不影响调用方。
func (t *teeBody) Close() error {
	err := t.src.Close()
	t.finish()

	timer := time.NewTimer(t.flushTimeout)
	defer timer.Stop()
	select {
	case <-t.done:
	case <-timer.C:
	}
	return err
}

func (t *teeBody) finish() {
	t.once.Do(func() {
		t.mu.Lock()
		data := bytes.Clone(t.buf.Bytes())
		complete := t.eof
		t.mu.Unlock()

		go func() {
			defer close(t.done)
			t.onComplete(data, complete)
		}()
	})
}
