package pool

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("pool 已关闭")

// Pool 是容量有界、按需创建的资源池。
//
// 约束：
// - 同时被借出的资源不超过 size
// - Do 保证资源一定归还（包括 fn 出错/panic）
// - fn 返回 Discard 包装的错误时，该资源被销毁而不是归还
type Pool[T any] struct {
	create  func(ctx context.Context) (T, error)
	destroy func(T)

	slots chan struct{}

	mu     sync.Mutex
	idle   []T
	closed bool
}

func New[T any](size int, create func(ctx context.Context) (T, error), destroy func(T)) *Pool[T] {
	if size < 1 {
		size = 1
	}
	return &Pool[T]{
		create:  create,
		destroy: destroy,
		slots:   make(chan struct{}, size),
	}
}

// Acquire 借出一个资源；容量已满时阻塞直到有资源归还或 ctx 结束。
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return zero, ErrClosed
	}
	if n := len(p.idle); n > 0 {
		v := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return v, nil
	}
	p.mu.Unlock()

	v, err := p.create(ctx)
	if err != nil {
		<-p.slots
		return zero, err
	}
	return v, nil
}

// Release 归还资源。broken=true 时销毁资源（下次 Acquire 会重新创建）。
func (p *Pool[T]) Release(v T, broken bool) {
	p.mu.Lock()
	if broken || p.closed {
		p.mu.Unlock()
		p.destroyOne(v)
	} else {
		p.idle = append(p.idle, v)
		p.mu.Unlock()
	}
	<-p.slots
}

// Do 在借出的资源上执行 fn，结束后自动归还。
func (p *Pool[T]) Do(ctx context.Context, fn func(T) error) (err error) {
	v, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	broken := true
	defer func() {
		p.Release(v, broken)
	}()
	err = fn(v)
	var d *discardError
	broken = errors.As(err, &d)
	if broken {
		err = d.err
	}
	return err
}

// Close 销毁所有空闲资源；之后的 Acquire 返回 ErrClosed。
func (p *Pool[T]) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()
	for _, v := range idle {
		p.destroyOne(v)
	}
}

func (p *Pool[T]) destroyOne(v T) {
	if p.destroy != nil {
		p.destroy(v)
	}
}

type discardError struct{ err error }

func (e *discardError) Error() string { return e.err.Error() }
func (e *discardError) Unwrap() error { return e.err }

// Discard 标记“资源已损坏”：Do 会销毁该资源，并把 err 原样返回给调用方。
func Discard(err error) error {
	if err == nil {
		return nil
	}
	return &discardError{err: err}
}
