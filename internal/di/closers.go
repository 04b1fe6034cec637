package di

import (
	"errors"
	"sync"
)

// Closers 收集按需创建的资源句柄，进程退出时统一关闭
type Closers struct {
	mu  sync.Mutex
	fns []func() error
}

// NewClosers 创建空的关闭列表
func NewClosers() *Closers {
	return &Closers{}
}

// Add 登记一个关闭函数
func (c *Closers) Add(fn func() error) {
	c.mu.Lock()
	c.fns = append(c.fns, fn)
	c.mu.Unlock()
}

// Len 已登记数量
func (c *Closers) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fns)
}

// Close 按登记的逆序关闭，返回合并后的错误；重复调用无副作用
func (c *Closers) Close() error {
	c.mu.Lock()
	fns := c.fns
	c.fns = nil
	c.mu.Unlock()

	var errs []error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
