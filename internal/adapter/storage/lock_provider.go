package storage

import (
	"github.com/mhdang/seckill/internal/pkg/lock"
	"github.com/mhdang/seckill/internal/port"
)

// LockProvider adapts the lock package to the port.LockProvider shape
// consumed by the order consumer.
type LockProvider struct {
	locks *lock.Client
}

func NewLockProvider(locks *lock.Client) *LockProvider {
	return &LockProvider{locks: locks}
}

func (p *LockProvider) NewLock(name string) port.Lock {
	return p.locks.NewMutex(name)
}
