package engine

import "sync"

// TenantLocker serialises scheduling writes per tenant. One locker should be
// shared by every engine that writes to the same store.
type TenantLocker struct {
	mu    sync.Mutex
	locks map[string]*tenantLock
}

type tenantLock struct {
	mu   sync.Mutex
	refs int
}

func NewTenantLocker() *TenantLocker {
	return &TenantLocker{locks: make(map[string]*tenantLock)}
}

// Lock blocks until tenantID is free and returns its unlock func. Entries are
// dropped once nobody holds or waits on them.
func (l *TenantLocker) Lock(tenantID string) (unlock func()) {
	l.mu.Lock()
	lock, ok := l.locks[tenantID]
	if !ok {
		lock = &tenantLock{}
		l.locks[tenantID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			lock.mu.Unlock()
			l.mu.Lock()
			lock.refs--
			if lock.refs == 0 {
				delete(l.locks, tenantID)
			}
			l.mu.Unlock()
		})
	}
}

func (l *TenantLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
