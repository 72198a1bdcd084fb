package scheduler

import "sync"

// KeyedLock — набор неблокирующих блокировок по имени.
// Ключи запоминаются при первом обращении и не удаляются:
// количество репозиториев ограничено.
type KeyedLock struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewKeyedLock создаёт пустой набор блокировок.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{held: make(map[string]bool)}
}

// TryLock захватывает блокировку без ожидания.
// При успехе возвращает функцию освобождения; повторный вызов unlock безопасен.
func (k *KeyedLock) TryLock(key string) (unlock func(), ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.held[key] {
		return nil, false
	}
	k.held[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			k.held[key] = false
			k.mu.Unlock()
		})
	}, true
}

// Locked сообщает, удерживается ли блокировка. Не влияет на захват.
func (k *KeyedLock) Locked(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.held[key]
}
