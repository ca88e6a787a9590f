package kvstore

import (
	"context"
	"sync"
)

// Memory is a Store for a single process
type Memory struct {
	mu   sync.Mutex
	data map[string]string
}

// NewMemory creates an empty in-process store
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	if err := checkKey(key); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) CompareAndSet(_ context.Context, key string, expected string, value string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	if err := checkValue(value); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.data[key]
	if expected == "" && ok {
		return false, nil
	}
	if expected != "" && (!ok || current != expected) {
		return false, nil
	}
	m.data[key] = value
	return true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Close() error { return nil }
