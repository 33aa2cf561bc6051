package registry

import (
	"context"
	"sync"
)

// Memory is a registry shared by the nodes and clients of one process.
type Memory struct {
	lock     sync.Mutex
	services table
}

func NewMemory() *Memory {
	return &Memory{services: make(table)}
}

func (m *Memory) Publish(ctx context.Context, nodeID, address string, services []string) error {
	if err := checkNodeID(nodeID); err != nil {
		return err
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	m.services.publish(nodeID, address, services)
	return nil
}

func (m *Memory) Unpublish(ctx context.Context, nodeID string, services []string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.services.unpublish(nodeID, services)
	return nil
}

func (m *Memory) Lookup(ctx context.Context, pattern string) (map[string][]Provider, error) {
	re, err := Compile(pattern)
	if err != nil {
		return nil, err
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	return m.services.lookup(re), nil
}

func (m *Memory) Close() error {
	return nil
}
