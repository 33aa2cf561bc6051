package client

import (
	"container/list"
	"sync"
	"time"

	"github.com/dermesser/zmp/securitymanager"
)

/*
ConnectionCache pools channels per node address. A caller takes a channel
with get, which is either an idle pooled one or a new one, and hands it back
with put once the call completed. Channels that failed are closed instead.
*/
type ConnectionCache struct {
	security *securitymanager.ClientSecurityManager

	lock  sync.Mutex
	cache map[string]*list.List
}

// NewConnectionCache creates a cache whose channels use security (may be nil).
func NewConnectionCache(security *securitymanager.ClientSecurityManager) *ConnectionCache {
	return &ConnectionCache{
		security: security,
		cache:    make(map[string]*list.List),
	}
}

func (cc *ConnectionCache) get(address string, timeout time.Duration) (*channel, error) {
	cc.lock.Lock()
	idle, found := cc.cache[address]
	if found && idle.Len() > 0 {
		c := idle.Remove(idle.Front()).(*channel)
		cc.lock.Unlock()

		c.setTimeout(timeout)
		return c, nil
	}
	cc.lock.Unlock()

	return newChannel(address, cc.security, timeout)
}

func (cc *ConnectionCache) put(c *channel) {
	cc.lock.Lock()
	defer cc.lock.Unlock()

	idle, found := cc.cache[c.address]
	if !found {
		idle = list.New()
		cc.cache[c.address] = idle
	}
	idle.PushBack(c)
}

// Len returns the number of idle channels.
func (cc *ConnectionCache) Len() int {
	cc.lock.Lock()
	defer cc.lock.Unlock()

	count := 0
	for _, idle := range cc.cache {
		count += idle.Len()
	}
	return count
}

// CleanOld closes idle channels unused for longer than olderThan and drops
// addresses without idle channels.
func (cc *ConnectionCache) CleanOld(olderThan time.Duration) {
	cc.lock.Lock()
	defer cc.lock.Unlock()

	for address, idle := range cc.cache {
		for element := idle.Front(); element != nil; {
			next := element.Next()

			if c := element.Value.(*channel); time.Since(c.lastUsed) >= olderThan {
				c.close()
				idle.Remove(element)
			}
			element = next
		}

		if idle.Len() == 0 {
			delete(cc.cache, address)
		}
	}
}

// CloseAll closes every idle channel.
func (cc *ConnectionCache) CloseAll() {
	cc.CleanOld(0)
}
