package paychmgr

import (
	"sync"

	"github.com/filecoin-project/venus-statechannel/pkg/chanstate"
)

// channelLock serializes read-modify-write cycles on one channel and owns
// the channel's signing version counter.
type channelLock struct {
	sync.Mutex

	loaded     bool
	lastSigned uint64
}

// nextVersion returns a version strictly greater than both the stored
// version and every version handed out before, even for submissions that
// later failed. Callers hold the lock.
func (l *channelLock) nextVersion(stored uint64) uint64 {
	if !l.loaded || stored > l.lastSigned {
		l.lastSigned = stored
		l.loaded = true
	}
	l.lastSigned++
	return l.lastSigned
}

type lockTable struct {
	lk    sync.Mutex
	locks map[chanstate.Hash]*channelLock
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[chanstate.Hash]*channelLock)}
}

// lock acquires the lock for id and returns it.
func (t *lockTable) lock(id chanstate.Hash) *channelLock {
	t.lk.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &channelLock{}
		t.locks[id] = l
	}
	t.lk.Unlock()

	l.Lock()
	return l
}
