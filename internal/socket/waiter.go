package socket

import (
	"sync"
	"time"
)

// waiterGroup is one epoll registration: a set of sockets whose read- and
// error-readiness a caller wants to observe together, per spec.md §4.6.
//
// Lock order: mailbox registry lock -> context lock -> waiterGroup lock.
// Code paths that touch a context and its waiter groups must acquire in
// that order and release in reverse.
type waiterGroup struct {
	mu sync.Mutex
	cv *sync.Cond

	readyRead  map[SocketID]struct{}
	readyError map[SocketID]struct{}
	closed     bool
}

func newWaiterGroup() *waiterGroup {
	wg := &waiterGroup{
		readyRead:  make(map[SocketID]struct{}),
		readyError: make(map[SocketID]struct{}),
	}
	wg.cv = sync.NewCond(&wg.mu)
	return wg
}

// markReady records sid as read- or error-ready and wakes any waiter.
// Context state transitions call it with the context's lock held; epollAdd
// calls it after registration, with no context lock held.
func (wg *waiterGroup) markReady(sid SocketID, read, errReady bool) {
	wg.mu.Lock()
	if read {
		wg.readyRead[sid] = struct{}{}
	}
	if errReady {
		wg.readyError[sid] = struct{}{}
	}
	wg.cv.Broadcast()
	wg.mu.Unlock()
}

// clearRead drops sid from the read-ready set, e.g. once its buffered bytes
// have been fully drained.
func (wg *waiterGroup) clearRead(sid SocketID) {
	wg.mu.Lock()
	delete(wg.readyRead, sid)
	wg.mu.Unlock()
}

// forget removes sid from both readiness sets. Nothing in this package
// calls it.
func (wg *waiterGroup) forget(sid SocketID) {
	wg.mu.Lock()
	delete(wg.readyRead, sid)
	delete(wg.readyError, sid)
	wg.mu.Unlock()
}

func snapshotSet(m map[SocketID]struct{}) map[SocketID]struct{} {
	out := make(map[SocketID]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

// wait blocks until either readyRead or readyError is non-empty, the group
// is closed, or timeout elapses (timeout <= 0 means no timeout). It
// returns snapshots of both sets.
func (wg *waiterGroup) wait(timeout time.Duration) (map[SocketID]struct{}, map[SocketID]struct{}) {
	dl := newDeadline(timeout)
	wg.mu.Lock()
	defer wg.mu.Unlock()
	for len(wg.readyRead) == 0 && len(wg.readyError) == 0 && !wg.closed {
		if !dl.waitOn(wg.cv) {
			break
		}
	}
	return snapshotSet(wg.readyRead), snapshotSet(wg.readyError)
}

// close marks the group closed and wakes every waiter; a closed group
// forever returns its (possibly empty) current snapshots.
func (wg *waiterGroup) close() {
	wg.mu.Lock()
	wg.closed = true
	wg.cv.Broadcast()
	wg.mu.Unlock()
}

// Epoll is the public readiness-multiplexer handle returned by
// Mailbox.EpollCreate.
type Epoll struct {
	mb *Mailbox
	id int64
	wg *waiterGroup
}

// Add registers sockets whose read- and/or error-readiness should be
// aggregated by this Epoll.
func (e *Epoll) Add(rset, xset []SocketID) {
	e.mb.epollAdd(e.wg, rset, xset)
}

// Remove unregisters sockets previously added with Add. Sockets not
// currently registered are ignored.
func (e *Epoll) Remove(rset, xset []SocketID) {
	e.mb.epollRemove(e.wg, rset, xset)
}

// Close unregisters the Epoll from the mailbox, immediately unblocking any
// in-progress Wait.
func (e *Epoll) Close() {
	e.mb.epollClose(e.id, e.wg)
}

// Wait blocks until any registered socket is ready or the operation times
// out, whichever happens first. A zero or negative timeout means wait
// forever.
func (e *Epoll) Wait(timeout time.Duration) (readReady, errReady []SocketID) {
	rr, rx := e.wg.wait(timeout)
	return setToSlice(rr), setToSlice(rx)
}

func setToSlice(m map[SocketID]struct{}) []SocketID {
	out := make([]SocketID, 0, len(m))
	for sid := range m {
		out = append(out, sid)
	}
	return out
}
