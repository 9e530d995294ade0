package socket

// EpollCreate allocates a new readiness-multiplexer registration.
func (mb *Mailbox) EpollCreate() *Epoll {
	mb.mu.Lock()
	id := mb.nextEpollID
	mb.nextEpollID++
	reg := &epollRegistration{
		id:   id,
		wg:   newWaiterGroup(),
		rset: make(map[SocketID]struct{}),
		xset: make(map[SocketID]struct{}),
	}
	mb.epolls[id] = reg
	mb.mu.Unlock()
	return &Epoll{mb: mb, id: id, wg: reg.wg}
}

// lookupContext returns the raw context value for sid, or nil if unknown.
func (mb *Mailbox) lookupContext(sid SocketID) any {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.sockets[sid]
}

// registerWaiter adds wg to ctx's waiter set(s) and reports ctx's current
// readiness, so a waiter added after the readiness edge already fired
// still observes it instead of blocking until the next edge.
func registerWaiter(ctx any, wg *waiterGroup, id int64, r, x bool) (readNow, errNow bool) {
	switch c := ctx.(type) {
	case *connectedContext:
		c.mu.Lock()
		if r {
			c.rWaiters[id] = wg
			payload, ok := c.pendingRemote[c.recvSeq]
			readNow = ok && len(payload) > 0
		}
		if x {
			c.xWaiters[id] = wg
			errNow = c.closed
		}
		c.mu.Unlock()
	case *listeningContext:
		c.mu.Lock()
		if r {
			c.rWaiters[id] = wg
			readNow = len(c.queue) > 0
		}
		c.mu.Unlock()
	}
	return readNow, errNow
}

func unregisterWaiter(ctx any, id int64, r, x bool) {
	switch c := ctx.(type) {
	case *connectedContext:
		c.mu.Lock()
		if r {
			delete(c.rWaiters, id)
		}
		if x {
			delete(c.xWaiters, id)
		}
		c.mu.Unlock()
	case *listeningContext:
		c.mu.Lock()
		if r {
			delete(c.rWaiters, id)
		}
		c.mu.Unlock()
	}
}

func (mb *Mailbox) epollAdd(wg *waiterGroup, rset, xset []SocketID) {
	mb.mu.Lock()
	var reg *epollRegistration
	for _, r := range mb.epolls {
		if r.wg == wg {
			reg = r
			break
		}
	}
	mb.mu.Unlock()
	if reg == nil {
		return
	}
	for _, sid := range rset {
		ctx := mb.lookupContext(sid)
		if ctx == nil {
			continue
		}
		readNow, _ := registerWaiter(ctx, wg, reg.id, true, false)
		reg.rset[sid] = struct{}{}
		if readNow {
			wg.markReady(sid, true, false)
		}
	}
	for _, sid := range xset {
		ctx := mb.lookupContext(sid)
		if ctx == nil {
			continue
		}
		_, errNow := registerWaiter(ctx, wg, reg.id, false, true)
		reg.xset[sid] = struct{}{}
		if errNow {
			wg.markReady(sid, false, true)
		}
	}
}

func (mb *Mailbox) epollRemove(wg *waiterGroup, rset, xset []SocketID) {
	mb.mu.Lock()
	var id int64
	var reg *epollRegistration
	for eid, r := range mb.epolls {
		if r.wg == wg {
			id, reg = eid, r
			break
		}
	}
	mb.mu.Unlock()
	if reg == nil {
		return
	}
	for _, sid := range rset {
		if ctx := mb.lookupContext(sid); ctx != nil {
			unregisterWaiter(ctx, id, true, false)
		}
		delete(reg.rset, sid)
	}
	for _, sid := range xset {
		if ctx := mb.lookupContext(sid); ctx != nil {
			unregisterWaiter(ctx, id, false, true)
		}
		delete(reg.xset, sid)
	}
}

func (mb *Mailbox) epollClose(id int64, wg *waiterGroup) {
	mb.mu.Lock()
	reg, ok := mb.epolls[id]
	if ok {
		delete(mb.epolls, id)
	}
	mb.mu.Unlock()
	if !ok {
		return
	}
	for sid := range reg.rset {
		if ctx := mb.lookupContext(sid); ctx != nil {
			unregisterWaiter(ctx, id, true, false)
		}
	}
	for sid := range reg.xset {
		if ctx := mb.lookupContext(sid); ctx != nil {
			unregisterWaiter(ctx, id, false, true)
		}
	}
	wg.close()
}

// closeAllEpolls is used by Mailbox.Close to unblock every outstanding
// Epoll.Wait.
func (mb *Mailbox) closeAllEpolls() {
	mb.mu.Lock()
	regs := make([]*epollRegistration, 0, len(mb.epolls))
	for _, r := range mb.epolls {
		regs = append(regs, r)
	}
	mb.epolls = make(map[int64]*epollRegistration)
	mb.mu.Unlock()
	for _, r := range regs {
		r.wg.close()
	}
}
