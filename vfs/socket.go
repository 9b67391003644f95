package vfs

import (
	"sync"

	"rv39kernel/defs"
	"rv39kernel/fdops"
)

// Socket is a loopback stream socket, spec.md §4.10's AF_UNIX/AF_INET
// loopback support: two Sockets share a pair of rings (one per
// direction), the same shape as Pipe but bidirectional and with a
// Sendto/Recvfrom surface instead of plain Read/Write only. Grounded
// on the same circbuf.Circbuf_t wraparound arithmetic as vfs.Pipe.
type Socket struct {
	fdops.BaseFile
	send *pipeShared // this end's outgoing ring (peer reads it)
	recv *pipeShared // this end's incoming ring (peer wrote it)
	mu   sync.Mutex
	peer *Socket
}

const sockBufSize = 8192

// listener is one bind+listen'ed socket's backlog: connect(2) pushes a
// freshly created server-side Socket end here, accept4(2) pops one off.
type listener struct {
	mu      sync.Mutex
	backlog chan *Socket
}

// portMu/portTable implement the "global port -> listener" registry
// SPEC_FULL describes for the loopback socket family: plain Go
// primitives rather than klock.Spin, since nothing at the syscall
// layer (where bind/listen/connect/accept4 run) currently threads a
// klock.CPU through the way trap/sched's own lock users do.
var (
	portMu    sync.Mutex
	portTable = make(map[uint16]*listener)
)

const listenBacklog = 16

// Bind reserves port for later Listen; EADDRINUSE-equivalent EEXIST if
// already claimed.
func Bind(port uint16) defs.Err_t {
	portMu.Lock()
	defer portMu.Unlock()
	if _, ok := portTable[port]; ok {
		return defs.EEXIST
	}
	portTable[port] = nil
	return 0
}

// Listen installs the backlog channel for a previously Bind'ed port.
func Listen(port uint16) defs.Err_t {
	portMu.Lock()
	defer portMu.Unlock()
	l, ok := portTable[port]
	if !ok {
		return defs.EINVAL
	}
	if l == nil {
		l = &listener{backlog: make(chan *Socket, listenBacklog)}
		portTable[port] = l
	}
	return 0
}

// Connect creates a loopback socket pair and pushes the server-side end
// onto port's backlog for Accept to pick up, returning the client-side
// end. ECONNREFUSED if nothing is listening there.
func Connect(port uint16) (*Socket, defs.Err_t) {
	portMu.Lock()
	l, ok := portTable[port]
	portMu.Unlock()
	if !ok || l == nil {
		return nil, defs.ECONNREFUSED
	}
	client, server := NewSocketPair()
	select {
	case l.backlog <- server:
	default:
		server.Close()
		client.Close()
		return nil, defs.ECONNREFUSED
	}
	return client, 0
}

// ListenSocket is the fd socket(2) hands back before it is connected:
// a placeholder that bind(2)/listen(2) annotate with a port number, and
// that connect(2)/accept4(2) later replace (at the same fd number) with
// a real connected *Socket once the loopback handshake completes.
type ListenSocket struct {
	fdops.BaseFile
	mu        sync.Mutex
	port      uint16
	bound     bool
	listening bool
}

func NewListenSocket() *ListenSocket { return &ListenSocket{} }

func (l *ListenSocket) Port() (uint16, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port, l.bound
}

func (l *ListenSocket) SetPort(port uint16) {
	l.mu.Lock()
	l.port, l.bound = port, true
	l.mu.Unlock()
}

func (l *ListenSocket) SetListening() {
	l.mu.Lock()
	l.listening = true
	l.mu.Unlock()
}

func (l *ListenSocket) IsListening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listening
}

func (l *ListenSocket) GetStat(st *defs.Kstat) defs.Err_t {
	st.Mode = defs.S_IFSOCK | 0666
	return 0
}

// Accept blocks until Connect hands this port a fresh server-side
// socket, or returns EAGAIN immediately if nonBlocking is set and the
// backlog is empty.
func Accept(port uint16, nonBlocking bool) (*Socket, defs.Err_t) {
	portMu.Lock()
	l, ok := portTable[port]
	portMu.Unlock()
	if !ok || l == nil {
		return nil, defs.EINVAL
	}
	if nonBlocking {
		select {
		case s := <-l.backlog:
			return s, 0
		default:
			return nil, defs.EAGAIN
		}
	}
	return <-l.backlog, 0
}

// NewSocketPair creates two connected loopback sockets, analogous to
// socketpair(2).
func NewSocketPair() (*Socket, *Socket) {
	a2b := &pipeShared{buf: newRing(sockBufSize), readOpen: true, writeOpen: true}
	a2b.cond = sync.NewCond(&a2b.mu)
	b2a := &pipeShared{buf: newRing(sockBufSize), readOpen: true, writeOpen: true}
	b2a.cond = sync.NewCond(&b2a.mu)

	s1 := &Socket{send: a2b, recv: b2a}
	s2 := &Socket{send: b2a, recv: a2b}
	s1.peer, s2.peer = s2, s1
	return s1, s2
}

func (s *Socket) Read(dst []byte) (int, defs.Err_t) {
	sh := s.recv
	sh.mu.Lock()
	defer sh.mu.Unlock()
	for sh.buf.empty() && sh.writeOpen {
		sh.cond.Wait()
	}
	n := sh.buf.read(dst)
	sh.cond.Broadcast()
	return n, 0
}

func (s *Socket) Write(src []byte) (int, defs.Err_t) {
	sh := s.send
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if !sh.readOpen {
		return 0, defs.ECONNREFUSED
	}
	total := 0
	for total < len(src) {
		for sh.buf.full() && sh.readOpen {
			sh.cond.Wait()
		}
		if !sh.readOpen {
			return total, defs.ECONNREFUSED
		}
		total += sh.buf.write(src[total:])
		sh.cond.Broadcast()
	}
	return total, 0
}

func (s *Socket) Sendto(buf []byte, addr []byte) (int, defs.Err_t) {
	// loopback only: addr is ignored, delivery is always to the
	// socketpair peer established at NewSocketPair time.
	return s.Write(buf)
}

func (s *Socket) Recvfrom(buf []byte) (int, []byte, defs.Err_t) {
	n, err := s.Read(buf)
	return n, nil, err
}

func (s *Socket) ReadyToRead() bool {
	sh := s.recv
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return !sh.buf.empty() || !sh.writeOpen
}

func (s *Socket) ReadyToWrite() bool {
	sh := s.send
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return !sh.buf.full() || !sh.readOpen
}

func (s *Socket) IsHangUp() bool {
	sh := s.recv
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return !sh.writeOpen && sh.buf.empty()
}

func (s *Socket) Reopen() defs.Err_t { return 0 }

func (s *Socket) Close() defs.Err_t {
	// s.send is the ring this end writes (the peer reads it): closing
	// stops our writes. s.recv is the ring this end reads (the peer
	// writes it): closing stops our reads. Each flag is read by the
	// peer's own ReadyToRead/ReadyToWrite/Write/Read, so it must be the
	// self-facing half of the pair, not the peer-facing half.
	s.send.mu.Lock()
	s.send.writeOpen = false
	s.send.cond.Broadcast()
	s.send.mu.Unlock()

	s.recv.mu.Lock()
	s.recv.readOpen = false
	s.recv.cond.Broadcast()
	s.recv.mu.Unlock()
	return 0
}
