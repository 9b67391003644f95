// Socket-group syscalls, SPEC_FULL's loopback-only AF_UNIX/AF_INET
// support: socket(2) hands back a vfs.ListenSocket placeholder,
// bind/listen annotate it with a port under vfs's package-level
// registry, and connect/accept4 replace or extend the descriptor table
// with a real connected vfs.Socket. There is no routing, no real
// network device, and no address-family/type/protocol validation
// beyond rejecting obviously-wrong values, matching the Non-goal that
// excludes a real network stack.
package syscalls

import (
	"rv39kernel/defs"
	"rv39kernel/mem"
	"rv39kernel/proc"
	"rv39kernel/vfs"
)

const (
	sockNonblock = 0x800
	sockCloexec  = 0x80000
)

func sysSocket(t *proc.TaskControlBlock, domain, typ, protocol, a3, a4, a5 uint64) int64 {
	ls := vfs.NewListenSocket()
	if typ&sockCloexec != 0 {
		ls.SetCloseOnExec(true)
	}
	fdnum, err := t.Proc.Fds.Push(ls, 0, 0)
	if err != 0 {
		return errval(err)
	}
	return int64(fdnum)
}

func socketFromFd(t *proc.TaskControlBlock, fdnum int) (*vfs.ListenSocket, defs.Err_t) {
	f, err := t.Proc.Fds.GetFile(fdnum)
	if err != 0 {
		return nil, err
	}
	ls, ok := f.(*vfs.ListenSocket)
	if !ok {
		return nil, defs.ENOTSOCK
	}
	return ls, 0
}

// sockaddrPort extracts the 16-bit port field from a sockaddr_in-shaped
// buffer (bytes [2:4], network byte order), the one field this loopback
// implementation actually uses.
func sockaddrPort(buf []byte) uint16 {
	if len(buf) < 4 {
		return 0
	}
	return uint16(buf[2])<<8 | uint16(buf[3])
}

func sysBind(t *proc.TaskControlBlock, a0, addrAddr, addrLen, a3, a4, a5 uint64) int64 {
	ls, err := socketFromFd(t, int(a0))
	if err != 0 {
		return errval(err)
	}
	buf := make([]byte, addrLen)
	if rerr := t.Proc.VM.Read(uintptr(addrAddr), buf, mem.Read); rerr != 0 {
		return errval(rerr)
	}
	port := sockaddrPort(buf)
	if berr := vfs.Bind(port); berr != 0 {
		return errval(berr)
	}
	ls.SetPort(port)
	return 0
}

func sysListen(t *proc.TaskControlBlock, a0, backlog, a2, a3, a4, a5 uint64) int64 {
	ls, err := socketFromFd(t, int(a0))
	if err != 0 {
		return errval(err)
	}
	port, bound := ls.Port()
	if !bound {
		return errval(defs.EINVAL)
	}
	if lerr := vfs.Listen(port); lerr != 0 {
		return errval(lerr)
	}
	ls.SetListening()
	return 0
}

func sysConnect(t *proc.TaskControlBlock, a0, addrAddr, addrLen, a3, a4, a5 uint64) int64 {
	if _, err := socketFromFd(t, int(a0)); err != 0 {
		return errval(err)
	}
	buf := make([]byte, addrLen)
	if rerr := t.Proc.VM.Read(uintptr(addrAddr), buf, mem.Read); rerr != 0 {
		return errval(rerr)
	}
	port := sockaddrPort(buf)
	client, cerr := vfs.Connect(port)
	if cerr != 0 {
		return errval(cerr)
	}
	return errval(t.Proc.Fds.PushAt(int(a0), client, 0))
}

func sysAccept4(t *proc.TaskControlBlock, a0, addrAddr, addrLenAddr, flags, a4, a5 uint64) int64 {
	ls, err := socketFromFd(t, int(a0))
	if err != 0 {
		return errval(err)
	}
	port, bound := ls.Port()
	if !bound || !ls.IsListening() {
		return errval(defs.EINVAL)
	}
	server, aerr := vfs.Accept(port, flags&sockNonblock != 0)
	if aerr != 0 {
		return errval(aerr)
	}
	if flags&sockCloexec != 0 {
		server.SetCloseOnExec(true)
	}
	fdnum, perr := t.Proc.Fds.Push(server, 0, 0)
	if perr != 0 {
		server.Close()
		return errval(perr)
	}
	return int64(fdnum)
}

func sysSendto(t *proc.TaskControlBlock, a0, bufAddr, length, flags, addrAddr, addrLen uint64) int64 {
	f, err := t.Proc.Fds.GetFile(int(a0))
	if err != 0 {
		return errval(err)
	}
	buf := make([]byte, length)
	if rerr := t.Proc.VM.Read(uintptr(bufAddr), buf, mem.Read); rerr != 0 {
		return errval(rerr)
	}
	n, serr := f.Sendto(buf, nil)
	if serr != 0 {
		return errval(serr)
	}
	return int64(n)
}

func sysRecvfrom(t *proc.TaskControlBlock, a0, bufAddr, length, flags, addrAddr, addrLenAddr uint64) int64 {
	f, err := t.Proc.Fds.GetFile(int(a0))
	if err != 0 {
		return errval(err)
	}
	buf := make([]byte, length)
	n, _, rerr := f.Recvfrom(buf)
	if rerr != 0 {
		return errval(rerr)
	}
	if werr := t.Proc.VM.Write(uintptr(bufAddr), buf[:n], mem.Write); werr != 0 {
		return errval(werr)
	}
	return int64(n)
}
