//go:build linux

package ws

import (
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// waitTimeout bounds one epoll_wait so the event loop notices shutdown
// without needing a wakeup descriptor.
const waitTimeout = 500 * time.Millisecond

// Epoll watches authenticated chat sockets for readability. The server parks
// every upgraded connection here and only spends a worker goroutine on it
// when the client has sent something or hung up.
type Epoll struct {
	fd int

	mu    sync.RWMutex
	byFD  map[int]net.Conn
	fdOf  map[net.Conn]int
	ready []unix.EpollEvent
}

// NewEpoll opens a close-on-exec epoll instance.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		fd:    fd,
		byFD:  make(map[int]net.Conn),
		fdOf:  make(map[net.Conn]int),
		ready: make([]unix.EpollEvent, 256),
	}, nil
}

// Add starts watching conn. Peer half-close is reported as readiness so the
// read path sees EOF and drops the user from their rooms.
func (e *Epoll) Add(conn net.Conn) error {
	fd := socketFD(conn)
	if fd < 0 {
		return syscall.EINVAL
	}
	ev := &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return err
	}

	e.mu.Lock()
	e.byFD[fd] = conn
	e.fdOf[conn] = fd
	e.mu.Unlock()
	return nil
}

// Remove stops watching conn. The descriptor recorded by Add is used, so
// Remove still works after the socket has been closed.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	fd, ok := e.fdOf[conn]
	if ok {
		delete(e.fdOf, conn)
		delete(e.byFD, fd)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}

	err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.EBADF || err == unix.ENOENT {
		return nil
	}
	return err
}

// Wait returns the connections that became readable. It returns an empty
// slice when waitTimeout passes with nothing ready. Descriptors removed while
// the call was blocked are dropped from the result.
func (e *Epoll) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(e.fd, e.ready, int(waitTimeout/time.Millisecond))
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	conns := make([]net.Conn, 0, n)
	for _, ev := range e.ready[:n] {
		if conn, ok := e.byFD[int(ev.Fd)]; ok {
			conns = append(conns, conn)
		}
	}
	return conns, nil
}

// Resume does nothing here. Readiness is level-triggered, so a socket that
// still has buffered frames shows up again on the next Wait.
func (e *Epoll) Resume(net.Conn) {}

// Close releases the epoll descriptor. Sockets are closed by their owners.
func (e *Epoll) Close() error {
	e.mu.Lock()
	e.byFD = map[int]net.Conn{}
	e.fdOf = map[net.Conn]int{}
	e.mu.Unlock()
	return unix.Close(e.fd)
}

// socketFD returns the raw descriptor behind conn, or -1. It goes through
// SyscallConn rather than File so no duplicate descriptor is created.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	if err := raw.Control(func(s uintptr) { fd = int(s) }); err != nil {
		return -1
	}
	return fd
}
