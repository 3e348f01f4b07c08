// Package kerrno defines the negative-errno convention shared by the
// VFS, file-descriptor table, and syscall gateway.
package kerrno

import (
	"errors"
	"fmt"
)

// Errno is a positive POSIX-style error code. The syscall gateway
// writes its negation (Neg) into rax and mirrors the positive value
// into a thread's thread-local errno field.
type Errno int

const (
	ENOENT       Errno = 2
	EBADF        Errno = 9
	ENOMEM       Errno = 12
	EFAULT       Errno = 14
	EISDIR       Errno = 21
	ENOTDIR      Errno = 20
	EINVAL       Errno = 22
	ENAMETOOLONG Errno = 36
)

func (e Errno) Error() string {
	if s, ok := names[e]; ok {
		return s
	}
	return fmt.Sprintf("errno %d", int(e))
}

// Neg returns the value placed in rax: the negative of the errno.
func (e Errno) Neg() int64 { return -int64(e) }

var names = map[Errno]string{
	ENOENT:       "no such file or directory",
	EBADF:        "bad file descriptor",
	ENOMEM:       "out of memory",
	EFAULT:       "bad address",
	EISDIR:       "is a directory",
	ENOTDIR:      "not a directory",
	EINVAL:       "invalid argument",
	ENAMETOOLONG: "file name too long",
}

// FromError unwraps an Errno out of an arbitrary error, defaulting to
// EINVAL for errors that did not originate in this package.
func FromError(err error) Errno {
	if err == nil {
		return 0
	}
	var e Errno
	if errors.As(err, &e) {
		return e
	}
	return EINVAL
}
