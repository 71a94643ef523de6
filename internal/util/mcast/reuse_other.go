//go:build !unix

package mcast

import "syscall"

func reuseControl(_, _ string, _ syscall.RawConn) error { return nil }
