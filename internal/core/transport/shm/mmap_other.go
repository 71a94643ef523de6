//go:build !unix

package shm

import "os"

const supported = false

func mapFile(*os.File, int, bool) ([]byte, error) { return nil, errUnsupportedPlatform }

func unmap([]byte) error { return nil }
