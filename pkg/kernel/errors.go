package kernel

import "github.com/memctl/memctl-go/pkg/merr"

func errShortRead(addr uint64, n int) error {
	return merr.AtAddr(merr.KindKernelIO, addr, "short read (%d bytes)", n)
}
