package syscalls

import (
	"strings"

	"golang.org/x/mod/modfile"

	"rv39kernel"
	"rv39kernel/mem"
	"rv39kernel/proc"
)

// utsNameLen matches Linux's struct utsname field width (65 bytes,
// NUL padded).
const utsNameLen = 65

var release = parseRelease(rv39kernel.GoModSource)

// parseRelease extracts the module's declared Go version from its
// go.mod via modfile.Parse, reported as the kernel "release" string in
// struct utsname instead of a hand-maintained version constant.
func parseRelease(src string) string {
	f, err := modfile.Parse("go.mod", []byte(src), nil)
	if err != nil || f.Go == nil {
		return "0.0.0"
	}
	return f.Go.Version
}

func sysUname(t *proc.TaskControlBlock, a0, a1, a2, a3, a4, a5 uint64) int64 {
	fields := []string{"rv39kernel", "localhost", release, release, "riscv64", ""}
	buf := make([]byte, utsNameLen*len(fields))
	for i, s := range fields {
		copy(buf[i*utsNameLen:(i+1)*utsNameLen], padNUL(s))
	}
	if err := t.Proc.VM.Write(uintptr(a0), buf, mem.Write); err != 0 {
		return errval(err)
	}
	return 0
}

func padNUL(s string) []byte {
	if len(s) >= utsNameLen {
		s = s[:utsNameLen-1]
	}
	return []byte(s + strings.Repeat("\x00", utsNameLen-len(s)))
}
