// Package rv39kernel is the module root. It holds nothing but the
// embedded go.mod, since go:embed cannot reach outside a package's own
// directory tree and go.mod lives here; sys_uname() (package syscalls)
// parses GoModSource to report a release string instead of a
// hand-maintained version constant.
package rv39kernel

import _ "embed"

//go:embed go.mod
var GoModSource string
