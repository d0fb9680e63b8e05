package diag

import "os"

func newStderr() *os.File {
	return os.Stderr
}
