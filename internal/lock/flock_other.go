//go:build !unix

package lock

import (
	"errors"
	"fmt"
	"os"
)

var errWouldBlock = errors.New("lock held")

func tryLock(*os.File) error {
	return fmt.Errorf("run locks need flock(2): %w", errors.ErrUnsupported)
}

func unlock(*os.File) error { return nil }
