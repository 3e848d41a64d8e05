//go:build unix

package fsx

import (
	"errors"
	"syscall"
)

// isCrossDevice 识别 rename 返回的 EXDEV（*os.LinkError 实现了 Unwrap，errors.Is 可直接穿透）。
func isCrossDevice(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}
