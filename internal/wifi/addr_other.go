//go:build !linux

package wifi

import (
	"context"
	"fmt"
	"runtime"
)

func watchAddrs(ctx context.Context, emit func(Event)) error {
	return fmt.Errorf("address watch unsupported on %s", runtime.GOOS)
}

func ifaceAddr(string) (string, bool) { return "", false }
