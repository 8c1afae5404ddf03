//go:build !linux

package transport

import (
	"context"
	"fmt"
	"runtime"
)

func (b *bluetoothTransport) Open(ctx context.Context) error {
	return fmt.Errorf("%w: rfcomm not supported on %s", ErrTransportUnavailable, runtime.GOOS)
}
