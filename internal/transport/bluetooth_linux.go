//go:build linux

package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// sysfsBluetooth is where the kernel lists HCI adapters.
var sysfsBluetooth = "/sys/class/bluetooth"

func (b *bluetoothTransport) Open(ctx context.Context) error {
	b.mu.Lock()
	if b.conn != nil {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if err := adapterAvailable(sysfsBluetooth); err != nil {
		return err
	}

	addr, err := parseMAC(b.ep.Host)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailure, err)
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM, unix.BTPROTO_RFCOMM)
	if err != nil {
		// EAFNOSUPPORT: kernel built without bluetooth.
		return fmt.Errorf("%w: rfcomm socket: %v", ErrTransportUnavailable, err)
	}

	sa := &unix.SockaddrRFCOMM{Addr: addr, Channel: b.opts.RFCOMMChannel}
	done := make(chan error, 1)
	go func() { done <- unix.Connect(fd, sa) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = unix.Shutdown(fd, unix.SHUT_RDWR)
		<-done
		_ = unix.Close(fd)
		return fmt.Errorf("%w: rfcomm connect %s: %v", ErrConnectFailure, b.ep.Host, ctx.Err())
	}
	if err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("%w: rfcomm connect %s channel %d: %v", ErrConnectFailure, b.ep.Host, b.opts.RFCOMMChannel, err)
	}

	b.mu.Lock()
	b.conn = os.NewFile(uintptr(fd), "rfcomm:"+b.ep.Host)
	b.mu.Unlock()
	return nil
}

// adapterAvailable reports ErrTransportUnavailable unless at least one HCI
// adapter exists and is not blocked by rfkill.
func adapterAvailable(root string) error {
	adapters, _ := filepath.Glob(filepath.Join(root, "hci*"))
	if len(adapters) == 0 {
		return fmt.Errorf("%w: no bluetooth adapter", ErrTransportUnavailable)
	}
	for _, hci := range adapters {
		if !rfkillBlocked(hci) {
			return nil
		}
	}
	return fmt.Errorf("%w: bluetooth adapter disabled", ErrTransportUnavailable)
}

func rfkillBlocked(hci string) bool {
	switches, _ := filepath.Glob(filepath.Join(hci, "rfkill*"))
	for _, sw := range switches {
		for _, name := range []string{"soft", "hard"} {
			data, err := os.ReadFile(filepath.Join(sw, name))
			if err == nil && strings.TrimSpace(string(data)) == "1" {
				return true
			}
		}
	}
	return false
}
