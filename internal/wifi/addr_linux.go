//go:build linux

package wifi

import (
	"context"

	"github.com/kstaniek/go-webterm/internal/logging"
	"github.com/vishvananda/netlink"
)

// watchAddrs reports new IPv4 addresses on any interface. Filtering by
// interface is left to the Link.
func watchAddrs(ctx context.Context, emit func(Event)) error {
	ch := make(chan netlink.AddrUpdate, 16)
	done := make(chan struct{})
	opts := netlink.AddrSubscribeOptions{
		ErrorCallback: func(err error) { logging.L().Warn("netlink_addr_error", "err", err) },
	}
	if err := netlink.AddrSubscribeWithOptions(ch, done, opts); err != nil {
		return err
	}
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-ch:
				if !ok {
					return
				}
				if !u.NewAddr || u.LinkAddress.IP.To4() == nil {
					continue
				}
				emit(Event{Kind: EventGotIP, Interface: linkName(u.LinkIndex), Addr: u.LinkAddress.IP.String()})
			}
		}
	}()
	return nil
}

func ifaceAddr(iface string) (string, bool) {
	l, err := netlink.LinkByName(iface)
	if err != nil {
		return "", false
	}
	addrs, err := netlink.AddrList(l, netlink.FAMILY_V4)
	if err != nil || len(addrs) == 0 {
		return "", false
	}
	return addrs[0].IP.String(), true
}

func linkName(index int) string {
	l, err := netlink.LinkByIndex(index)
	if err != nil {
		return ""
	}
	return l.Attrs().Name
}
