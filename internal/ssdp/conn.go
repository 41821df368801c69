package ssdp

import (
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/net/ipv4"
)

type udpConn interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	Close() error
}

// Replaced in tests.
var (
	listenUnicast   = openUnicast
	listenMulticast = openMulticast
)

// openUnicast binds an ephemeral port for sending M-SEARCH and receiving the
// unicast responses to it.
func openUnicast(ifi *net.Interface) (udpConn, error) {
	laddr := &net.UDPAddr{IP: net.IPv4zero, Port: 0}
	if ifi != nil {
		if ip := interfaceIPv4(ifi); ip != nil {
			laddr.IP = ip
		}
	}
	c, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, err
	}
	p := ipv4.NewPacketConn(c)
	if ifi != nil {
		if err := p.SetMulticastInterface(ifi); err != nil {
			slog.Debug("ssdp: set multicast interface", "iface", ifi.Name, "err", err)
		}
	}
	if err := p.SetMulticastTTL(2); err != nil {
		slog.Debug("ssdp: set multicast ttl", "err", err)
	}
	return c, nil
}

// openMulticast binds the SSDP port and joins the group. Without an explicit
// interface the group is joined on every multicast-capable interface.
func openMulticast(ifi *net.Interface) (udpConn, error) {
	c, err := net.ListenMulticastUDP("udp4", ifi, multicastAddr)
	if err != nil {
		return nil, err
	}
	p := ipv4.NewPacketConn(c)
	if ifi == nil {
		joined := joinAllInterfaces(p)
		slog.Debug("ssdp: joined multicast group", "group", multicastGroup, "interfaces", joined)
	}
	if err := p.SetMulticastLoopback(true); err != nil {
		slog.Debug("ssdp: set multicast loopback", "err", err)
	}
	return c, nil
}

func joinAllInterfaces(p *ipv4.PacketConn) int {
	ifaces, err := net.Interfaces()
	if err != nil {
		return 0
	}
	group := &net.UDPAddr{IP: multicastAddr.IP}
	joined := 0
	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 || interfaceIPv4(ifi) == nil {
			continue
		}
		// The default interface is already joined by ListenMulticastUDP and
		// reports EADDRINUSE here.
		if err := p.JoinGroup(ifi, group); err == nil {
			joined++
		}
	}
	return joined
}

func interfaceIPv4(ifi *net.Interface) net.IP {
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok {
			if ip4 := ipn.IP.To4(); ip4 != nil {
				return ip4
			}
		}
	}
	return nil
}

func lookupInterface(name string) (*net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("ssdp: interface %q: %w", name, err)
	}
	return ifi, nil
}
