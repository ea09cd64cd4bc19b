// Package netiface enumerates local network interfaces. It is a pure
// snapshot: no change notifications.
package netiface

import "net"

// Interface describes one local network interface's addressing: name,
// primary IPv4 address (if any), and link-layer address (if any).
type Interface struct {
	Name   string
	IPv4   net.IP
	HWAddr net.HardwareAddr
}

// List returns every local interface that carries an IPv4 address.
// Interfaces without one are filtered from the result.
func List() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []Interface
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		var ipv4 net.IP
		for _, a := range addrs {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if v4 := ip.To4(); v4 != nil {
				ipv4 = v4
				break
			}
		}
		if ipv4 == nil {
			continue
		}

		out = append(out, Interface{
			Name:   iface.Name,
			IPv4:   ipv4,
			HWAddr: iface.HardwareAddr,
		})
	}
	return out, nil
}

// ByName returns a single interface's snapshot, or an error if it has no
// IPv4 address or doesn't exist.
func ByName(name string) (Interface, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return Interface{}, err
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return Interface{}, err
	}
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if v4 := ip.To4(); v4 != nil {
			return Interface{Name: iface.Name, IPv4: v4, HWAddr: iface.HardwareAddr}, nil
		}
	}
	return Interface{}, &net.AddrError{Err: "no IPv4 address", Addr: name}
}
