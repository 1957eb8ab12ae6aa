// Package advertise finds the URL a node advertises to its peers.
package advertise

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"

	"github.com/hashicorp/go-multierror"
)

// DefaultInterfaces is a default list of common interfaces that are used for
// local network traffic for Unix-like platforms.
var DefaultInterfaces = []string{"eth0", "en0"}

// URL returns the http URL peers should use to reach a server listening on
// listenAddr. A listenAddr with an unspecified host (":5000", "0.0.0.0:5000")
// is resolved against the given interfaces with FirstAddress; a specific host
// is used as-is.
func URL(listenAddr string, interfaces []string) (string, error) {
	return advertiseURL(listenAddr, interfaces, getInterfaceAddresses, net.Interfaces)
}

func advertiseURL(listenAddr string, interfaces []string, getAddrs addressGetter, list interfaceLister) (string, error) {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "", fmt.Errorf("invalid listen address %q: %w", listenAddr, err)
	}

	if ip, err := netip.ParseAddr(host); host == "" || (err == nil && ip.IsUnspecified()) {
		host, err = firstAddress(interfaces, getAddrs, list)
		if err != nil {
			return "", err
		}
	}

	u := url.URL{Scheme: "http", Host: net.JoinHostPort(host, port)}
	return u.String(), nil
}

// FirstAddress returns the "best" IP address from the given interface names.
// "best" is defined as follow in decreasing order:
//   - IPv4 valid and not link-local unicast
//   - IPv6 valid and not link-local unicast
//   - IPv4 valid and link-local unicast
//   - IPv6 valid and link-local unicast
//
// Loopback addresses are never selected. If no interfaces are provided, all
// of the system's network interfaces are searched.
func FirstAddress(interfaces []string) (string, error) {
	return firstAddress(interfaces, getInterfaceAddresses, net.Interfaces)
}

// addressGetter resolves the addresses of an interface by name.
type addressGetter func(name string) ([]netip.Addr, error)

// interfaceLister matches the signature of net.Interfaces.
type interfaceLister func() ([]net.Interface, error)

func firstAddress(interfaces []string, getAddrs addressGetter, list interfaceLister) (string, error) {
	var (
		errs   *multierror.Error
		bestIP netip.Addr
	)

	if len(interfaces) == 0 {
		infs, err := list()
		if err != nil {
			return "", fmt.Errorf("failed to get interface list: %w", err)
		}
		interfaces = make([]string, len(infs))
		for i, v := range infs {
			interfaces[i] = v.Name
		}
	}

	for _, name := range interfaces {
		addrs, err := getAddrs(name)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("interface %q: %w", name, err))
			continue
		}

		candidate := bestAddr(addrs)
		if !candidate.IsValid() {
			continue
		}
		if candidate.Is4() && !candidate.IsLinkLocalUnicast() {
			return candidate.String(), nil
		}
		bestIP = bestAddr([]netip.Addr{candidate, bestIP})
	}

	if !bestIP.IsValid() {
		if err := errs.ErrorOrNil(); err != nil {
			return "", fmt.Errorf("no useable address found for interfaces %v: %w", interfaces, err)
		}
		return "", fmt.Errorf("no useable address found for interfaces %v", interfaces)
	}
	return bestIP.String(), nil
}

func getInterfaceAddresses(name string) ([]netip.Addr, error) {
	inf, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}

	addrs, err := inf.Addrs()
	if err != nil {
		return nil, err
	}

	res := make([]netip.Addr, len(addrs))
	for i, a := range addrs {
		prefix, err := netip.ParsePrefix(a.String())
		if err != nil {
			return nil, fmt.Errorf("failed to parse address %q: %w", a, err)
		}
		res[i] = prefix.Addr()
	}
	return res, nil
}

// bestAddr ranks addrs: non-link-local before link-local, then IPv4 before
// IPv6. Loopback and invalid addresses are ignored.
func bestAddr(addrs []netip.Addr) netip.Addr {
	var best netip.Addr
	for _, addr := range addrs {
		if !addr.IsValid() || addr.IsLoopback() {
			continue
		}
		if !best.IsValid() || rank(addr) < rank(best) {
			best = addr
		}
	}
	return best
}

func rank(addr netip.Addr) int {
	r := 0
	if addr.IsLinkLocalUnicast() {
		r += 2
	}
	if !addr.Is4() {
		r++
	}
	return r
}
