package advertise

import (
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func mockAddressGetter(data map[string][]string) addressGetter {
	return func(name string) ([]netip.Addr, error) {
		addrs, found := data[name]
		if !found {
			return nil, errors.New("interface not found")
		}
		res := make([]netip.Addr, 0, len(addrs))
		for _, a := range addrs {
			prefix, _ := netip.ParsePrefix(a)
			res = append(res, prefix.Addr())
		}
		return res, nil
	}
}

func mockInterfaceLister() ([]net.Interface, error) {
	return []net.Interface{{Name: "eth0"}, {Name: "eth1"}, {Name: "eth2"}, {Name: "lo"}}, nil
}

func TestFirstAddress(t *testing.T) {
	tt := []struct {
		name          string
		interfaceData map[string][]string
		interfaces    []string
		expect        string
		expectError   string
	}{
		{
			name:          "prefers IPv4",
			interfaceData: map[string][]string{"eth0": {"::2/128"}, "eth1": {"192.168.1.1/24"}},
			interfaces:    []string{"eth0", "eth1"},
			expect:        "192.168.1.1",
		},
		{
			name:          "falls back to IPv6",
			interfaceData: map[string][]string{"eth0": {"::2/128"}},
			interfaces:    []string{"eth0"},
			expect:        "::2",
		},
		{
			name:          "ignores loopback",
			interfaceData: map[string][]string{"eth0": {"127.0.0.1/8", "10.0.0.1/8"}},
			interfaces:    []string{"eth0"},
			expect:        "10.0.0.1",
		},
		{
			name:          "link-local IPv6 beats nothing but loses to global IPv6",
			interfaceData: map[string][]string{"eth0": {"fe80::1/64", "::2/128"}},
			interfaces:    []string{"eth0"},
			expect:        "::2",
		},
		{
			name:          "global IPv6 beats link-local IPv4",
			interfaceData: map[string][]string{"eth0": {"169.254.0.1/16"}, "eth1": {"::2/128"}},
			interfaces:    []string{"eth0", "eth1"},
			expect:        "::2",
		},
		{
			name:          "link-local when nothing else",
			interfaceData: map[string][]string{"eth0": {"169.254.0.1/16"}},
			interfaces:    []string{"eth0"},
			expect:        "169.254.0.1",
		},
		{
			name:          "lists all interfaces",
			interfaceData: map[string][]string{"eth2": {"10.0.0.2/24"}, "lo": {"127.0.0.1/8"}},
			expect:        "10.0.0.2",
		},
		{
			name:          "empty interfaces",
			interfaceData: map[string][]string{"eth0": {}},
			interfaces:    []string{"eth0"},
			expectError:   "no useable address found for interfaces [eth0]",
		},
		{
			name:          "unknown interface",
			interfaceData: map[string][]string{},
			interfaces:    []string{"invalid"},
			expectError:   "no useable address found for interfaces [invalid]: 1 error occurred:\n\t* interface \"invalid\": interface not found\n\n",
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			res, err := firstAddress(tc.interfaces, mockAddressGetter(tc.interfaceData), mockInterfaceLister)
			if tc.expectError != "" {
				require.EqualError(t, err, tc.expectError)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expect, res)
		})
	}
}

func TestURL(t *testing.T) {
	getter := mockAddressGetter(map[string][]string{"eth0": {"10.0.0.5/24"}})

	tt := []struct {
		listen string
		expect string
	}{
		{listen: "127.0.0.1:5000", expect: "http://127.0.0.1:5000"},
		{listen: "localhost:5001", expect: "http://localhost:5001"},
		{listen: ":5002", expect: "http://10.0.0.5:5002"},
		{listen: "0.0.0.0:5003", expect: "http://10.0.0.5:5003"},
		{listen: "[::]:5004", expect: "http://10.0.0.5:5004"},
	}

	for _, tc := range tt {
		t.Run(tc.listen, func(t *testing.T) {
			res, err := advertiseURL(tc.listen, []string{"eth0"}, getter, mockInterfaceLister)
			require.NoError(t, err)
			require.Equal(t, tc.expect, res)
		})
	}

	_, err := advertiseURL("no-port", nil, getter, mockInterfaceLister)
	require.Error(t, err)
}
