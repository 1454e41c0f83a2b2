package ports

import (
	"fmt"
	"net"
	"strconv"

	"github.com/cuemby/holonode/pkg/types"
)

// DefaultHost is the address probed when none is given
const DefaultHost = "127.0.0.1"

// Range is an inclusive port range. Min > Max denotes an empty range.
type Range struct {
	Min uint16 `yaml:"min"`
	Max uint16 `yaml:"max"`
}

// DefaultRange is the admin port range used when the caller has no preference
var DefaultRange = Range{Min: 55000, Max: 56000}

// Empty reports whether the range contains no ports
func (r Range) Empty() bool {
	return r.Min > r.Max || r.Min == 0 && r.Max == 0
}

// Size returns the number of ports in the range
func (r Range) Size() int {
	if r.Empty() {
		return 0
	}
	return int(r.Max) - int(r.Min) + 1
}

func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

// Allocator finds free local TCP ports by bind-and-release probing.
// The returned port is a hint, not a reservation.
type Allocator struct {
	// listen is swapped in tests to simulate busy ports
	listen func(network, address string) (net.Listener, error)
}

// NewAllocator creates a new port allocator
func NewAllocator() *Allocator {
	return &Allocator{listen: net.Listen}
}

// Find returns the first port in r that host can bind.
// It scans the range once and fails with ResourceExhausted if nothing binds.
func (a *Allocator) Find(host string, r Range) (uint16, error) {
	if host == "" {
		host = DefaultHost
	}
	if r.Empty() {
		return 0, types.Errorf(types.KindResourceExhausted, "find port", "empty port range %s", r)
	}

	// uint32 avoids wrapping when Max is 65535
	for p := uint32(r.Min); p <= uint32(r.Max); p++ {
		if p == 0 {
			continue
		}
		if a.probe(host, uint16(p)) {
			return uint16(p), nil
		}
	}

	return 0, types.Errorf(types.KindResourceExhausted, "find port",
		"no free port on %s in range %s", host, r)
}

func (a *Allocator) probe(host string, port uint16) bool {
	l, err := a.listen("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}
