// Package ports assigns TCP ports to services and detects collisions before
// anything is spawned.
//
// Availability is proven with a bind-then-release check, not a held lock: a
// different process can still take the port between that check and the
// service's own bind. That window is accepted; the supervisor reports a bind
// failure at that point with the same CollisionError.
package ports

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"syscall"

	"devenv/pkg/logging"
)

// Assignment is the outcome of resolving one service's port.
type Assignment struct {
	Port uint16
	Auto bool
}

// Allocator hands out ports for a single run. Each port is claimed at most
// once per run.
type Allocator struct {
	mu      sync.Mutex
	host    string
	claimed map[uint16]string // port -> service

	listen func(network, address string) (net.Listener, error)
}

// NewAllocator creates an allocator probing on all interfaces.
func NewAllocator() *Allocator {
	return &Allocator{
		claimed: make(map[uint16]string),
		listen:  net.Listen,
	}
}

// CheckDeclared rejects configurations in which two services request the
// same explicit port, before any bind or spawn happens.
func (a *Allocator) CheckDeclared(requested map[string]uint16) error {
	byPort := make(map[uint16][]string)
	for service, port := range requested {
		if port == 0 {
			continue
		}
		byPort[port] = append(byPort[port], service)
	}

	var errs []error
	for port, services := range byPort {
		if len(services) < 2 {
			continue
		}
		sort.Strings(services)
		errs = append(errs, &CollisionError{
			Port:    port,
			Service: services[1],
			Holder:  "service " + services[0],
		})
	}
	sort.Slice(errs, func(i, j int) bool {
		return errs[i].(*CollisionError).Port < errs[j].(*CollisionError).Port
	})
	return errors.Join(errs...)
}

// Resolve assigns a port to service. A non-zero requested port must bind once
// before it is claimed; zero selects a free ephemeral port.
func (a *Allocator) Resolve(service string, requested uint16) (Assignment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if requested != 0 {
		if holder, taken := a.claimed[requested]; taken && holder != service {
			return Assignment{}, &CollisionError{Port: requested, Service: service, Holder: "service " + holder}
		}
		if err := a.tryBind(requested); err != nil {
			if IsAddrInUse(err) {
				return Assignment{}, &CollisionError{Port: requested, Service: service, Err: err}
			}
			return Assignment{}, fmt.Errorf("failed to check port %d for %s: %w", requested, service, err)
		}
		a.claimed[requested] = service
		logging.Debug("Ports", "Port %d available for %s", requested, service)
		return Assignment{Port: requested}, nil
	}

	// Retry a few times in case the kernel hands back a port we already gave out.
	for attempt := 0; attempt < 10; attempt++ {
		port, err := a.pickFree()
		if err != nil {
			return Assignment{}, fmt.Errorf("failed to find a free port for %s: %w", service, err)
		}
		if _, taken := a.claimed[port]; taken {
			continue
		}
		a.claimed[port] = service
		logging.Debug("Ports", "Auto-selected port %d for %s", port, service)
		return Assignment{Port: port, Auto: true}, nil
	}
	return Assignment{}, fmt.Errorf("failed to find an unclaimed port for %s", service)
}

// Release drops a claim, e.g. when a service failed to start.
func (a *Allocator) Release(port uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.claimed, port)
}

// Claimed returns the current claims, port -> service.
func (a *Allocator) Claimed() map[uint16]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[uint16]string, len(a.claimed))
	for port, svc := range a.claimed {
		out[port] = svc
	}
	return out
}

func (a *Allocator) tryBind(port uint16) error {
	l, err := a.listen("tcp", net.JoinHostPort(a.host, strconv.Itoa(int(port))))
	if err != nil {
		return err
	}
	return l.Close()
}

func (a *Allocator) pickFree() (uint16, error) {
	l, err := a.listen("tcp", net.JoinHostPort(a.host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address %v", l.Addr())
	}
	return uint16(addr.Port), nil
}

// IsAddrInUse reports whether err is an "address already in use" bind failure.
func IsAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
