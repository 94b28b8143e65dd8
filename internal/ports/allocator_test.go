package ports

import (
	"errors"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenEphemeral(t *testing.T) (net.Listener, uint16) {
	t.Helper()
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, uint16(l.Addr().(*net.TCPAddr).Port)
}

func TestResolve_ExplicitFreePort(t *testing.T) {
	l, port := listenEphemeral(t)
	require.NoError(t, l.Close())

	a := NewAllocator()
	got, err := a.Resolve("api", port)
	require.NoError(t, err)
	assert.Equal(t, Assignment{Port: port, Auto: false}, got)
	assert.Equal(t, map[uint16]string{port: "api"}, a.Claimed())
}

func TestResolve_ExplicitPortAlreadyBound(t *testing.T) {
	_, port := listenEphemeral(t)

	_, err := NewAllocator().Resolve("api", port)
	var collision *CollisionError
	require.ErrorAs(t, err, &collision)
	assert.Equal(t, port, collision.Port)
	assert.Equal(t, "api", collision.Service)
	assert.True(t, IsAddrInUse(err))
	assert.Contains(t, err.Error(), "api")
	assert.Contains(t, err.Error(), "already in use")
}

func TestResolve_AutoPort(t *testing.T) {
	a := NewAllocator()
	first, err := a.Resolve("web", 0)
	require.NoError(t, err)
	second, err := a.Resolve("worker", 0)
	require.NoError(t, err)

	assert.True(t, first.Auto)
	assert.True(t, second.Auto)
	assert.NotZero(t, first.Port)
	assert.NotEqual(t, first.Port, second.Port)
}

func TestResolve_PortClaimedByAnotherServiceInRun(t *testing.T) {
	l, port := listenEphemeral(t)
	require.NoError(t, l.Close())

	a := NewAllocator()
	_, err := a.Resolve("api", port)
	require.NoError(t, err)

	_, err = a.Resolve("admin", port)
	var collision *CollisionError
	require.ErrorAs(t, err, &collision)
	assert.Equal(t, "service api", collision.Holder)
}

func TestResolve_AutoSkipsClaimedPorts(t *testing.T) {
	l, port := listenEphemeral(t)
	require.NoError(t, l.Close())

	calls := 0
	a := NewAllocator()
	a.claimed[port] = "api"
	a.listen = func(network, address string) (net.Listener, error) {
		calls++
		if calls == 1 {
			// Hand back the already claimed port first.
			return &fakeListener{port: int(port)}, nil
		}
		return net.Listen(network, address)
	}

	got, err := a.Resolve("worker", 0)
	require.NoError(t, err)
	assert.NotEqual(t, port, got.Port)
	assert.Equal(t, 2, calls)
}

func TestResolve_AutoListenFailure(t *testing.T) {
	a := NewAllocator()
	a.listen = func(network, address string) (net.Listener, error) {
		return nil, errors.New("no sockets left")
	}
	_, err := a.Resolve("worker", 0)
	assert.ErrorContains(t, err, "no sockets left")
}

func TestResolve_ExplicitBindFailureIsNotCollision(t *testing.T) {
	a := NewAllocator()
	a.listen = func(network, address string) (net.Listener, error) {
		return nil, &net.OpError{Op: "listen", Net: network, Err: os.NewSyscallError("bind", syscall.EACCES)}
	}

	_, err := a.Resolve("api", 80)
	require.Error(t, err)
	var collision *CollisionError
	assert.NotErrorAs(t, err, &collision)
	assert.ErrorIs(t, err, syscall.EACCES)
	assert.Contains(t, err.Error(), "failed to check port 80 for api")
	assert.NotContains(t, err.Error(), "already in use")
	assert.Empty(t, a.Claimed())
}

func TestResolve_ExplicitAddrInUseIsCollision(t *testing.T) {
	a := NewAllocator()
	a.listen = func(network, address string) (net.Listener, error) {
		return nil, &net.OpError{Op: "listen", Net: network, Err: os.NewSyscallError("bind", syscall.EADDRINUSE)}
	}

	_, err := a.Resolve("api", 8080)
	var collision *CollisionError
	require.ErrorAs(t, err, &collision)
	assert.Equal(t, uint16(8080), collision.Port)
}

func TestRelease(t *testing.T) {
	a := NewAllocator()
	got, err := a.Resolve("web", 0)
	require.NoError(t, err)

	a.Release(got.Port)
	assert.Empty(t, a.Claimed())
}

func TestCheckDeclared(t *testing.T) {
	a := NewAllocator()
	assert.NoError(t, a.CheckDeclared(map[string]uint16{"api": 8080, "web": 3000, "worker": 0, "cron": 0}))

	err := a.CheckDeclared(map[string]uint16{"api": 8080, "admin": 8080, "web": 3000})
	var collision *CollisionError
	require.ErrorAs(t, err, &collision)
	assert.Equal(t, uint16(8080), collision.Port)
	assert.Equal(t, "api", collision.Service)
	assert.Equal(t, "service admin", collision.Holder)
}

type fakeListener struct{ port int }

func (f *fakeListener) Accept() (net.Conn, error) { return nil, errors.New("not implemented") }
func (f *fakeListener) Close() error              { return nil }
func (f *fakeListener) Addr() net.Addr            { return &net.TCPAddr{Port: f.port} }
