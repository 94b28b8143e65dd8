package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"devenv/internal/runtime"
	"devenv/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperProcess is not a real test. It stands in for a service binary.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	l, err := net.Listen("tcp", ":"+os.Getenv("PORT"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		l.Close()
	}()
	for {
		conn, err := l.Accept()
		if err != nil {
			os.Exit(0)
		}
		conn.Close()
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// writeProject writes a devenv.yaml into a fresh directory and isolates the
// user config from the real home directory.
func writeProject(t *testing.T, body string) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "devenv.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func serviceProject(port int) string {
	return fmt.Sprintf(`
project:
  name: shop
services:
  api:
    command: exec '%s' -test.run=TestHelperProcess
    port: %d
    env:
      GO_WANT_HELPER_PROCESS: "1"
settings:
  stop_grace: 2s
  ready_timeout: 10s
`, os.Args[0], port)
}

func testConfig(mode Mode, path string) *Config {
	cfg := NewConfig(mode, path, false, false)
	cfg.LogOutput = io.Discard
	return cfg
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig(ModeDown, "/tmp/devenv.yaml", true, true)
	assert.Equal(t, ModeDown, cfg.Mode)
	assert.Equal(t, "/tmp/devenv.yaml", cfg.ConfigPath)
	assert.True(t, cfg.Debug)
	assert.True(t, cfg.KeepGoing)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, os.Stderr, cfg.LogOutput)
}

func TestLogFormat(t *testing.T) {
	assert.Equal(t, logging.FormatText, logFormat("", ""))
	assert.Equal(t, logging.FormatJSON, logFormat("", "json"))
	assert.Equal(t, logging.FormatText, logFormat("text", "json"))
}

func TestLoadProject_ExplicitPath(t *testing.T) {
	path := writeProject(t, serviceProject(8080))

	proj, err := LoadProject(path)
	require.NoError(t, err)
	assert.Equal(t, "shop", proj.Identity.Name)
	assert.Len(t, proj.Identity.ID, 12)
	assert.Equal(t, filepath.Join(proj.Identity.Dir, ".devenv"), proj.StateDir)
	assert.Contains(t, proj.String(), proj.Identity.ID)
}

func TestLoadProject_Missing(t *testing.T) {
	_, err := LoadProject(filepath.Join(t.TempDir(), "devenv.yaml"))
	require.Error(t, err)
}

func TestInitializeServices_ServicesOnlySkipsDocker(t *testing.T) {
	path := writeProject(t, serviceProject(8080))
	original := newDockerRuntime
	newDockerRuntime = func(ctx context.Context) (*runtime.Docker, error) {
		t.Fatal("docker must not be contacted without infra")
		return nil, nil
	}
	t.Cleanup(func() { newDockerRuntime = original })

	proj, err := LoadProject(path)
	require.NoError(t, err)
	svcs, err := InitializeServices(testConfig(ModeUp, path), proj, "run-1")
	require.NoError(t, err)
	defer svcs.Close()

	assert.Nil(t, svcs.Docker)
	assert.NotNil(t, svcs.Orchestrator)
	assert.Equal(t, 2*time.Second, svcs.StopGrace)
}

func TestInitializeServices_RuntimeUnavailable(t *testing.T) {
	path := writeProject(t, `
project:
  name: shop
infra:
  db:
    image: postgres:16
    ports: ["5432:5432"]
`)
	original := newDockerRuntime
	newDockerRuntime = func(ctx context.Context) (*runtime.Docker, error) {
		return nil, fmt.Errorf("ping: %w", runtime.ErrRuntimeUnavailable)
	}
	t.Cleanup(func() { newDockerRuntime = original })

	proj, err := LoadProject(path)
	require.NoError(t, err)
	_, err = InitializeServices(testConfig(ModeUp, path), proj, "run-1")
	require.ErrorIs(t, err, runtime.ErrRuntimeUnavailable)
}

func TestInitializeServices_RuntimeUnavailableWithoutKeepGoingInDownMode(t *testing.T) {
	path := writeProject(t, serviceProject(8080)+dbInfra)
	original := newDockerRuntime
	newDockerRuntime = func(ctx context.Context) (*runtime.Docker, error) {
		return nil, fmt.Errorf("ping: %w", runtime.ErrRuntimeUnavailable)
	}
	t.Cleanup(func() { newDockerRuntime = original })

	proj, err := LoadProject(path)
	require.NoError(t, err)
	cfg := testConfig(ModeDown, path)
	cfg.KeepGoing = true
	_, err = InitializeServices(cfg, proj, "run-1")
	require.ErrorIs(t, err, runtime.ErrRuntimeUnavailable)
}

const dbInfra = `infra:
  db:
    image: postgres:16
`

func TestApplication_KeepGoingRunsServicesWithoutRuntime(t *testing.T) {
	port := freePort(t)
	path := writeProject(t, serviceProject(port)+dbInfra)
	original := newDockerRuntime
	newDockerRuntime = func(ctx context.Context) (*runtime.Docker, error) {
		return nil, fmt.Errorf("ping: %w", runtime.ErrRuntimeUnavailable)
	}
	t.Cleanup(func() { newDockerRuntime = original })

	cfg := testConfig(ModeUp, path)
	cfg.KeepGoing = true
	application, err := NewApplication(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 10*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		return errors.Is(application.services.Orchestrator.Failures()["infra/db"], runtime.ErrRuntimeUnavailable)
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestApplication_UpRunsUntilCancelled(t *testing.T) {
	port := freePort(t)
	path := writeProject(t, serviceProject(port))
	cfg := testConfig(ModeUp, path)
	cfg.MetricsAddr = fmt.Sprintf("127.0.0.1:%d", freePort(t))

	application, err := NewApplication(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 10*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.MetricsAddr + "/metrics")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancellation")
	}

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err == nil {
		conn.Close()
		t.Fatal("service still accepting connections after shutdown")
	}
}

func TestApplication_DownWithoutInfra(t *testing.T) {
	path := writeProject(t, serviceProject(8080))

	application, err := NewApplication(testConfig(ModeDown, path))
	require.NoError(t, err)
	require.NoError(t, application.Run(context.Background()))
}

func TestNewApplication_LogLevel(t *testing.T) {
	path := writeProject(t, serviceProject(8080))

	var info bytes.Buffer
	cfg := testConfig(ModeDown, path)
	cfg.LogOutput = &info
	application, err := NewApplication(cfg)
	require.NoError(t, err)
	require.NoError(t, application.Run(context.Background()))
	assert.Contains(t, info.String(), "Removed project containers and network")

	var warn bytes.Buffer
	cfg = testConfig(ModeDown, path)
	cfg.LogOutput = &warn
	cfg.LogLevel = "warn"
	application, err = NewApplication(cfg)
	require.NoError(t, err)
	require.NoError(t, application.Run(context.Background()))
	assert.NotContains(t, warn.String(), "Removed project containers and network")
}

func TestNewApplication_UnknownLogLevel(t *testing.T) {
	cfg := testConfig(ModeDown, writeProject(t, serviceProject(8080)))
	cfg.LogLevel = "loud"

	_, err := NewApplication(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown log level "loud"`)
}
