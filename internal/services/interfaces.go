package services

import "time"

// ServiceState is the lifecycle state of a supervised process.
type ServiceState string

const (
	StateWaiting  ServiceState = "Waiting"
	StateStarting ServiceState = "Starting"
	StateRunning  ServiceState = "Running"
	StateStopping ServiceState = "Stopping"
	StateStopped  ServiceState = "Stopped"
	StateFailed   ServiceState = "Failed"
)

// RuntimeRecord is the in-memory view of one service during a run. It is
// never persisted.
type RuntimeRecord struct {
	Name      string
	Port      uint16
	PortAuto  bool
	State     ServiceState
	PID       int
	StartedAt time.Time
	LastError error
}

// Spec is everything needed to spawn one service process.
type Spec struct {
	Name    string
	Command string            // run with sh -c
	Dir     string            // absolute working directory
	Env     map[string]string // merged over the current environment
	Port    uint16            // exported as PORT
	Project string            // exported as DEVENV_PROJECT
}
