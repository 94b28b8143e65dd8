// Package services supervises the native processes of a project.
//
// Each service runs as `sh -c <command>` in its own process group, with PORT
// set to the port the allocator resolved for it and DEVENV_PROJECT set to the
// project name. Output lines are forwarded to the logger under the subsystem
// "svc-<name>" and the most recent lines are kept for error reports.
//
// A service is ready once a TCP connection to its port succeeds. A process
// that exits before that is a start failure; when its output says the address
// is already in use the failure is reported as a *ports.CollisionError.
//
// Stopping sends SIGINT to the whole group, waits for the grace period and
// then sends SIGKILL.
package services
