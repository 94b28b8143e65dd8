// Package orchestrator runs one project: it launches every infra unit and
// service concurrently and coordinates their shutdown.
//
// # Units
//
// Two kinds of unit exist. Infra units (standalone containers and compose
// sub-projects) are driven through the InfraUnit interface, implemented by
// infra.Unit. Services are native processes supervised through the
// ServiceRunner interface, implemented by services.Supervisor.
//
// # Ordering
//
// All units start at once. A service may list infra units in depends_on; it
// then waits until each of them is running and fails with a
// *DependencyError when one of them fails. Ordering between infra units is
// not supported: an infra unit that needs another one must tolerate it
// coming up later, typically through its ready command.
//
// # Failure policy
//
// By default the first unit that fails to start cancels every other launch,
// the units that already started are stopped again and Start returns all
// root-cause failures joined. With Config.KeepGoing the failed units (and
// their dependants) are reported and everything else keeps running.
//
// # Shutdown
//
// A single context cancellation is the shutdown signal. Shutdown cancels it,
// stops services (SIGINT, grace period, SIGKILL) in parallel with stopping
// infra, and waits for every task. Persisted init state is never modified on
// shutdown.
package orchestrator
