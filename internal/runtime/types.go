// Package runtime is the container runtime collaborator: a thin wrapper over
// the Docker Engine API for standalone containers and networks, and over the
// docker compose CLI for compose sub-projects.
package runtime

// ContainerSpec describes a standalone container the engine owns.
type ContainerSpec struct {
	Name       string
	Image      string
	Cmd        []string
	Env        map[string]string
	Ports      []string // "host:container[/proto]"
	Volumes    []string // "source:target[:mode]"
	Labels     map[string]string
	Network    string
	Aliases    []string
	ExtraHosts []string // "name:ip" or "name:host-gateway"
}

// ExecResult is the outcome of running a command inside a container.
type ExecResult struct {
	ExitCode int
	Output   string
}

// ComposeProject identifies one compose sub-project.
type ComposeProject struct {
	Name     string   // compose project name (-p)
	File     string   // absolute path to the compose file (-f)
	Dir      string   // working directory for the compose CLI
	Services []string // optional subset of services
}

// ComposeService is a container produced by a compose sub-project.
type ComposeService struct {
	ID      string `json:"ID"`
	Name    string `json:"Name"`
	Service string `json:"Service"`
	State   string `json:"State"`
}
