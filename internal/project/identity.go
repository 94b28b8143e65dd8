// Package project derives the identity that scopes on-disk state, container
// names, networks and labels to one project.
package project

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

const idLength = 12

// Label keys set on every container the engine creates.
const (
	LabelProject = "dev.devenv.project"
	LabelInfra   = "dev.devenv.infra"
	LabelRun     = "dev.devenv.run"
)

// Identity is the deterministic (name, id) pair for a project. It is recomputed
// on every run from the same inputs and never persisted.
type Identity struct {
	Name string
	ID   string
	Dir  string // canonical project directory
}

// Resolve computes the identity of the project rooted at projectDir. name is
// the human label from configuration; when empty the directory name is used.
func Resolve(name, projectDir string) (Identity, error) {
	canonical, err := canonicalDir(projectDir)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to resolve project directory %s: %w", projectDir, err)
	}

	if strings.TrimSpace(name) == "" {
		name = filepath.Base(canonical)
	}

	sum := sha256.Sum256([]byte(canonical))
	return Identity{
		Name: sanitize(name),
		ID:   hex.EncodeToString(sum[:])[:idLength],
		Dir:  canonical,
	}, nil
}

// NetworkName is the project-scoped Docker network every unit joins.
func (i Identity) NetworkName() string {
	return fmt.Sprintf("devenv-%s-%s", i.Name, i.ID)
}

// ContainerName is the name of the standalone container for an infra unit.
func (i Identity) ContainerName(infra string) string {
	return fmt.Sprintf("%s-%s-%s", i.Name, i.ID, sanitize(infra))
}

// ComposeProject is the compose project name used for an infra unit.
func (i Identity) ComposeProject(infra string) string {
	return i.ContainerName(infra)
}

// Labels returns the labels identifying a container as owned by this project.
func (i Identity) Labels(infra, runID string) map[string]string {
	labels := map[string]string{
		LabelProject: i.ID,
		LabelInfra:   infra,
	}
	if runID != "" {
		labels[LabelRun] = runID
	}
	return labels
}

func canonicalDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return filepath.Clean(resolved), nil
}

// sanitize lowercases and maps every rune outside [a-z0-9_-] to '-', which
// keeps the result valid for container, network and compose project names.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-_")
	if out == "" {
		return "project"
	}
	return out
}
