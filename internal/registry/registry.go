// Package registry implements the named server registry: an
// immutable map from server name to a child-spawn descriptor, built
// once at startup from CLI flags or a JSON configuration file.
package registry

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"

	stderrors "github.com/stephanhaeuslschmid/mcp-proxy/internal/errors"
)

// namePattern is the URL-path segment validity rule for server names.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Entry is one named server: constructed once at
// startup, never mutated.
type Entry struct {
	Name        string
	Command     string
	Args        []string
	StaticEnv   map[string]string
	HeaderToEnv map[string]string // header name (case-insensitive) -> env var name
	Cwd         string
	Enabled     bool
}

// Registry is the process-wide, read-only-after-build map from name to
// Entry. It is safe for concurrent reads without locking once Build
// returns; it is read-only after startup, so no locking.
type Registry struct {
	entries map[string]Entry
}

// Lookup returns the entry for name and whether it exists and is
// enabled. A disabled or missing entry both report found=false,
// matching the HTTP front-end's "unknown or disabled -> 404" rule.
func (r *Registry) Lookup(name string) (Entry, bool) {
	e, ok := r.entries[name]
	if !ok || !e.Enabled {
		return Entry{}, false
	}
	return e, true
}

// Names returns every entry name, enabled or not, for the status
// endpoint to iterate.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// All returns the full entry map, enabled or not. Callers must treat
// it as read-only.
func (r *Registry) All() map[string]Entry {
	return r.entries
}

// FlagEntry is one `--named-server NAME CMDSTRING` occurrence, split on
// whitespace by the CLI layer into command + args before reaching here.
type FlagEntry struct {
	Name    string
	Command string
	Args    []string
}

// BuildFromFlags constructs a Registry from repeated --named-server
// flags. Every flag-sourced entry is enabled with no static env and no
// header mapping; those refinements are only available via the JSON
// config file. Flags are ignored once a config file is supplied, so
// this path never coexists with BuildFromConfig for the same process.
func BuildFromFlags(flags []FlagEntry) (*Registry, error) {
	entries := make(map[string]Entry, len(flags))
	for _, f := range flags {
		if !namePattern.MatchString(f.Name) {
			return nil, fmt.Errorf("registry: invalid server name %q: %w", f.Name, stderrors.ErrConfigInvalid)
		}
		if f.Command == "" {
			return nil, fmt.Errorf("registry: server %q: %w", f.Name, stderrors.ErrConfigInvalid)
		}
		entries[f.Name] = Entry{
			Name:    f.Name,
			Command: f.Command,
			Args:    f.Args,
			Enabled: true,
		}
	}
	return &Registry{entries: entries}, nil
}

// configFile is the top-level shape of the --named-server-config JSON
// document: `{"mcpServers": {name: serverConfig}}`.
type configFile struct {
	MCPServers map[string]serverConfig `json:"mcpServers"`
}

// serverConfig is one entry's JSON schema. timeout and transportType
// are accepted and ignored; they are not modeled here since nothing
// reads them.
type serverConfig struct {
	Command     string            `json:"command"`
	Args        []string          `json:"args"`
	Env         map[string]string `json:"env"`
	Enabled     *bool             `json:"enabled"`
	HeaderToEnv map[string]string `json:"headerToEnv"`
}

// BuildFromConfig parses the named-server configuration file from r and
// builds a Registry. A missing command on any entry fails the whole
// build with ConfigInvalid; startup errors abort the process.
func BuildFromConfig(r io.Reader) (*Registry, error) {
	var doc configFile
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("registry: decode config: %w: %w", err, stderrors.ErrConfigInvalid)
	}

	entries := make(map[string]Entry, len(doc.MCPServers))
	for name, sc := range doc.MCPServers {
		if !namePattern.MatchString(name) {
			return nil, fmt.Errorf("registry: invalid server name %q: %w", name, stderrors.ErrConfigInvalid)
		}
		if sc.Command == "" {
			return nil, fmt.Errorf("registry: server %q missing command: %w", name, stderrors.ErrConfigInvalid)
		}
		enabled := true
		if sc.Enabled != nil {
			enabled = *sc.Enabled
		}
		entries[name] = Entry{
			Name:        name,
			Command:     sc.Command,
			Args:        sc.Args,
			StaticEnv:   sc.Env,
			HeaderToEnv: sc.HeaderToEnv,
			Enabled:     enabled,
		}
	}
	return &Registry{entries: entries}, nil
}
