package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Function names a remote operation the bridge knows how to run.
type Function string

const (
	FuncHello    Function = "hello"
	FuncSSHTest  Function = "ssh_test"
	FuncOSSetup  Function = "os_setup"
	FuncRepoNew  Function = "repo_new"
	FuncRepoRm   Function = "repo_rm"
	FuncRepoPush Function = "repo_push"
	FuncRepoPull Function = "repo_pull"
	FuncRepoUp   Function = "repo_up"
	FuncRepoDown Function = "repo_down"
)

type FunctionSpec struct {
	Name        Function `json:"name"`
	Description string   `json:"description"`
	Required    []string `json:"required"`
	Optional    []string `json:"optional,omitempty"`
}

var functions = map[Function]FunctionSpec{
	FuncHello: {
		Name:        FuncHello,
		Description: "Liveness probe answered by the machine through its bridge",
	},
	FuncSSHTest: {
		Name:        FuncSSHTest,
		Description: "Verify the bridge can reach a host over SSH",
		Required:    []string{"host", "user"},
		Optional:    []string{"password", "port"},
	},
	FuncOSSetup: {
		Name:        FuncOSSetup,
		Description: "Prepare a machine's operating system and datastore",
		Required:    []string{"datastore_size"},
	},
	FuncRepoNew: {
		Name:        FuncRepoNew,
		Description: "Create a repository on a machine",
		Required:    []string{"repo", "size"},
		Optional:    []string{"parent", "vault"},
	},
	FuncRepoRm: {
		Name:        FuncRepoRm,
		Description: "Remove a repository from a machine",
		Required:    []string{"repo"},
	},
	FuncRepoPush: {
		Name:        FuncRepoPush,
		Description: "Push a repository to another machine or storage",
		Required:    []string{"repo", "dest_type", "dest_repo", "destination"},
		Optional:    []string{"source_path", "dest_team"},
	},
	FuncRepoPull: {
		Name:        FuncRepoPull,
		Description: "Pull a repository from another machine",
		Required:    []string{"repo", "source_machine"},
		Optional:    []string{"source_path"},
	},
	FuncRepoUp: {
		Name:        FuncRepoUp,
		Description: "Start the services of a repository",
		Required:    []string{"repo"},
	},
	FuncRepoDown: {
		Name:        FuncRepoDown,
		Description: "Stop the services of a repository",
		Required:    []string{"repo"},
	},
}

func ParseFunction(s string) (Function, error) {
	f := Function(strings.TrimSpace(s))
	if _, ok := functions[f]; !ok {
		return "", &ValidationError{Field: "function", Message: fmt.Sprintf("unknown function %q", s)}
	}
	return f, nil
}

// Spec returns the parameter table of a known function.
func (f Function) Spec() (FunctionSpec, bool) {
	spec, ok := functions[f]
	return spec, ok
}

// ValidatePayload checks that every required parameter is present and non-empty.
func (f Function) ValidatePayload(p Payload) error {
	spec, ok := functions[f]
	if !ok {
		return &ValidationError{Field: "function", Message: fmt.Sprintf("unknown function %q", f)}
	}
	var missing []string
	for _, key := range spec.Required {
		v, ok := p[key]
		if !ok || v == nil {
			missing = append(missing, key)
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{
			Field:   "payload",
			Message: fmt.Sprintf("%s requires %s", f, strings.Join(missing, ", ")),
		}
	}
	return nil
}

// Functions returns every known function sorted by name.
func Functions() []FunctionSpec {
	out := make([]FunctionSpec, 0, len(functions))
	for _, spec := range functions {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
