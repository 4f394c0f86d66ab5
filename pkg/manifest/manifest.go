// Package manifest loads and validates the two user-authored files gosbatch
// consumes: job manifests (what to run) and app manifests (how an
// application is run).
//
// Both may be written as JSON or YAML and may use template variables from a
// project config file. After rendering, the document is converted to JSON and
// validated against an embedded JSON Schema that rejects unknown fields.
//
// Example job manifest (YAML):
//
//	name: "{{.job.name}}"
//	appId: sim-1.0
//	queue: development
//	nodeCount: 1
//	processorsPerNode: 4
//	maxRunTime: "00:10:00"
//	inputs:
//	  mesh: ./inputs/mesh.txt
//	parameters:
//	  steps: 100
package manifest

import (
	"fmt"
	"sort"
)

// JobManifest describes a job to set up. Zero resource fields fall back to
// the app's defaults.
type JobManifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty"`

	Name              string `json:"name"`
	AppID             string `json:"appId"`
	Desc              string `json:"desc,omitempty"`
	Queue             string `json:"queue,omitempty"`
	NodeCount         int    `json:"nodeCount,omitempty"`
	ProcessorsPerNode int    `json:"processorsPerNode,omitempty"`
	MaxRunTime        string `json:"maxRunTime,omitempty"`
	Email             string `json:"email,omitempty"`
	Allocation        string `json:"allocation,omitempty"`

	// Inputs maps argument names to local paths staged into the job directory.
	Inputs map[string]string `json:"inputs,omitempty"`

	// Parameters maps argument names to scalar values passed to the wrapper.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ArgSpec declares one input or parameter accepted by an application.
type ArgSpec struct {
	Name        string `json:"name"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
}

// AppManifest is the app.json stored with every deployed application.
type AppManifest struct {
	Schema string `json:"$schema,omitempty"`

	Name             string `json:"name"`
	ShortDescription string `json:"shortDescription,omitempty"`

	// TemplatePath is the wrapper body, relative to the deployed app directory.
	TemplatePath string `json:"templatePath"`

	DefaultQueue             string `json:"defaultQueue"`
	DefaultNodeCount         int    `json:"defaultNodeCount"`
	DefaultProcessorsPerNode int    `json:"defaultProcessorsPerNode"`
	DefaultMaxRunTime        string `json:"defaultMaxRunTime"`

	Inputs     []ArgSpec `json:"inputs,omitempty"`
	Parameters []ArgSpec `json:"parameters,omitempty"`
}

// InputNames returns the input argument names in sorted order.
func (m *JobManifest) InputNames() []string {
	return sortedKeys(m.Inputs)
}

// ParameterNames returns the parameter argument names in sorted order.
func (m *JobManifest) ParameterNames() []string {
	return sortedKeys(m.Parameters)
}

// ParameterString formats a parameter value for the wrapper command line.
func ParameterString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprint(x)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
