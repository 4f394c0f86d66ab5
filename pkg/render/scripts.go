package render

import (
	"fmt"
	"regexp"
	"strings"
)

// SubmitScriptName and WrapperScriptName are the file names written into
// every job directory.
const (
	SubmitScriptName  = "submit_script.sh"
	WrapperScriptName = "wrapper.sh"
)

// Arg is one KEY=VALUE argument passed from the submit script to the wrapper.
type Arg struct {
	Name  string
	Value string
}

// SubmitParams fills the SLURM submit script.
type SubmitParams struct {
	JobID             string
	Desc              string
	JobDir            string
	Queue             string
	NodeCount         int
	ProcessorsPerNode int
	MaxRunTime        string
	Email             string
	Allocation        string
	Args              []Arg
}

// WrapperParams fills the wrapper script. ArgNames lists every argument the
// wrapper accepts besides NP; Body is the application's entry point.
type WrapperParams struct {
	ArgNames []string
	Body     string
}

const submitTemplate = `#!/bin/bash
#----------------------------------------------------
# {{.JobID}}
# {{.Desc}}
#----------------------------------------------------

#SBATCH -J {{.JobID}}
#SBATCH -o {{.JobID}}.o%j
#SBATCH -e {{.JobID}}.e%j
#SBATCH -p {{.Queue}}
#SBATCH -N {{.NodeCount}}
#SBATCH -n {{.ProcessorsPerNode}}
#SBATCH -t {{.MaxRunTime}}
{{- if .Email}}
#SBATCH --mail-user={{.Email}}
#SBATCH --mail-type=all
{{- end}}
{{- if .Allocation}}
#SBATCH -A {{.Allocation}}
{{- end}}

cd {{quote .JobDir}}

{{quote .JobDir}}/` + WrapperScriptName + `{{range .Args}} {{quote (printf "%s=%s" .Name .Value)}}{{end}}
`

const wrapperHeader = `#!/bin/bash

# Create start ts file
touch start_$(date +"%FT%H%M%S")

# Parse arguments passed
for ARGUMENT in "$@"
do
    KEY=$(echo "$ARGUMENT" | cut -f1 -d=)
    VALUE=$(echo "$ARGUMENT" | cut -f2- -d=)

    case "$KEY" in
        NP)           NP=${VALUE} ;;
{{- range .ArgNames}}
        {{.}})           {{.}}=${VALUE} ;;
{{- end}}
        *)
    esac
done

`

const wrapperFooter = `

# Create end ts file
touch end_$(date +"%FT%H%M%S")
`

var argNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidArgName reports whether name can be used as a wrapper argument, i.e.
// as a shell variable name. NP is reserved.
func ValidArgName(name string) bool {
	return name != "NP" && argNameRE.MatchString(name)
}

// SubmitScript renders the SLURM batch script for a job.
func SubmitScript(p SubmitParams) (string, error) {
	for _, a := range p.Args {
		if a.Name != "NP" && !ValidArgName(a.Name) {
			return "", fmt.Errorf("invalid argument name %q", a.Name)
		}
	}
	for _, field := range []string{p.JobID, p.Queue, p.MaxRunTime, p.Email, p.Allocation} {
		if strings.ContainsAny(field, "\n\r") {
			return "", fmt.Errorf("submit script field %q contains a newline", field)
		}
	}
	p.Desc = strings.Join(strings.Fields(p.Desc), " ")
	return renderNamed(SubmitScriptName, submitTemplate, p)
}

// WrapperScript renders the wrapper around an application's entry point. It
// records start_/end_ timestamp markers in the working directory and turns
// KEY=VALUE arguments into shell variables.
func WrapperScript(p WrapperParams) (string, error) {
	for _, n := range p.ArgNames {
		if !ValidArgName(n) {
			return "", fmt.Errorf("invalid argument name %q", n)
		}
	}
	head, err := renderNamed(WrapperScriptName, wrapperHeader, p)
	if err != nil {
		return "", err
	}
	// The body is the application's own script and is not a template.
	return head + strings.TrimRight(p.Body, "\n") + wrapperFooter, nil
}
