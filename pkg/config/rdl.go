package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/qsched/pkg/qerr"
)

// RDL is the resource-definition document the rdl-conf= startup argument
// points at: the physical inventory the scheduler owns, one entry per
// compute node.
type RDL struct {
	Cluster string    `yaml:"cluster"`
	Nodes   []RDLNode `yaml:"nodes"`
}

// RDLNode describes one compute node: its core and GPU counts, the
// topology digest the discovery service signed for it, and the cluster
// rank that digest resolves to.
type RDLNode struct {
	Hostname string `yaml:"hostname"`
	Digest   string `yaml:"digest"`
	Rank     int    `yaml:"rank"`
	Cores    int    `yaml:"cores"`
	GPUs     int    `yaml:"gpus"`
}

// LoadRDL reads and validates the resource-definition document at path.
func LoadRDL(path string) (*RDL, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, qerr.Wrap(qerr.IOFailure, "failed to read resource definition", err)
	}
	var rdl RDL
	if err := yaml.Unmarshal(data, &rdl); err != nil {
		return nil, qerr.Wrap(qerr.InvalidArg, "malformed resource definition", err)
	}

	var problems []string
	seen := make(map[string]bool)
	for i, n := range rdl.Nodes {
		if n.Hostname == "" {
			problems = append(problems, fmt.Sprintf("nodes[%d]: missing hostname", i))
			continue
		}
		if seen[n.Hostname] {
			problems = append(problems, fmt.Sprintf("nodes[%d]: duplicate hostname %q", i, n.Hostname))
		}
		seen[n.Hostname] = true
		if n.Cores <= 0 {
			problems = append(problems, fmt.Sprintf("nodes[%d] (%s): cores must be positive", i, n.Hostname))
		}
		if n.GPUs < 0 {
			problems = append(problems, fmt.Sprintf("nodes[%d] (%s): gpus must not be negative", i, n.Hostname))
		}
	}
	if len(rdl.Nodes) == 0 {
		problems = append(problems, "resource definition lists no nodes")
	}
	if len(problems) > 0 {
		return nil, qerr.New(qerr.InvalidArg, strings.Join(problems, "; "))
	}
	return &rdl, nil
}
