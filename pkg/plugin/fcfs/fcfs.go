// Package fcfs implements sched.fcfs, the default behavior plugin: a
// thin, in-order wrapper over pkg/resource's find/select/allocate/reserve
// primitives. First candidate found is taken, reservations only with
// plugin-opts=reserve=true, not out-of-order capable.
package fcfs

import (
	"strings"

	"github.com/cuemby/qsched/pkg/plugin"
	"github.com/cuemby/qsched/pkg/qerr"
	"github.com/cuemby/qsched/pkg/resource"
	"github.com/cuemby/qsched/pkg/types"
)

// Name is the plugin name the plugin= startup argument selects.
const Name = "sched.fcfs"

// Plugin is the default first-come-first-served behavior plugin.
type Plugin struct {
	// allowReservations, set via plugin-opts=reserve=true, enables the
	// reservation path for jobs that can't be fully satisfied now. Off by
	// default.
	allowReservations bool
}

// New constructs an unconfigured fcfs plugin.
func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) Name() string { return Name }

// ProcessArgs accepts a comma-separated key=value opts string. The only
// recognized key is "reserve" (true/false); anything else is an
// invalid-arg error, consistent with the startup-argument parser's
// unknown-key policy.
func (p *Plugin) ProcessArgs(opts string) error {
	opts = strings.TrimSpace(opts)
	if opts == "" {
		return nil
	}
	for _, kv := range strings.Split(opts, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return qerr.New(qerr.InvalidArg, "malformed plugin-opts entry: "+kv)
		}
		switch parts[0] {
		case "reserve":
			p.allowReservations = parts[1] == "true"
		default:
			return qerr.New(qerr.InvalidArg, "unknown fcfs plugin-opts key: "+parts[0])
		}
	}
	return nil
}

// GetSchedProperties reports fcfs as not out-of-order capable: it never
// needs the pass to release outstanding reservations up front.
func (p *Plugin) GetSchedProperties() plugin.Properties {
	return plugin.Properties{OutOfOrderCapable: false}
}

// SchedLoopSetup has nothing to prepare; fcfs is stateless across passes.
func (p *Plugin) SchedLoopSetup() error {
	return nil
}

func (p *Plugin) FindResources(root *resource.Node, req *resource.Request) (int, *resource.Node, error) {
	return resource.FindResources(root, req)
}

func (p *Plugin) SelectResources(candidates *resource.Node, req *resource.Request, prior *resource.Node) (*resource.Node, error) {
	return resource.SelectResources(candidates, req, prior)
}

func (p *Plugin) AllocateResources(selected *resource.Node, jobID int64, interval types.Interval) error {
	return resource.AllocateResources(selected, jobID, interval)
}

// ReserveResources refuses outright unless plugin-opts=reserve=true was
// configured, matching a plain FCFS policy's "take it now or wait for the
// next pass" behavior.
func (p *Plugin) ReserveResources(selected **resource.Node, jobID int64, start int64, walltime int64, root *resource.Node, req *resource.Request) error {
	if !p.allowReservations {
		return qerr.New(qerr.ResourceExhausted, "sched.fcfs does not reserve resources")
	}
	return resource.ReserveResources(selected, jobID, start, walltime, root, req)
}
