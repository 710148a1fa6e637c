// Package config parses qsched's two key=value surfaces into typed records:
// the positional startup arguments and the sched.params.set wire format.
// Both collect every malformed entry in one pass instead of failing on the
// first, so an operator sees the full list of problems at once.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/qsched/pkg/qerr"
	"github.com/cuemby/qsched/pkg/types"
)

// Args is the parsed startup configuration.
type Args struct {
	RDLConf        string
	RDLResource    string
	Plugin         string
	PluginOpts     string
	PriorityPlugin string
	SchedParams    types.SchedulingParams
	Reap           bool
	NodeExclusive  bool
	SchedOnce      bool
	FailOnError    bool
	InSim          bool
	Verbosity      int
}

// DefaultPlugin is used when no plugin= argument is given.
const DefaultPlugin = "sched.fcfs"

const (
	keyRDLConf        = "rdl-conf"
	keyRDLResource    = "rdl-resource"
	keyPlugin         = "plugin"
	keyPluginOpts     = "plugin-opts"
	keyPriorityPlugin = "priority-plugin"
	keySchedParams    = "sched-params"
	keyReap           = "reap"
	keyNodeExcl       = "node-excl"
	keySchedOnce      = "sched-once"
	keyFailOnError    = "fail-on-error"
	keyInSim          = "in-sim"
	keyVerbosity      = "verbosity"
)

// ParseArgs parses the positional key=value startup arguments. Unknown
// keys are fatal; ParseArgs collects every problem it finds (unknown keys,
// malformed bool/int values) rather than stopping at the first, and
// returns them joined in a single *qerr.Error of kind InvalidArg.
//
// reap is a genuine boolean: reap mode is on only when the value is
// literally "true", never merely because the key is present.
func ParseArgs(raw []string) (Args, error) {
	a := Args{
		Plugin:      DefaultPlugin,
		SchedParams: types.SchedulingParams{QueueDepth: types.DefaultQueueDepth, DelaySched: false},
	}

	var problems []string
	var schedParamsRaw string
	sawSchedParams := false

	for _, kv := range raw {
		key, value, ok := splitKV(kv)
		if !ok {
			problems = append(problems, fmt.Sprintf("malformed argument %q (expected key=value)", kv))
			continue
		}
		switch key {
		case keyRDLConf:
			a.RDLConf = value
		case keyRDLResource:
			a.RDLResource = value
		case keyPlugin:
			a.Plugin = value
		case keyPluginOpts:
			a.PluginOpts = value
		case keyPriorityPlugin:
			a.PriorityPlugin = value
		case keySchedParams:
			schedParamsRaw = value
			sawSchedParams = true
		case keyReap:
			b, err := parseBool(value)
			if err != nil {
				problems = append(problems, fmt.Sprintf("reap=%s: %v", value, err))
				continue
			}
			a.Reap = b
		case keyNodeExcl:
			b, err := parseBool(value)
			if err != nil {
				problems = append(problems, fmt.Sprintf("node-excl=%s: %v", value, err))
				continue
			}
			a.NodeExclusive = b
		case keySchedOnce:
			b, err := parseBool(value)
			if err != nil {
				problems = append(problems, fmt.Sprintf("sched-once=%s: %v", value, err))
				continue
			}
			a.SchedOnce = b
		case keyFailOnError:
			b, err := parseBool(value)
			if err != nil {
				problems = append(problems, fmt.Sprintf("fail-on-error=%s: %v", value, err))
				continue
			}
			a.FailOnError = b
		case keyInSim:
			b, err := parseBool(value)
			if err != nil {
				problems = append(problems, fmt.Sprintf("in-sim=%s: %v", value, err))
				continue
			}
			a.InSim = b
		case keyVerbosity:
			n, err := strconv.Atoi(value)
			if err != nil {
				problems = append(problems, fmt.Sprintf("verbosity=%s: not an integer", value))
				continue
			}
			a.Verbosity = n
		default:
			problems = append(problems, fmt.Sprintf("unknown startup key %q", key))
		}
	}

	if sawSchedParams {
		params, err := ParseSchedParams(schedParamsRaw, a.SchedParams)
		if err != nil {
			problems = append(problems, err.Error())
		} else {
			a.SchedParams = params
		}
	}

	if len(problems) > 0 {
		return a, qerr.New(qerr.InvalidArg, strings.Join(problems, "; "))
	}
	return a, nil
}

// ParseSchedParams parses the "key=value,key=value" format used both by
// the sched-params= startup argument and by sched.params.set. base
// supplies the starting values for keys the input doesn't mention.
func ParseSchedParams(raw string, base types.SchedulingParams) (types.SchedulingParams, error) {
	out := base
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}

	var problems []string
	for _, kv := range strings.Split(raw, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		key, value, ok := splitKV(kv)
		if !ok {
			problems = append(problems, fmt.Sprintf("malformed param %q (expected key=value)", kv))
			continue
		}
		switch key {
		case "queue-depth":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				problems = append(problems, fmt.Sprintf("queue-depth=%s: must be a positive integer", value))
				continue
			}
			out.QueueDepth = n
		case "delay-sched":
			b, err := parseBool(value)
			if err != nil {
				problems = append(problems, fmt.Sprintf("delay-sched=%s: %v", value, err))
				continue
			}
			out.DelaySched = b
		default:
			problems = append(problems, fmt.Sprintf("unknown param key %q", key))
		}
	}

	if len(problems) > 0 {
		return base, qerr.New(qerr.InvalidArg, strings.Join(problems, "; "))
	}
	return out, nil
}

func splitKV(s string) (key, value string, ok bool) {
	i := strings.IndexByte(s, '=')
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

func parseBool(v string) (bool, error) {
	switch v {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("must be true or false")
	}
}
