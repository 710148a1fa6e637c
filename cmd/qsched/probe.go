package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cuemby/qsched/pkg/types"
)

func addAddrFlag(cmd *cobra.Command) {
	cmd.Flags().String("addr", "127.0.0.1:8518", "Address of a running qsched serve instance")
}

// post sends a JSON payload to a serve instance and prints the JSON
// response. A non-2xx status becomes an error carrying the server's
// error message.
func post(cmd *cobra.Command, path string, payload any) error {
	addr, _ := cmd.Flags().GetString("addr")
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := http.Post("http://"+addr+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func get(cmd *cobra.Command, path string) error {
	addr, _ := cmd.Flags().GetString("addr")
	resp, err := http.Get("http://" + addr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s", e.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

var submitCmd = &cobra.Command{
	Use:   "submit JOBID",
	Short: "Submit a job to a running scheduler",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("JOBID must be an integer: %v", err)
		}
		nnodes, _ := cmd.Flags().GetInt("nnodes")
		ncores, _ := cmd.Flags().GetInt("ncores")
		ngpus, _ := cmd.Flags().GetInt("ngpus")
		walltime, _ := cmd.Flags().GetInt64("walltime")
		nodeExcl, _ := cmd.Flags().GetBool("node-exclusive")

		return post(cmd, "/job", submitRequest{
			JobID:    jobID,
			State:    string(types.StateSubmitted),
			Nnodes:   nnodes,
			Ncores:   ncores,
			Ngpus:    ngpus,
			Walltime: walltime,
			NodeExcl: nodeExcl,
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel JOBID",
	Short: "Cancel a pending job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("JOBID must be an integer: %v", err)
		}
		return post(cmd, "/control/"+types.TopicSchedCancel, map[string]any{"jobid": jobID})
	},
}

var excludeCmd = &cobra.Command{
	Use:   "exclude HOSTNAME",
	Short: "Exclude a host from scheduling",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kill, _ := cmd.Flags().GetBool("kill")
		return post(cmd, "/control/"+types.TopicSchedExclude, map[string]any{
			"node": args[0],
			"kill": kill,
		})
	},
}

var includeCmd = &cobra.Command{
	Use:   "include HOSTNAME",
	Short: "Return an excluded host to scheduling",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return post(cmd, "/control/"+types.TopicSchedInclude, map[string]any{"node": args[0]})
	},
}

var paramsCmd = &cobra.Command{
	Use:   "params [key=value,...]",
	Short: "Get or set scheduling parameters",
	Long: `With no arguments, print the current scheduling parameters.
With a key=value list, update them:

  qsched params
  qsched params queue-depth=32,delay-sched=true`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return post(cmd, "/control/"+types.TopicParamsGet, map[string]any{})
		}
		return post(cmd, "/control/"+types.TopicParamsSet, map[string]any{"param": args[0]})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue sizes, job states, and resource utilization",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return get(cmd, "/status")
	},
}

var triggerCmd = &cobra.Command{
	Use:   "trigger TIME",
	Short: "Deliver a simulator time step",
	Long: `Deliver one simulated time step to a scheduler running with
in-sim=true: queued job-status and resource events are drained in FIFO
order and the simulated clock advances to TIME.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		simTime, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("TIME must be an integer: %v", err)
		}
		return post(cmd, "/trigger", map[string]any{"time": simTime})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{submitCmd, cancelCmd, excludeCmd, includeCmd, paramsCmd, statusCmd, triggerCmd} {
		addAddrFlag(cmd)
	}

	submitCmd.Flags().Int("nnodes", 0, "Number of nodes requested")
	submitCmd.Flags().Int("ncores", 1, "Number of cores requested")
	submitCmd.Flags().Int("ngpus", 0, "Number of GPUs requested")
	submitCmd.Flags().Int64("walltime", 0, "Walltime in seconds (0 uses the default)")
	submitCmd.Flags().Bool("node-exclusive", false, "Request whole nodes exclusively")
	excludeCmd.Flags().Bool("kill", false, "Kill jobs allocated on the host")
}
