package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/qsched/pkg/bus"
	"github.com/cuemby/qsched/pkg/config"
	"github.com/cuemby/qsched/pkg/jobqueue"
	"github.com/cuemby/qsched/pkg/log"
	"github.com/cuemby/qsched/pkg/metrics"
	"github.com/cuemby/qsched/pkg/plugin"
	"github.com/cuemby/qsched/pkg/plugin/fcfs"
	"github.com/cuemby/qsched/pkg/plugin/priority"
	"github.com/cuemby/qsched/pkg/qerr"
	"github.com/cuemby/qsched/pkg/reactor"
	"github.com/cuemby/qsched/pkg/resource"
	"github.com/cuemby/qsched/pkg/topology"
	"github.com/cuemby/qsched/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve [key=value ...]",
	Short: "Run the scheduler core",
	Long: `Run the scheduler core with an embedded HTTP control endpoint.

Startup configuration is positional key=value arguments:

  rdl-conf=PATH           resource-definition document (required)
  rdl-resource=URI        resource URI within the document
  plugin=NAME             behavior plugin (default sched.fcfs)
  plugin-opts=STR         behavior plugin options
  priority-plugin=NAME    priority plugin (none by default)
  sched-params=K=V,...    queue-depth=N, delay-sched=true|false
  reap=true|false         retain terminated jobs in the completed queue
  node-excl=true|false    default node-exclusive flag for submissions
  sched-once=true|false   skip resource release on completion (testing)
  fail-on-error=true|false
  in-sim=true|false       simulator driver: time advances via trigger
  verbosity=N

Example:
  qsched serve rdl-conf=cluster.yaml sched-params=queue-depth=32`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "127.0.0.1:8518", "Control endpoint listen address")
	serveCmd.Flags().String("metrics-listen", "127.0.0.1:9518", "Metrics/health listen address")
	serveCmd.Flags().String("data-dir", defaultDataDir(), "Directory for the topology cache")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/qsched"
	}
	return home + "/.qsched"
}

// server owns the single reactor goroutine: every control request, job
// notification, and simulator trigger is a func executed on it in
// arrival order, with the coalescer's check boundary run after each
// drained batch.
type server struct {
	core   *reactor.Core
	router *bus.Router
	reqCh  chan func()
}

// dispatch runs fn on the reactor goroutine and waits for it to finish.
func (s *server) dispatch(fn func()) {
	done := make(chan struct{})
	s.reqCh <- func() {
		fn()
		close(done)
	}
	<-done
}

// run is the reactor loop: take one handler, drain whatever else arrived
// in the same batch, then run the coalescer check boundary.
func (s *server) run() {
	for {
		s.core.Prep()
		fn, ok := <-s.reqCh
		if !ok {
			return
		}
		fn()
	drain:
		for {
			select {
			case fn, ok := <-s.reqCh:
				if !ok {
					return
				}
				fn()
			default:
				break drain
			}
		}
		s.core.Check()
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	initLogging(cmd)
	logger := log.WithComponent("serve")

	a, err := config.ParseArgs(args)
	if err != nil {
		return err
	}
	if a.RDLConf == "" {
		return qerr.New(qerr.InvalidArg, "rdl-conf=PATH is required")
	}
	if a.Verbosity > 0 {
		log.Init(log.Config{Level: log.DebugLevel})
	}

	rdl, err := config.LoadRDL(a.RDLConf)
	if err != nil {
		return err
	}
	if a.RDLResource != "" && a.RDLResource != rdl.Cluster {
		return qerr.New(qerr.NotFound, "rdl-resource "+a.RDLResource+" not found in "+a.RDLConf)
	}
	root, blobs := buildInventory(rdl)

	dataDir, _ := cmd.Flags().GetString("data-dir")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return qerr.Wrap(qerr.IOFailure, "failed to create data dir", err)
	}
	cache, err := topology.OpenCache(dataDir)
	if err != nil {
		return err
	}
	defer cache.Close()

	readers := []topology.Reader{
		topology.NewStaticReader("rdl-resource", blobs, nil),
		topology.NewCacheReader(cache),
	}
	loaded, backend, err := topology.Load(readers)
	if err != nil {
		return err
	}
	if err := cache.Store(loaded); err != nil {
		logger.Warn().Err(err).Msg("failed to persist topology cache")
	}
	table := topology.BuildLookupTable(loaded, a.InSim)
	metrics.RegisterComponent("topology", true, "backend "+backend)

	behavior, prio, err := loadPlugins(a)
	if err != nil {
		return err
	}

	b := bus.New()
	core := reactor.New(reactor.Deps{
		Queues:        jobqueue.New(a.SchedParams.QueueDepth),
		Root:          root,
		Behavior:      behavior,
		Priority:      prio,
		Resolver:      table,
		Bus:           b,
		ReapMode:      a.Reap,
		SchedOnce:     a.SchedOnce,
		InSim:         a.InSim,
		InitialParams: a.SchedParams,
	})
	router := bus.NewRouter()
	core.RegisterHandlers(router)
	metrics.RegisterComponent("resource", true, "")
	metrics.RegisterComponent("reactor", true, "")
	metrics.SetVersion(Version)

	s := &server{core: core, router: router, reqCh: make(chan func(), 64)}
	go s.run()

	collector := metrics.NewCollector(core)
	collector.Start()
	defer collector.Stop()

	listen, _ := cmd.Flags().GetString("listen")
	metricsListen, _ := cmd.Flags().GetString("metrics-listen")

	controlSrv := &http.Server{Addr: listen, Handler: s.controlMux(a)}
	metricsSrv := &http.Server{Addr: metricsListen, Handler: metricsMux()}

	errCh := make(chan error, 2)
	go func() { errCh <- controlSrv.ListenAndServe() }()
	go func() { errCh <- metricsSrv.ListenAndServe() }()

	logger.Info().
		Str("listen", listen).
		Str("metrics", metricsListen).
		Str("plugin", behavior.Name()).
		Str("topology_backend", backend).
		Int("nodes", len(rdl.Nodes)).
		Bool("in_sim", a.InSim).
		Msg("scheduler core started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = controlSrv.Shutdown(ctx)
	_ = metricsSrv.Shutdown(ctx)
	close(s.reqCh)
	return nil
}

// buildInventory turns the resource-definition document into the
// cluster -> node -> core/gpu inventory tree plus the topology blobs the
// hostname->rank table is built from.
func buildInventory(rdl *config.RDL) (*resource.Node, []topology.Blob) {
	root := resource.NewNode(resource.KindCluster, rdl.Cluster)
	blobs := make([]topology.Blob, 0, len(rdl.Nodes))
	for _, n := range rdl.Nodes {
		node := resource.NewNode(resource.KindNode, n.Hostname)
		node.Digest = n.Digest
		for i := 0; i < n.Cores; i++ {
			core := resource.NewNode(resource.KindCore, n.Hostname)
			core.Digest = n.Digest
			node.Children = append(node.Children, core)
		}
		for i := 0; i < n.GPUs; i++ {
			gpu := resource.NewNode(resource.KindGPU, n.Hostname)
			gpu.Digest = n.Digest
			node.Children = append(node.Children, gpu)
		}
		root.Children = append(root.Children, node)
		blobs = append(blobs, topology.Blob{Hostname: n.Hostname, Digest: n.Digest, Rank: n.Rank})
	}
	return root, blobs
}

func loadPlugins(a config.Args) (plugin.Behavior, plugin.Priority, error) {
	var behavior plugin.Behavior
	switch a.Plugin {
	case fcfs.Name:
		behavior = fcfs.New()
	default:
		return nil, nil, qerr.New(qerr.NotFound, "unknown behavior plugin "+a.Plugin)
	}
	if err := behavior.ProcessArgs(a.PluginOpts); err != nil {
		return nil, nil, err
	}

	var prio plugin.Priority
	switch a.PriorityPlugin {
	case "":
		prio = priority.NewFIFO()
	case "sched.fifo":
		prio = priority.NewFIFO()
	case "sched.multifactor":
		prio = priority.NewMultifactor(60, func() int64 { return time.Now().Unix() })
	default:
		return nil, nil, qerr.New(qerr.NotFound, "unknown priority plugin "+a.PriorityPlugin)
	}
	if err := prio.PrioritySetup(); err != nil {
		return nil, nil, err
	}
	return behavior, prio, nil
}

// submitRequest is the POST /job payload: a job-status notification as
// the external job-status service would deliver it.
type submitRequest struct {
	JobID    int64  `json:"jobid"`
	State    string `json:"state"`
	Nnodes   int    `json:"nnodes"`
	Ncores   int    `json:"ncores"`
	Ngpus    int    `json:"ngpus"`
	Walltime int64  `json:"walltime"`
	NodeExcl bool   `json:"node_exclusive"`
}

func (s *server) controlMux(a config.Args) http.Handler {
	mux := http.NewServeMux()

	for _, topic := range []string{
		types.TopicSchedCancel,
		types.TopicSchedExclude,
		types.TopicSchedInclude,
		types.TopicParamsSet,
		types.TopicParamsGet,
	} {
		topic := topic
		mux.HandleFunc("/control/"+topic, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "POST required", http.StatusMethodNotAllowed)
				return
			}
			var payload map[string]any
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			var resp bus.Response
			s.dispatch(func() {
				resp = s.router.Handle(bus.Request{Topic: topic, Payload: payload})
			})
			writeResponse(w, resp)
		})
	}

	mux.HandleFunc("/job", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		spec := types.ResourceSpec{
			Nnodes:        req.Nnodes,
			Ncores:        req.Ncores,
			Ngpus:         req.Ngpus,
			Walltime:      req.Walltime,
			NodeExclusive: req.NodeExcl || a.NodeExclusive,
		}
		var err error
		s.dispatch(func() {
			err = s.core.HandleJobStatus(req.JobID, types.JobState(req.State), spec, time.Now().Unix())
		})
		if err != nil {
			if a.FailOnError {
				log.Fatal("job-status handling failed: " + err.Error())
			}
			writeResponse(w, bus.Response{Err: err})
			return
		}
		writeResponse(w, bus.Response{Payload: map[string]any{"jobid": req.JobID}})
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		var depths map[string]int
		var states map[types.JobState]int
		var util map[string]float64
		s.dispatch(func() {
			depths = s.core.QueueDepths()
			states = s.core.JobStateCounts()
			util = s.core.ResourceUtilization()
		})
		writeResponse(w, bus.Response{Payload: map[string]any{
			"queues":      depths,
			"states":      states,
			"utilization": util,
		}})
	})

	mux.HandleFunc("/trigger", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Time int64 `json:"time"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var err error
		s.dispatch(func() {
			err = s.core.Trigger(req.Time)
		})
		if err != nil {
			writeResponse(w, bus.Response{Err: err})
			return
		}
		writeResponse(w, bus.Response{Payload: map[string]any{}})
	})

	return mux
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	return mux
}

func writeResponse(w http.ResponseWriter, resp bus.Response) {
	w.Header().Set("Content-Type", "application/json")
	if resp.Err != nil {
		status := http.StatusInternalServerError
		if kind, ok := qerr.KindOf(resp.Err); ok {
			switch kind {
			case qerr.InvalidArg:
				status = http.StatusBadRequest
			case qerr.NotFound:
				status = http.StatusNotFound
			case qerr.InvalidState:
				status = http.StatusConflict
			}
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": resp.Err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(resp.Payload)
}
