package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/resql/resql/pkg/adminapi"
	"github.com/resql/resql/pkg/applier"
	"github.com/resql/resql/pkg/clustermeta"
	"github.com/resql/resql/pkg/config"
	"github.com/resql/resql/pkg/log"
	"github.com/resql/resql/pkg/logstore"
	"github.com/resql/resql/pkg/server"
	"github.com/resql/resql/pkg/sqlengine"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage this node's process",
}

var nodeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start this node and join/resume its cluster",
	Long: `Start loads node.directory's persisted meta and log pages (or
bootstraps fresh state from cluster.nodes if none exists), then runs the
single-threaded event loop until a signal or "resql node stop" arrives.`,
	RunE: runNodeStart,
}

var nodeStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running node started with 'node start'",
	Long: `Sends SIGTERM to the process recorded in node.directory/resql.pid,
the same graceful-shutdown signal Ctrl+C delivers to a foreground node.`,
	RunE: runNodeStop,
}

// nodeFlagOverrides is where config.BindFlags's pflag.*Var calls land;
// cobra populates it while parsing argv, before RunE ever runs, so
// runNodeStart can later tell (via cmd.Flags().Changed) which of its
// fields the operator actually typed versus which just hold
// config.Default()'s placeholder value.
var nodeFlagOverrides = config.Default()

func init() {
	nodeCmd.AddCommand(nodeStartCmd)
	nodeCmd.AddCommand(nodeStopCmd)

	nodeStartCmd.Flags().String("config", "", "path to an INI config file (optional; CLI flags override it)")
	nodeStartCmd.Flags().String("admin-addr", "", "admin/status gRPC listen address (empty disables the admin plane)")
	config.BindFlags(nodeStartCmd, &nodeFlagOverrides)

	nodeStopCmd.Flags().String("directory", "", "node.directory of the process to stop (must match its 'node start' config)")
}

// overrideFlagName names every config.BindFlags-registered flag paired
// with the nodeFlagOverrides field it targets, in the exact order
// config.BindFlags wires them.
var overrideFlagNames = []string{
	"node-name", "node-bind-url", "node-advertise-url", "node-source-addr",
	"node-source-port", "node-log-level", "node-log-destination",
	"node-directory", "node-in-memory", "cluster-name", "cluster-nodes",
	"advanced-heartbeat", "advanced-fsync",
}

// applyChangedFlags copies every flag the operator actually passed on
// the command line from nodeFlagOverrides onto cfg, leaving file-
// loaded (or Default()) values alone for everything else — the
// "CLI flags override [the INI file]" precedence spec.md §6 and
// cmd/warren/main.go's own flag/config layering both use.
func applyChangedFlags(cmd *cobra.Command, cfg *config.Config) {
	for _, name := range overrideFlagNames {
		if !cmd.Flags().Changed(name) {
			continue
		}
		switch name {
		case "node-name":
			cfg.Name = nodeFlagOverrides.Name
		case "node-bind-url":
			cfg.BindURL = nodeFlagOverrides.BindURL
		case "node-advertise-url":
			cfg.AdvertiseURL = nodeFlagOverrides.AdvertiseURL
		case "node-source-addr":
			cfg.SourceAddr = nodeFlagOverrides.SourceAddr
		case "node-source-port":
			cfg.SourcePort = nodeFlagOverrides.SourcePort
		case "node-log-level":
			cfg.LogLevel = nodeFlagOverrides.LogLevel
		case "node-log-destination":
			cfg.LogDestination = nodeFlagOverrides.LogDestination
		case "node-directory":
			cfg.Directory = nodeFlagOverrides.Directory
		case "node-in-memory":
			cfg.InMemory = nodeFlagOverrides.InMemory
		case "cluster-name":
			cfg.ClusterName = nodeFlagOverrides.ClusterName
		case "cluster-nodes":
			cfg.Nodes = nodeFlagOverrides.Nodes
		case "advanced-heartbeat":
			cfg.Heartbeat = nodeFlagOverrides.Heartbeat
		case "advanced-fsync":
			cfg.Fsync = nodeFlagOverrides.Fsync
		}
	}
	cfg.Empty = nodeFlagOverrides.Empty
	cfg.Wipe = nodeFlagOverrides.Wipe
}

func runNodeStart(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	adminAddr, _ := cmd.Flags().GetString("admin-addr")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// BindFlags wired its fields onto nodeFlagOverrides at init() time,
	// not this resolved cfg; copy over anything the user actually
	// passed on the command line on top of the file/defaults.
	applyChangedFlags(cmd, &cfg)

	if globalLevel, _ := rootCmd.PersistentFlags().GetString("log-level"); globalLevel != "" {
		cfg.LogLevel = config.LogLevel(globalLevel)
	}
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: logLevelFromConfig(string(cfg.LogLevel)), JSONOutput: logJSON})

	if cfg.Directory == "" {
		return fmt.Errorf("node start: node-directory is required")
	}

	if cfg.Wipe {
		if err := wipeDirectory(cfg.Directory); err != nil {
			return err
		}
		fmt.Println("state wiped, exiting (--wipe)")
		return nil
	}
	if cfg.Empty {
		if err := wipeDirectory(cfg.Directory); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return fmt.Errorf("node start: create directory: %w", err)
	}

	pidPath := filepath.Join(cfg.Directory, "resql.pid")
	if err := writePIDFile(pidPath); err != nil {
		return err
	}
	defer os.Remove(pidPath)

	metaStore, err := clustermeta.OpenStore(cfg.Directory)
	if err != nil {
		return err
	}
	defer metaStore.Close()

	meta, found, err := metaStore.Load()
	if err != nil {
		return fmt.Errorf("node start: load meta: %w", err)
	}
	if !found {
		meta, err = bootstrapMeta(cfg)
		if err != nil {
			return err
		}
	}

	ssTerm, ssIndex, err := metaStore.LoadSnapshotBoundary()
	if err != nil {
		return fmt.Errorf("node start: load snapshot boundary: %w", err)
	}

	engine := sqlengine.New()
	snapshotPath := filepath.Join(cfg.Directory, "snapshot.resql")
	if _, statErr := os.Stat(snapshotPath); statErr == nil {
		if err := engine.Restore(snapshotPath); err != nil {
			return fmt.Errorf("node start: restore snapshot: %w", err)
		}
	}

	logStore, err := logstore.Open(cfg.Directory, ssTerm, ssIndex)
	if err != nil {
		return fmt.Errorf("node start: open log store: %w", err)
	}
	defer logStore.Close()

	ap := applier.New(cfg.ClusterName, engine)
	ap.Meta = meta
	ap.SSTerm, ap.SSIndex = ssTerm, ssIndex
	ap.Index, ap.Term = ssIndex, ssTerm
	if err := replayLog(logStore, ap); err != nil {
		return fmt.Errorf("node start: replay log: %w", err)
	}

	srv, err := server.New(cfg, logStore, ap, meta, engine)
	if err != nil {
		return fmt.Errorf("node start: %w", err)
	}

	var admin *adminapi.Server
	if adminAddr != "" {
		svc := adminapi.New(srv.Node(), srv.Applier().Meta, srv.Applier().Sessions)
		admin = adminapi.NewServer(svc, nil)
		go func() {
			if err := admin.Start(adminAddr); err != nil {
				log.Logger.Warn().Err(err).Msg("admin plane stopped")
			}
		}()
		log.WithNode(cfg.Name).Info().Str("addr", adminAddr).Msg("admin plane listening")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.WithNode(cfg.Name).Info().Msg("shutdown requested")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("node start: %w", err)
		}
	}

	srv.Shutdown()
	if admin != nil {
		admin.Stop()
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("node start: %w", err)
	}

	// Persist the clean-exit snapshot boundary and final meta so the
	// next "node start" can skip replaying everything below it.
	if err := metaStore.Save(srv.Applier().Meta); err != nil {
		log.Logger.Warn().Err(err).Msg("failed to persist meta on shutdown")
	}
	if err := metaStore.SaveSnapshotBoundary(srv.Applier().SSTerm, srv.Applier().SSIndex); err != nil {
		log.Logger.Warn().Err(err).Msg("failed to persist snapshot boundary on shutdown")
	}

	fmt.Println("shutdown complete")
	return nil
}

func wipeDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("wipe: read %s: %w", dir, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("wipe: remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// bootstrapMeta builds a fresh Meta from cfg.Nodes (the initial voter
// list, spec.md §6 "cluster.nodes"), or a lone-voter Meta containing
// just this node when cfg.Nodes is empty — the single-node bootstrap
// path newLeaderTestServer in pkg/server's tests exercises directly.
func bootstrapMeta(cfg config.Config) (*clustermeta.Meta, error) {
	meta := clustermeta.New(cfg.ClusterName)
	if len(cfg.Nodes) == 0 {
		self := cfg.AdvertiseURL
		if self == "" {
			self = cfg.BindURL
		}
		if err := meta.Add(cfg.Name, self); err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		return meta, nil
	}
	for _, raw := range cfg.Nodes {
		name, err := nodeNameFromURL(raw)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		if err := meta.Add(name, raw); err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
	}
	return meta, nil
}

// nodeNameFromURL extracts <name> out of a "tcp://<name>@<host>:<port>"
// or "unix://<name>@<path>" node URL (spec.md §6 "Node URL syntax").
func nodeNameFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid node url %q: %w", raw, err)
	}
	if u.User == nil || u.User.Username() == "" {
		return "", fmt.Errorf("node url %q has no <name>@ component", raw)
	}
	return u.User.Username(), nil
}

// replayLog catches the applier up from its snapshot boundary to the
// log store's current tail, the startup equivalent of the append-time
// replay consensus.Node.appendEntries does on every follower.
func replayLog(st *logstore.Store, ap *applier.State) error {
	for i := ap.Index + 1; i <= st.LastIndex(); i++ {
		e, ok := st.EntryAt(i)
		if !ok {
			break
		}
		if err := ap.Apply(context.Background(), i, e); err != nil {
			return err
		}
	}
	return nil
}

func runNodeStop(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("directory")
	if dir == "" {
		return fmt.Errorf("node stop: --directory is required")
	}
	data, err := os.ReadFile(filepath.Join(dir, "resql.pid"))
	if err != nil {
		return fmt.Errorf("node stop: read pidfile: %w", err)
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("node stop: malformed pidfile: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("node stop: %w", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("node stop: signal pid %d: %w", pid, err)
	}
	fmt.Printf("sent SIGTERM to pid %d\n", pid)
	return nil
}
