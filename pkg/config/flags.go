package config

import "github.com/spf13/cobra"

// BindFlags registers every INI key as a CLI flag on cmd, mirroring
// spec.md §6 ("CLI mirrors these via `--node-name=` /
// `--advanced-heartbeat=` etc."), plus the two process-control flags
// `-e/--empty` and `-w/--wipe`.
func BindFlags(cmd *cobra.Command, cfg *Config) {
	f := cmd.Flags()

	f.StringVar(&cfg.Name, "node-name", cfg.Name, "node name")
	f.StringVar(&cfg.BindURL, "node-bind-url", cfg.BindURL, "bind URL")
	f.StringVar(&cfg.AdvertiseURL, "node-advertise-url", cfg.AdvertiseURL, "advertise URL")
	f.StringVar(&cfg.SourceAddr, "node-source-addr", cfg.SourceAddr, "outbound source address")
	f.IntVar(&cfg.SourcePort, "node-source-port", cfg.SourcePort, "outbound source port")
	f.StringVar((*string)(&cfg.LogLevel), "node-log-level", string(cfg.LogLevel), "log level (DEBUG, INFO, WARN, ERROR)")
	f.StringVar(&cfg.LogDestination, "node-log-destination", cfg.LogDestination, "log destination (stdout, file)")
	f.StringVar(&cfg.Directory, "node-directory", cfg.Directory, "data directory")
	f.BoolVar(&cfg.InMemory, "node-in-memory", cfg.InMemory, "keep the log and snapshot in memory only")

	f.StringVar(&cfg.ClusterName, "cluster-name", cfg.ClusterName, "cluster name")
	f.StringSliceVar(&cfg.Nodes, "cluster-nodes", cfg.Nodes, "comma-separated initial node URL list")

	f.Int64Var(&cfg.Heartbeat, "advanced-heartbeat", cfg.Heartbeat, "heartbeat interval in milliseconds")
	f.BoolVar(&cfg.Fsync, "advanced-fsync", cfg.Fsync, "fsync the log store on every flush")

	f.BoolVarP(&cfg.Empty, "empty", "e", false, "wipe persistent state before starting")
	f.BoolVarP(&cfg.Wipe, "wipe", "w", false, "wipe persistent state and exit")
}
