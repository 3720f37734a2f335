package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/resql/resql/pkg/health"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster bootstrap helpers",
}

var clusterInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write one INI config file per node for a new cluster",
	Long: `init takes the full set of node URLs a cluster will start with and
writes each one an INI config file under --out-dir/<name>/node.ini,
with cluster.nodes already populated with the full URL list (spec.md
§6) so "resql node start --config <file>" on every node bootstraps the
same initial membership.`,
	RunE: runClusterInit,
}

var clusterPingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that every node in a URL list is reachable",
	Long: `ping dials the bare host:port of each --nodes entry and reports
whether something is listening, a quick preflight before trusting a
freshly written cluster init config or before filing a "node down"
report.`,
	RunE: runClusterPing,
}

func init() {
	clusterCmd.AddCommand(clusterInitCmd)
	clusterCmd.AddCommand(clusterPingCmd)

	clusterInitCmd.Flags().StringSlice("nodes", nil, "comma-separated node URLs, e.g. tcp://n1@10.0.0.1:7600,tcp://n2@10.0.0.2:7600,tcp://n3@10.0.0.3:7600")
	clusterInitCmd.Flags().String("cluster-name", "", "cluster name shared by every node")
	clusterInitCmd.Flags().String("out-dir", "./cluster", "directory under which each node gets its own subdirectory")
	clusterInitCmd.Flags().Int64("heartbeat", 1000, "advanced.heartbeat in milliseconds")
	clusterInitCmd.MarkFlagRequired("nodes")
	clusterInitCmd.MarkFlagRequired("cluster-name")

	clusterPingCmd.Flags().StringSlice("nodes", nil, "comma-separated node URLs or bare host:port addresses")
	clusterPingCmd.Flags().Duration("timeout", 5*time.Second, "per-node dial timeout")
	clusterPingCmd.MarkFlagRequired("nodes")
}

func runClusterPing(cmd *cobra.Command, args []string) error {
	nodeURLs, _ := cmd.Flags().GetStringSlice("nodes")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := context.WithTimeout(context.Background(), timeout*time.Duration(len(nodeURLs))+timeout)
	defer cancel()

	allHealthy := true
	for _, raw := range nodeURLs {
		addr := hostPort(raw)
		checker := health.NewTCPChecker(addr)
		checker.Timeout = timeout
		res := checker.Check(ctx)
		status := "UP"
		if !res.Healthy {
			status = "DOWN"
			allHealthy = false
		}
		fmt.Printf("%-6s %-32s %s (%s)\n", status, addr, res.Message, res.Duration.Round(time.Millisecond))
	}
	if !allHealthy {
		return fmt.Errorf("cluster ping: one or more nodes unreachable")
	}
	return nil
}

// hostPort strips the tcp://name@ prefix a node URL carries, leaving
// the bare host:port health.TCPChecker dials. A bare "host:port"
// address with no scheme is returned unchanged.
func hostPort(nodeURL string) string {
	if !strings.Contains(nodeURL, "://") {
		return nodeURL
	}
	u, err := url.Parse(nodeURL)
	if err != nil || u.Host == "" {
		return nodeURL
	}
	return u.Host
}

func runClusterInit(cmd *cobra.Command, args []string) error {
	nodeURLs, _ := cmd.Flags().GetStringSlice("nodes")
	clusterName, _ := cmd.Flags().GetString("cluster-name")
	outDir, _ := cmd.Flags().GetString("out-dir")
	heartbeat, _ := cmd.Flags().GetInt64("heartbeat")

	if len(nodeURLs) < 1 {
		return fmt.Errorf("cluster init: at least one --nodes entry is required")
	}

	fmt.Println("Initializing resql cluster...")
	fmt.Printf("  Cluster name: %s\n", clusterName)
	fmt.Printf("  Members:      %d\n", len(nodeURLs))
	fmt.Printf("  Output:       %s\n", outDir)
	fmt.Println()

	joined := strings.Join(nodeURLs, " ")
	for _, raw := range nodeURLs {
		name, bindURL, err := parseNodeURL(raw)
		if err != nil {
			return fmt.Errorf("cluster init: %w", err)
		}
		nodeDir := filepath.Join(outDir, name)
		if err := os.MkdirAll(nodeDir, 0755); err != nil {
			return fmt.Errorf("cluster init: create %s: %w", nodeDir, err)
		}

		iniPath := filepath.Join(nodeDir, "node.ini")
		ini := renderNodeINI(name, bindURL, clusterName, joined, heartbeat, filepath.Join(nodeDir, "data"))
		if err := os.WriteFile(iniPath, []byte(ini), 0644); err != nil {
			return fmt.Errorf("cluster init: write %s: %w", iniPath, err)
		}
		fmt.Printf("✓ %-16s %s\n", name, iniPath)
	}

	fmt.Println()
	fmt.Println("To start each node:")
	for _, raw := range nodeURLs {
		name, _, _ := parseNodeURL(raw)
		fmt.Printf("  resql node start --config %s\n", filepath.Join(outDir, name, "node.ini"))
	}
	return nil
}

// parseNodeURL splits a "tcp://<name>@<host>:<port>" or
// "unix://<name>@<path>" node URL into its <name> and the URL it
// should bind to, which is raw itself, unchanged (spec.md §6 "Node URL
// syntax").
func parseNodeURL(raw string) (name, bindURL string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid node url %q: %w", raw, err)
	}
	if u.User == nil || u.User.Username() == "" {
		return "", "", fmt.Errorf("node url %q has no <name>@ component", raw)
	}
	return u.User.Username(), raw, nil
}

func renderNodeINI(name, bindURL, clusterName, nodeList string, heartbeat int64, dataDir string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[node]\n")
	fmt.Fprintf(&b, "name = %s\n", name)
	fmt.Fprintf(&b, "bind-url = %s\n", bindURL)
	fmt.Fprintf(&b, "advertise-url = %s\n", bindURL)
	fmt.Fprintf(&b, "log-level = INFO\n")
	fmt.Fprintf(&b, "log-destination = stdout\n")
	fmt.Fprintf(&b, "directory = %s\n", dataDir)
	fmt.Fprintf(&b, "in-memory = false\n")
	fmt.Fprintf(&b, "\n[cluster]\n")
	fmt.Fprintf(&b, "name = %s\n", clusterName)
	fmt.Fprintf(&b, "nodes = %s\n", nodeList)
	fmt.Fprintf(&b, "\n[advanced]\n")
	fmt.Fprintf(&b, "heartbeat = %d\n", heartbeat)
	fmt.Fprintf(&b, "fsync = true\n")
	return b.String()
}
