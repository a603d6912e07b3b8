// Command mcvirt-remote is the one-shot worker process a peer's
// Cluster Coordinator starts over SSH for the lifetime of one remote
// operation (§4.3, §4.4): it builds the full dispatcher action table
// against this node's component graph, then serves newline-delimited
// JSON requests on stdin/stdout until it reads the close sentinel or
// hits EOF.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mcvirt/mcvirt/internal/dispatcher"
	"github.com/mcvirt/mcvirt/internal/logging"
	"github.com/mcvirt/mcvirt/internal/wiring"
)

func main() {
	var (
		hostname      string
		storageRoot   string
		libvirtSocket string
		logLevel      string
	)

	cmd := &cobra.Command{
		Use:           "mcvirt-remote",
		Short:         "Serve one remote worker session over stdin/stdout",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(os.Stderr, logLevel)

			comps, err := wiring.Build(wiring.Config{
				Hostname:      hostname,
				StorageRoot:   storageRoot,
				LibvirtSocket: libvirtSocket,
			}, log)
			if err != nil {
				return err
			}

			d := dispatcher.NewWithLock(log, comps.Lock)
			registerActions(d, comps)

			return d.Serve(os.Stdin, os.Stdout)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&hostname, "hostname", defaultHostname(), "this node's hostname as known to the cluster")
	flags.StringVar(&storageRoot, "storage-root", "/var/lib/mcvirt", "root directory for per-node config and VM state")
	flags.StringVar(&libvirtSocket, "libvirt-socket", wiring.DefaultLibvirtSocket, "qemu:///system libvirt RPC socket")
	flags.StringVar(&logLevel, "log-level", "info", "logrus level (debug, info, warn, error)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultHostname() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}
