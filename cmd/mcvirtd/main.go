// Command mcvirtd is the long-running per-node daemon (§2, §4.7): it
// owns the DRBD out-of-sync notification socket and the node's Cluster
// Coordinator for the lifetime of the process, unlike mcvirt-remote's
// one-shot-per-SSH-session worker.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mcvirt/mcvirt/internal/logging"
	"github.com/mcvirt/mcvirt/internal/wiring"
)

func main() {
	var (
		hostname      string
		storageRoot   string
		libvirtSocket string
		drbdSocket    string
		commandSocket string
		logLevel      string
	)

	cmd := &cobra.Command{
		Use:           "mcvirtd",
		Short:         "Run the mcvirt per-node daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(os.Stderr, logLevel)

			comps, err := wiring.Build(wiring.Config{
				Hostname:       hostname,
				StorageRoot:    storageRoot,
				LibvirtSocket:  libvirtSocket,
				DRBDSocketPath: drbdSocket,
			}, log)
			if err != nil {
				return err
			}

			if err := comps.Socket.Start(); err != nil {
				return err
			}

			cmdSocket := NewCommandSocket(commandSocket, comps.Coordinator, log)
			if err := cmdSocket.Start(); err != nil {
				return err
			}
			log.WithField("node", comps.Hostname).Info("mcvirtd started")

			waitForShutdown(comps, cmdSocket, log)
			return nil
		},
	}

	flags := cmd.Flags()
	bindFlags(flags, &hostname, &storageRoot, &libvirtSocket, &drbdSocket, &commandSocket, &logLevel)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func bindFlags(flags *pflag.FlagSet, hostname, storageRoot, libvirtSocket, drbdSocket, commandSocket, logLevel *string) {
	flags.StringVar(hostname, "hostname", defaultHostname(), "this node's hostname as known to the cluster")
	flags.StringVar(storageRoot, "storage-root", "/var/lib/mcvirt", "root directory for per-node config and VM state")
	flags.StringVar(libvirtSocket, "libvirt-socket", wiring.DefaultLibvirtSocket, "qemu:///system libvirt RPC socket")
	flags.StringVar(drbdSocket, "drbd-socket", "", "out-of-sync notification socket (defaults to drbd.DefaultSocketPath)")
	flags.StringVar(commandSocket, "command-socket", DefaultCommandSocketPath, "local socket for cluster-wide VM/disk/node commands")
	flags.StringVar(logLevel, "log-level", "info", "logrus level (debug, info, warn, error)")
}

func waitForShutdown(comps *wiring.Components, cmdSocket *CommandSocket, log *logrus.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.WithField("signal", sig).Info("mcvirtd shutting down")

	cmdSocket.Stop()
	comps.Socket.Stop()
	comps.Transport.CloseAll()
	if comps.Lock.Held() {
		_ = comps.Lock.Release()
	}
}

func defaultHostname() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}
