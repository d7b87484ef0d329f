package main

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rvald/twinctl/internal/discovery"
	"github.com/spf13/cobra"
)

var browseTimeout time.Duration

var debugDiscoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "List network interfaces and browse for gateways over mDNS",
	RunE: func(cmd *cobra.Command, args []string) error {
		ifaces, err := net.Interfaces()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Network Interfaces:")
		for _, iface := range ifaces {
			addrs, _ := iface.Addrs()
			fmt.Fprintf(out, "- %s (Flags: %v)\n", iface.Name, iface.Flags)
			for _, addr := range addrs {
				fmt.Fprintf(out, "  - %s\n", addr.String())
			}
		}
		fmt.Fprintln(out)

		fmt.Fprintf(out, "Browsing %s for %s...\n", discovery.ServiceType, browseTimeout)
		ctx, cancel := context.WithTimeout(cmd.Context(), browseTimeout+time.Second)
		defer cancel()
		gateways, err := discovery.Browse(ctx, browseTimeout)
		if err != nil {
			return err
		}
		if len(gateways) == 0 {
			fmt.Fprintln(out, "No gateways found.")
			return nil
		}
		for _, g := range gateways {
			fmt.Fprintf(out, "- %s at %s (v%s, bind=%s)\n", g.Meta.DisplayName, g.Addr, g.Meta.Version, g.Meta.Bind)
			if len(g.Meta.Endpoints) > 0 {
				fmt.Fprintf(out, "  endpoints: %s\n", strings.Join(g.Meta.Endpoints, " "))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(debugCmd)
	debugCmd.AddCommand(debugDiscoveryCmd)
	debugDiscoveryCmd.Flags().DurationVar(&browseTimeout, "timeout", 3*time.Second, "How long to listen for answers")
}

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debug utilities",
}
