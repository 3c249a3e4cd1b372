package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fabian4/devproxy/internal/admin"
	"github.com/fabian4/devproxy/internal/router"
)

func newRoutesCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Validate the config and print the routing table in match order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := router.New(st.conf.Routes)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tPREFIX\tUPSTREAM\tTARGET\tMETHODS")
			for _, r := range admin.Describe(rt) {
				methods := "*"
				if len(r.Methods) > 0 {
					methods = strings.Join(r.Methods, ",")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.Prefix, r.Upstream, r.Target, methods)
			}
			return tw.Flush()
		},
	}
}
