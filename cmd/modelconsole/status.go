package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"modelconsole/internal/daemon"
	"modelconsole/pkg/types"
)

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := daemon.New(a.daemonConfig(), daemon.WithLogger(a.log))
			res := types.ServerStatusResponse{Status: "stopped", BaseURL: c.BaseURL()}
			if c.CheckServer(cmd.Context()) {
				res.Status = "running"
			}
			return a.emit(res, func(w io.Writer) {
				state := warnText(res.Status)
				if res.Status == "running" {
					state = okText(res.Status)
				}
				fmt.Fprintf(w, "daemon %s at %s\n", state, res.BaseURL)
			})
		},
	}
}
