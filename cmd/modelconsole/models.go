package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"modelconsole/internal/modelfile"
	"modelconsole/pkg/types"
)

func (a *app) modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "models",
		Aliases: []string{"model", "m"},
		Short:   "List, pull, delete, stop and configure models",
	}
	cmd.AddCommand(a.listCmd(), a.runningCmd(), a.pullCmd(), a.deleteCmd(), a.stopCmd(), a.configCmd(), a.compareCmd())
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List installed models",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			models, err := c.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(types.ModelsResponse{Models: models}, func(w io.Writer) {
				if len(models) == 0 {
					fmt.Fprintln(w, dimText("no models installed"))
					return
				}
				now := time.Now()
				rows := make([][]string, 0, len(models))
				for _, m := range models {
					rows = append(rows, []string{m.Name, formatBytes(m.Size), orDash(m.Details.ParameterSize), orDash(m.Details.QuantizationLevel), formatAge(m.ModifiedAt, now)})
				}
				table(w, "NAME\tSIZE\tPARAMS\tQUANT\tMODIFIED", rows)
			})
		},
	}
}

func (a *app) runningCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "running",
		Aliases: []string{"ps"},
		Short:   "List models loaded in memory",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			models, err := c.ListRunning(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(types.ModelsResponse{Models: models}, func(w io.Writer) {
				if len(models) == 0 {
					fmt.Fprintln(w, dimText("no models running"))
					return
				}
				rows := make([][]string, 0, len(models))
				for _, m := range models {
					until := "-"
					if m.ExpiresAt != nil {
						until = m.ExpiresAt.Local().Format("15:04:05")
					}
					rows = append(rows, []string{m.Name, formatBytes(m.Size), formatBytes(m.SizeVRAM), until})
				}
				table(w, "NAME\tSIZE\tVRAM\tUNTIL", rows)
			})
		},
	}
}

func (a *app) pullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull NAME",
		Short: "Download a model, showing progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.client(ctx)
			if err != nil {
				return err
			}
			stream, err := c.PullModelStream(ctx, args[0])
			if err != nil {
				return err
			}
			defer stream.Close()

			enc := json.NewEncoder(a.out)
			var last types.PullEvent
			for stream.Next() {
				last = stream.Event()
				if a.asJSON {
					if err := enc.Encode(last); err != nil {
						return err
					}
					continue
				}
				if last.Phase == types.PullDownloading {
					fmt.Fprintf(a.out, "\rpulling %s  %5.1f%%  %s / %s", args[0], last.Percent, formatBytes(last.Completed), formatBytes(last.Total))
				}
			}
			if err := stream.Err(); err != nil {
				if !a.asJSON {
					fmt.Fprintln(a.out)
				}
				return err
			}
			if a.asJSON {
				return nil
			}
			fmt.Fprintln(a.out)
			if last.Phase == types.PullError {
				return fmt.Errorf("pull %s: %s", args[0], last.Error)
			}
			printResult(a.out, types.OperationResult{Success: true, Message: "Successfully pulled model " + args[0]})
			return nil
		},
	}
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete NAME [NAME...]",
		Aliases: []string{"rm"},
		Short:   "Delete one or more models",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				res, err := c.DeleteModel(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.emit(res, func(w io.Writer) { printResult(w, res) })
			}
			results, err := c.DeleteModels(cmd.Context(), args)
			if err != nil {
				return err
			}
			return a.emit(types.BatchResponse{Results: results}, func(w io.Writer) { printBatch(w, results) })
		},
	}
}

func (a *app) stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop NAME",
		Short: "Unload a running model from memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			res, err := c.StopModel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.emit(res, func(w io.Writer) { printResult(w, res) })
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change model configuration",
	}

	var asModelfile bool
	show := &cobra.Command{
		Use:   "show NAME",
		Short: "Show a model's system prompt, template and parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			cfg, err := c.GetModelConfig(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asModelfile {
				_, err := io.WriteString(a.out, modelfile.Generate(args[0], cfg))
				return err
			}
			return a.emit(cfg, func(w io.Writer) { printConfig(w, args[0], cfg) })
		},
	}
	show.Flags().BoolVar(&asModelfile, "modelfile", false, "print as modelfile text")

	var system, template string
	var params []string
	set := &cobra.Command{
		Use:   "set NAME [NAME...]",
		Short: "Replace the configuration of one or more models",
		Long: "Saves a new definition built FROM each model. An empty --system or --template keeps\n" +
			"the inherited value; each --param key=value overrides one parameter.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := types.ModelConfig{System: system, Template: template, Parameters: map[string]string{}}
			for _, p := range params {
				k, v, ok := strings.Cut(p, "=")
				if !ok || strings.TrimSpace(k) == "" {
					return fmt.Errorf("invalid --param %q (want key=value)", p)
				}
				cfg.Parameters[strings.TrimSpace(k)] = strings.TrimSpace(v)
			}
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				res, err := c.SaveModelConfig(cmd.Context(), args[0], cfg)
				if err != nil {
					return err
				}
				return a.emit(res, func(w io.Writer) { printResult(w, res) })
			}
			results, err := c.SaveModelConfigs(cmd.Context(), args, cfg)
			if err != nil {
				return err
			}
			return a.emit(types.BatchResponse{Results: results}, func(w io.Writer) { printBatch(w, results) })
		},
	}
	set.Flags().StringVar(&system, "system", "", "system prompt")
	set.Flags().StringVar(&template, "template", "", "prompt template")
	set.Flags().StringArrayVarP(&params, "param", "p", nil, "parameter as key=value (repeatable)")

	cmd.AddCommand(show, set)
	return cmd
}

func (a *app) compareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare NAME NAME [NAME...]",
		Short: "Compare models side by side",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			cmp, err := c.CompareModels(cmd.Context(), args)
			if err != nil {
				return err
			}
			return a.emit(types.CompareResponse{Comparison: cmp}, func(w io.Writer) {
				rows := make([][]string, 0, len(cmp))
				for _, m := range cmp {
					rows = append(rows, []string{
						m.Name, formatBytes(m.Size), orDash(m.Details.ParameterSize), orDash(m.Details.QuantizationLevel),
						fmt.Sprint(len(m.Config.Parameters)), fmt.Sprint(m.Stats.TotalOperations),
					})
				}
				table(w, "NAME\tSIZE\tPARAMS\tQUANT\tSETTINGS\tUSES", rows)
			})
		},
	}
}

func printConfig(w io.Writer, name string, cfg types.ModelConfig) {
	fmt.Fprintln(w, boldText(name))
	if cfg.From != "" {
		fmt.Fprintf(w, "  from:     %s\n", cfg.From)
	}
	fmt.Fprintf(w, "  system:   %s\n", orDash(cfg.System))
	fmt.Fprintf(w, "  template: %s\n", orDash(strings.ReplaceAll(cfg.Template, "\n", "\\n")))
	if len(cfg.Parameters) == 0 {
		return
	}
	fmt.Fprintln(w, "  parameters:")
	for _, k := range sortedKeys(cfg.Parameters) {
		fmt.Fprintf(w, "    %-16s %s\n", k, cfg.Parameters[k])
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
