package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newModelsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect the model registry (store.dsn)",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered models, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openStore(cmd.Context(), a.cfg.Store)
			if err != nil {
				return err
			}
			defer s.Close()
			entries, err := s.List(ctxOrBackground(cmd.Context()))
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tLABEL\tCLASSES\tGENES\tSAMPLES\tCREATED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n", e.ID, e.Kind, e.LabelColumn,
					e.NClasses, e.NGenes, e.NSamples, e.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Print the manifest of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd.Context(), a.cfg.Store)
			if err != nil {
				return err
			}
			defer s.Close()
			man, err := s.Manifest(ctxOrBackground(cmd.Context()), args[0])
			if err != nil {
				return err
			}
			data, err := man.ToJSON()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Remove a model from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd.Context(), a.cfg.Store)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.Delete(ctxOrBackground(cmd.Context()), args[0])
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}
