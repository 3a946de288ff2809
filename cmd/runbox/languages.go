package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/isdmx/runbox/config"
)

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List available language profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}
		profiles, err := config.LoadProfiles(cfg)
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(profiles))
		for id := range profiles {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "LANGUAGE\tIMAGE\tTIMEOUT\tMEMORY\tREPL")
		for _, id := range ids {
			p := profiles[id]
			repl := "-"
			if p.ReplCommand != "" {
				repl = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%dMB\t%s\n",
				p.ID, p.Image, p.Timeout(), p.MemoryLimitMB, repl)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(languagesCmd)
}
