package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/policyguard/pkg/catalog"
)

var frameworksCmd = &cobra.Command{
	Use:   "frameworks",
	Short: "List the loaded framework catalogs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		reg, err := catalog.Load(cfg.Engine.CatalogDir, logger)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if ref, _ := cmd.Flags().GetString("map"); ref != "" {
			return printEquivalents(cmd, reg, ref)
		}

		if id, _ := cmd.Flags().GetString("controls"); id != "" {
			fw, err := reg.Get(id)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPRIORITY\tPILLAR\tCATEGORY\tTITLE")
			for _, c := range fw.Controls {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Priority, c.Pillar, c.Category, c.Title)
			}
			return tw.Flush()
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tVERSION\tCONTROLS")
		for _, fw := range reg.List() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", fw.ID, fw.Name, fw.Version, len(fw.Controls))
		}
		return tw.Flush()
	},
}

// printEquivalents shows the controls in other frameworks mapped to ref.
func printEquivalents(cmd *cobra.Command, reg *catalog.Registry, ref string) error {
	from, err := catalog.ParseRef(ref)
	if err != nil {
		return err
	}
	fw, err := reg.Get(from.Framework)
	if err != nil {
		return err
	}
	c, ok := fw.Control(from.ControlID)
	if !ok {
		return fmt.Errorf("framework %s has no control %q", fw.ID, from.ControlID)
	}

	cw := catalog.NewCrosswalk(reg)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s:%s %s\n", fw.ID, c.ID, c.Title)
	eq := cw.Equivalents(fw.ID, c.ID)
	if len(eq) == 0 {
		fmt.Fprintln(out, "  no mapped controls in other frameworks")
		return nil
	}
	for _, e := range eq {
		path := cw.Path(catalog.ControlRef{Framework: fw.ID, ControlID: c.ID}, e)
		fmt.Fprintf(out, "  -> %s %s (%d hop(s))\n", e, e.Title, len(path)-1)
	}
	return nil
}

func init() {
	frameworksCmd.Flags().String("controls", "", "List the controls of one framework")
	frameworksCmd.Flags().String("map", "", "Show equivalent controls for framework:control")
	rootCmd.AddCommand(frameworksCmd)
}
