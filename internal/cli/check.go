package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/victornm/levelup/internal/catalog"
)

// newCheckConfigCmd validates the config and rank catalog without connecting anywhere.
func newCheckConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config file and the rank catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			cat, err := catalog.Load(c.Ranks)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, id := range cat.GuildIDs() {
				g, _ := cat.Guild(id)
				fmt.Fprintf(out, "guild %s: %d ranks, %d composites\n", id, len(g.Ranks()), len(g.Composites()))
			}
			return nil
		},
	}
}
