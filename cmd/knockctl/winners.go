package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/open-builders/knock-backend/internal/common/logger"
	"github.com/open-builders/knock-backend/internal/domain/contest"
	pgrepo "github.com/open-builders/knock-backend/internal/repository/postgres"
	"github.com/open-builders/knock-backend/internal/service/admin"
)

const winnerTimeLayout = "01/02/2006, 03:04:05 PM MST"

func winnersCommand() *cobra.Command {
	var guildID string
	cmd := &cobra.Command{
		Use:   "winners",
		Short: "List a guild's prize winners and their DeviantArt accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			pg := openPostgres(cmd.Context(), cfg)
			defer pg.Close()

			svc := admin.NewService(pgrepo.NewStore(pg, logger.For("store")), cfg.Location(), logger.For("admin"))
			wins, err := svc.Winners(cmd.Context(), guildID)
			if err != nil {
				return err
			}
			return writeWinners(cmd.OutOrStdout(), wins, svc.Location())
		},
	}
	cmd.Flags().StringVar(&guildID, "guild", "", "guild to report on")
	_ = cmd.MarkFlagRequired("guild")
	return cmd
}

func writeWinners(out io.Writer, wins []contest.Winner, loc *time.Location) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tDATE\tWINNER\tPRIZE\tDEVIANTART")
	for i, win := range wins {
		da := "-"
		if win.DeviantArtName != nil {
			da = *win.DeviantArtName
		}
		prize := win.PrizeID
		if win.PrizeName != "" {
			prize = fmt.Sprintf("%s (%s)", win.PrizeName, win.PrizeID)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, win.CreatedAt.In(loc).Format(winnerTimeLayout), win.UserID, prize, da)
	}
	return w.Flush()
}
