package cmd

import (
	"scrollfeed/db"

	"github.com/urfave/cli/v2"
)

func tidyCmd() *cli.Command {
	return &cli.Command{
		Name:  "tidy",
		Usage: "Tidy up the database",
		Description: `Tidy up the database by removing read marks that are old.

		Posts marked read more than 90 days ago are forgotten. Saved items
		are kept until they are unsaved.`,
		Flags: databaseFlags(),
		Action: func(ctx *cli.Context) error {
			database, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			return db.Tidy(ctx.Context, database)
		},
	}
}
