package cmd

import (
	"fmt"
	"scrollfeed/db"

	"github.com/urfave/cli/v2"
)

func databaseFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "db-host",
			Usage:   "PostgreSQL host",
			EnvVars: []string{"SCROLLFEED_DB_HOST"},
			Value:   "localhost",
		},
		&cli.IntFlag{
			Name:    "db-port",
			Usage:   "PostgreSQL port",
			EnvVars: []string{"SCROLLFEED_DB_PORT"},
			Value:   5432,
		},
		&cli.StringFlag{
			Name:    "db-user",
			Usage:   "PostgreSQL user",
			EnvVars: []string{"SCROLLFEED_DB_USER"},
			Value:   "scrollfeed",
		},
		&cli.StringFlag{
			Name:    "db-password",
			Usage:   "PostgreSQL password",
			EnvVars: []string{"SCROLLFEED_DB_PASSWORD"},
			Value:   "scrollfeed",
		},
		&cli.StringFlag{
			Name:    "db-name",
			Usage:   "PostgreSQL database name",
			EnvVars: []string{"SCROLLFEED_DB_NAME"},
			Value:   "scrollfeed",
		},
	}
}

func printDatabase(ctx *cli.Context) {
	fmt.Printf("Database configured: %s:%d/%s\n",
		ctx.String("db-host"),
		ctx.Int("db-port"),
		ctx.String("db-name"),
	)
}

func openDatabase(ctx *cli.Context) (*db.DB, error) {
	printDatabase(ctx)
	return db.NewDB(
		ctx.String("db-host"),
		ctx.Int("db-port"),
		ctx.String("db-user"),
		ctx.String("db-password"),
		ctx.String("db-name"),
	)
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Run database migrations",
		Description: `Creates the tables that hold read and saved marks, or brings them up to date.`,
		Flags:       databaseFlags(),
		Action: func(ctx *cli.Context) error {
			printDatabase(ctx)
			return db.Migrate(
				ctx.String("db-host"),
				ctx.Int("db-port"),
				ctx.String("db-user"),
				ctx.String("db-password"),
				ctx.String("db-name"),
			)
		},
	}
}

func rollbackCmd() *cli.Command {
	return &cli.Command{
		Name:        "rollback",
		Usage:       "Rollback database migration",
		Description: `Rolls back the last database migration`,
		Flags:       databaseFlags(),
		Action: func(ctx *cli.Context) error {
			printDatabase(ctx)
			return db.Rollback(
				ctx.String("db-host"),
				ctx.Int("db-port"),
				ctx.String("db-user"),
				ctx.String("db-password"),
				ctx.String("db-name"),
			)
		},
	}
}
