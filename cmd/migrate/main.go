package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"courseflow/config"
	"courseflow/db"
	"courseflow/logging"
)

func main() {
	timeout := flag.Duration("timeout", time.Minute, "overall timeout")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-timeout d] up|down|status\n", os.Args[0])
	}
	flag.Parse()

	cfg, err := config.Load(".")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.Environment)

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2, ApplicationName: "courseflow-migrate"})
	if err != nil {
		log.Fatal().Err(err).Msg("connect")
	}
	defer pool.Close()

	switch cmd {
	case "up":
		err = db.Migrate(ctx, pool)
	case "down":
		err = db.Down(ctx, pool)
	case "status":
		var applied []string
		if applied, err = db.Applied(ctx, pool); err == nil {
			for _, name := range applied {
				fmt.Println(name)
			}
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", cmd).Msg("migration failed")
	}
	log.Info().Str("command", cmd).Msg("migration complete")
}
