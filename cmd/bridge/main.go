package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/brutella/hc/log"
	"github.com/urfave/cli/v2"

	"github.com/cloudkucooland/dingzfar"
	"github.com/cloudkucooland/dingzfar/config"
)

func main() {
	var dir, file string
	var debug bool

	app := cli.App{
		Name:  "dingzfar",
		Usage: "HomeKit bridge for dingz and myStrom devices",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "dir",
				Value:       "config",
				Usage:       "configuration directory",
				Destination: &dir,
			},
			&cli.StringFlag{
				Name:        "config",
				Value:       "server.json",
				Usage:       "configuration file, .json or .yaml",
				Destination: &file,
			},
			&cli.BoolFlag{
				Name:        "debug",
				Usage:       "verbose logging",
				Destination: &debug,
			},
		},
		Action: func(c *cli.Context) error {
			if debug {
				log.Debug.Enable()
			}

			conf, err := config.Load(filepath.Join(dir, file))
			if err != nil {
				return err
			}
			if err := conf.Validate(); err != nil {
				return err
			}

			d, err := dingzfar.Bootstrap(conf)
			if err != nil {
				return err
			}
			if err := d.Run(); err != nil {
				d.Shutdown()
				return err
			}

			sigch := make(chan os.Signal, 3)
			signal.Notify(sigch, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM, os.Interrupt)

			// SIGHUP opens a new discovery session
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)

			for {
				select {
				case <-hup:
					if err := d.StartDiscovery(); err != nil {
						log.Info.Printf("discovery: %s", err.Error())
					}
				case sig := <-sigch:
					log.Info.Printf("shutdown requested by signal: %s", sig)
					d.Shutdown()
					return nil
				}
			}
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Info.Panic(err)
	}
}
