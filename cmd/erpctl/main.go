package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/go-pkgz/lgr"
	flags "github.com/jessevdk/go-flags"

	"erp-rpc/config"
)

// Opts with all cli commands and flags
type Opts struct {
	ProbeCmd    ProbeCommand    `command:"probe" description:"check the ERP web server answers"`
	AuthCmd     AuthCommand     `command:"auth" description:"log in and print the session"`
	VersionCmd  VersionCommand  `command:"version" description:"print the ERP server version"`
	CallCmd     CallCommand     `command:"call" description:"run execute_kw with JSON args"`
	DiagCmd     DiagCommand     `command:"diag" description:"list or show stored response bodies"`
	RegisterCmd RegisterCommand `command:"register" description:"register an ERP instance in etcd"`
	ServeCmd    ServeCommand    `command:"serve" description:"run a fake ERP server"`

	ERP       config.Config    `group:"erp" namespace:"erp" env-namespace:"ODOO"`
	Discovery config.Discovery `group:"discovery" namespace:"discovery" env-namespace:"DISCOVERY"`

	Dbg bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var revision = "unknown"

func main() {
	fmt.Fprintf(os.Stderr, "erpctl %s\n", revision)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var opts Opts
	p := flags.NewParser(&opts, flags.Default)
	p.CommandHandler = func(command flags.Commander, args []string) error {
		setupLog(opts.Dbg)
		opts.ERP.Normalize()
		if err := opts.ERP.Validate(); err != nil {
			log.Printf("[ERROR] %v", err)
			return err
		}
		c := command.(commonOptionsCommander)
		c.SetCommon(CommonOpts{Ctx: ctx, Cfg: opts.ERP, Discovery: opts.Discovery, Out: os.Stdout})
		err := c.Execute(args)
		if err != nil {
			log.Printf("[ERROR] failed with %+v", err)
		}
		return err
	}

	if _, err := p.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

func setupLog(dbg bool) {
	if dbg {
		log.Setup(log.Debug, log.CallerFile, log.Msec, log.LevelBraces)
		return
	}
	log.Setup(log.Msec, log.LevelBraces, log.CallerPkg)
}
