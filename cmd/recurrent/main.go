package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"recurrent/internal/app"
)

func main() {
	var (
		cfgPath string
		every   string
		name    string
		system  string
	)
	flag.StringVar(&cfgPath, "config", "", "path to config (json or yaml)")
	flag.StringVar(&every, "every", "", "frequency of the ad-hoc -system task (e.g. 30s, 1h, @daily)")
	flag.StringVar(&name, "name", "system", "name of the ad-hoc task")
	flag.StringVar(&system, "system", "", "shell command to run every -every")
	flag.Parse()

	opt := app.Options{ConfigPath: cfgPath}
	if system != "" || every != "" {
		opt.Adhoc = &app.AdhocTask{Name: name, Every: every, Command: system}
	}
	if opt.ConfigPath == "" && opt.Adhoc == nil {
		fmt.Fprintln(os.Stderr, "fatal: need -config or -every with -system")
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	a, err := app.New(opt)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
