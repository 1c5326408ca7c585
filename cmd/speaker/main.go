/*
 * A programmable BGP-4 speaker. Copyright (C) 2021-present David Coles
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation; either version 2 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License along
 * with this program; if not, write to the Free Software Foundation, Inc.,
 * 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.
 */

package main

import (
	"fmt"
	"os"

	"github.com/pborman/getopt"
	log "github.com/sirupsen/logrus"

	"github.com/davidcoles/speaker/config"
	"github.com/davidcoles/speaker/reactor"
)

func main() {
	socket := getopt.StringLong("socket", 's', "", "CLI control socket path")
	level := getopt.StringLong("log-level", 'l', "", "log level (debug, info, warn, error)")
	noapi := getopt.BoolLong("no-api", 'n', "disable the helper command channel on stdin")
	help := getopt.BoolLong("help", 'h', "display help")
	getopt.SetParameters("<configuration>")
	getopt.Parse()

	if *help || getopt.NArgs() != 1 {
		getopt.Usage()
		os.Exit(1)
	}

	env := config.Environment()

	if *level == "" {
		*level = env.LogLevel
	}

	if l, err := log.ParseLevel(*level); err == nil {
		log.SetLevel(l)
	}

	switch env.LogDestination {
	case "stderr", "":
		log.SetOutput(os.Stderr)
	case "stdout":
		log.SetOutput(os.Stdout)
	default:
		f, err := os.OpenFile(env.LogDestination, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	path := getopt.Arg(0)

	conf, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var api *reactor.API
	if *noapi {
		api = reactor.NewAPI(os.Stdout, nil, env.APIEncoder, false)
	} else {
		api = reactor.NewAPI(os.Stdout, os.Stdin, env.APIEncoder, env.APIAck)
	}

	r := reactor.New(path, conf, env)

	if err := r.Run(api, *socket); err != nil {
		log.WithError(err).Error("fatal")
		os.Exit(1)
	}
}
