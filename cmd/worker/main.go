// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/handler-worker/pkg/config"
	"github.com/livekit/handler-worker/pkg/rtc"
	"github.com/livekit/handler-worker/pkg/service"
	"github.com/livekit/handler-worker/pkg/telemetry/prometheus"
	"github.com/livekit/handler-worker/pkg/utils"
	"github.com/livekit/handler-worker/version"
)

var baseFlags = []cli.Flag{
	&cli.StringSliceFlag{
		Name:  "bind",
		Usage: "IP address to listen on, use flag multiple times to specify multiple addresses",
	},
	&cli.StringFlag{
		Name:  "config",
		Usage: "path to handler worker config file",
	},
	&cli.StringFlag{
		Name:    "config-body",
		Usage:   "handler worker config in YAML, typically passed in as an environment var in a container",
		EnvVars: []string{"HANDLER_WORKER_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "node-ip",
		Usage:   "IP address of the current node, advertised in ICE candidates",
		EnvVars: []string{"NODE_IP"},
	},
	&cli.BoolFlag{
		Name:  "dev",
		Usage: "sets log-level to debug and allows websocket connections from any origin. insecure for production",
	},
	&cli.BoolFlag{
		Name:   "disable-strict-config",
		Usage:  "disables strict config parsing",
		Hidden: true,
	},
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			utils.LogPanic(logger.GetLogger(), r)
			os.Exit(1)
		}
	}()

	generatedFlags, err := config.GenerateCLIFlags(baseFlags, true)
	if err != nil {
		fmt.Println(err)
	}

	app := &cli.App{
		Name:        "handler-worker",
		Usage:       "WebRTC session handlers driven by an orchestrator",
		Description: "run without subcommands to start the worker",
		Flags:       append(baseFlags, generatedFlags...),
		Action:      startWorker,
		Commands: []*cli.Command{
			{
				Name:   "dump",
				Usage:  "print the handlers of a running worker",
				Action: dumpWorker,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "url",
						Usage: "websocket url of the worker",
						Value: "ws://localhost:7890",
					},
				},
			},
			{
				Name:   "ports",
				Usage:  "print ports that the worker is configured to use",
				Action: printPorts,
			},
			{
				Name:   "help-verbose",
				Usage:  "prints app help, including all generated configuration flags",
				Action: helpVerbose,
			},
		},
		Version: version.Version,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
	}
}

func getConfig(c *cli.Context) (*config.Config, error) {
	confString, err := config.GetConfigString(c.String("config"), c.String("config-body"))
	if err != nil {
		return nil, err
	}

	strictMode := true
	if c.Bool("disable-strict-config") {
		strictMode = false
	}

	conf, err := config.NewConfig(confString, strictMode, c, baseFlags)
	if err != nil {
		return nil, err
	}
	config.InitLoggerFromConfig(&conf.Logging)

	if c.String("config") == "" && c.String("config-body") == "" && conf.Development {
		logger.Infow("starting in development mode")
		// when dev mode and no config, bind to localhost by default
		if conf.BindAddresses == nil {
			conf.BindAddresses = []string{
				"127.0.0.1",
				"::1",
			}
		}
	}
	return conf, nil
}

func startWorker(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	if err := conf.ResolveNodeIP(c.Context); err != nil {
		return err
	}

	rtcConf, err := rtc.NewWebRTCConfig(&conf.RTC)
	if err != nil {
		return err
	}
	engine, err := rtc.NewEngine(rtcConf, logger.GetLogger())
	if err != nil {
		return err
	}

	nodeID := conf.RTC.NodeIP
	if nodeID == "" {
		nodeID, _ = os.Hostname()
	}
	prometheus.Init(nodeID)

	workerService, err := service.NewWorkerService(conf, engine, rtc.NewStaticTrackSource())
	if err != nil {
		return err
	}
	server := service.NewWorkerServer(conf, workerService)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigChan
		logger.Infow("exit requested, shutting down", "signal", sig)
		server.Stop(true)
	}()

	return server.Start()
}
