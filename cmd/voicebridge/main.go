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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/livekit/protocol/logger"

	"github.com/veloxvoip/voicebridge/pkg/calllog/drivers"
	"github.com/veloxvoip/voicebridge/pkg/config"
	"github.com/veloxvoip/voicebridge/pkg/errors"
	"github.com/veloxvoip/voicebridge/pkg/models/realtime"
	"github.com/veloxvoip/voicebridge/pkg/service"
	"github.com/veloxvoip/voicebridge/pkg/stats"
	"github.com/veloxvoip/voicebridge/pkg/tools"
	"github.com/veloxvoip/voicebridge/pkg/voice"
	"github.com/veloxvoip/voicebridge/version"
)

func main() {
	cmd := &cli.Command{
		Name:        "voicebridge",
		Usage:       "Voice Bridge",
		Version:     version.Version,
		Description: "Bridges telephony media streams to a realtime conversational AI",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "voicebridge yaml config file",
				Sources: cli.EnvVars("VOICEBRIDGE_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "config-body",
				Usage:   "voicebridge yaml config body",
				Sources: cli.EnvVars("VOICEBRIDGE_CONFIG_BODY"),
			},
		},
		Action: runService,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runService(ctx context.Context, c *cli.Command) error {
	conf, err := getConfig(c, true)
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGTERM, syscall.SIGQUIT)

	killChan := make(chan os.Signal, 1)
	signal.Notify(killChan, syscall.SIGINT)

	mon, err := stats.NewMonitor(conf)
	if err != nil {
		return err
	}

	store, err := drivers.New(ctx, conf)
	if err != nil {
		return err
	}
	log.Infow("call log ready", "driver", conf.CallLog.Driver)

	toolReg := tools.NewRegistry(log.WithComponent("tools"), conf.Session.ToolTimeout)
	if n := tools.RegisterHosts(ctx, toolReg, conf.ToolHosts); n > 0 {
		log.Infow("registered business tools", "count", n, "tools", toolReg.Names())
	}

	registry := voice.NewRegistry(conf.RecentSessions.Size, conf.RecentSessions.TTL)
	newAI := realtime.NewCounterpartyFunc(&conf.Realtime)

	svc, err := service.NewService(conf, log, registry, store, toolReg, newAI, mon)
	if err != nil {
		_ = store.Close()
		return err
	}

	go func() {
		select {
		case sig := <-stopChan:
			log.Infow("exit requested, finishing all calls then shutting down", "signal", sig)
			svc.Stop(false)
		case sig := <-killChan:
			log.Infow("exit requested, ending all calls and shutting down", "signal", sig)
			svc.Stop(true)
		}
	}()

	return svc.Run()
}

func getConfig(c *cli.Command, initialize bool) (*config.Config, error) {
	configFile := c.String("config")
	configBody := c.String("config-body")
	if configBody == "" {
		if configFile == "" {
			return nil, errors.ErrNoConfig
		}
		content, err := os.ReadFile(configFile)
		if err != nil {
			return nil, err
		}
		configBody = string(content)
	}

	conf, err := config.NewConfig(configBody)
	if err != nil {
		return nil, err
	}

	if initialize {
		err = conf.Init()
		if err != nil {
			return nil, err
		}
	}

	return conf, nil
}
