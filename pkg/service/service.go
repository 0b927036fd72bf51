// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package service

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frostbyte73/core"
	"github.com/gorilla/websocket"

	"github.com/livekit/protocol/logger"

	"github.com/veloxvoip/voicebridge/pkg/calllog"
	"github.com/veloxvoip/voicebridge/pkg/config"
	"github.com/veloxvoip/voicebridge/pkg/ipvalidator"
	"github.com/veloxvoip/voicebridge/pkg/models"
	"github.com/veloxvoip/voicebridge/pkg/stats"
	"github.com/veloxvoip/voicebridge/pkg/tools"
	"github.com/veloxvoip/voicebridge/pkg/voice"
	"github.com/veloxvoip/voicebridge/version"
)

const (
	streamStartTimeout = 10 * time.Second
	serverStopTimeout  = 5 * time.Second
)

type Service struct {
	conf *config.Config
	log  logger.Logger

	registry *voice.Registry
	store    calllog.Store
	tools    *tools.Registry
	newAI    models.GetCounterpartyFunc

	streamAllow *ipvalidator.Allowlist
	adminAllow  *ipvalidator.Allowlist
	upgrader    websocket.Upgrader

	httpServer   *http.Server
	promServer   *http.Server
	pprofServer  *http.Server
	healthServer *http.Server

	mon      *stats.Monitor
	calls    sync.WaitGroup
	shutdown core.Fuse
	killed   atomic.Bool
}

func NewService(
	conf *config.Config, log logger.Logger, registry *voice.Registry, store calllog.Store,
	toolReg *tools.Registry, newAI models.GetCounterpartyFunc, mon *stats.Monitor,
) (*Service, error) {
	streamAllow, err := ipvalidator.New(conf.Telephony.AllowedIPs)
	if err != nil {
		return nil, fmt.Errorf("telephony allowed_ips: %w", err)
	}
	adminAllow, err := ipvalidator.New(conf.Admin.AllowedIPs)
	if err != nil {
		return nil, fmt.Errorf("admin allowed_ips: %w", err)
	}

	s := &Service{
		conf: conf,
		log:  log,

		registry: registry,
		store:    store,
		tools:    toolReg,
		newAI:    newAI,

		streamAllow: streamAllow,
		adminAllow:  adminAllow,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},

		mon: mon,
	}
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", conf.HTTPPort),
		Handler: s.Handler(),
	}
	if conf.PrometheusPort > 0 {
		s.promServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", conf.PrometheusPort),
			Handler: mon.Handler(),
		}
	}
	if conf.PProfPort > 0 {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		s.pprofServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", conf.PProfPort),
			Handler: mux,
		}
	}
	if conf.HealthPort > 0 {
		mux := http.NewServeMux()
		mux.HandleFunc("/", s.handleHealth)
		s.healthServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", conf.HealthPort),
			Handler: mux,
		}
	}
	return s, nil
}

// Handler serves the media stream endpoint and, when a token is configured, the admin API.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.conf.Telephony.StreamPath, s.handleMediaStream)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.conf.Admin.Token != "" {
		mux.Handle("/admin/", s.adminHandler())
	} else {
		s.log.Infow("admin api disabled, no token configured")
	}
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.Health()
	var code int
	switch st {
	case stats.HealthOK:
		code = http.StatusOK
	case stats.HealthUnderLoad:
		code = http.StatusTooManyRequests
	default:
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(st.String()))
}

func (s *Service) Stop(kill bool) {
	s.mon.Shutdown()
	s.shutdown.Break()
	s.killed.Store(kill)
}

func (s *Service) Run() error {
	s.log.Debugw("starting service", "version", version.Version)

	for _, srv := range []*http.Server{s.httpServer, s.promServer, s.pprofServer, s.healthServer} {
		if srv == nil {
			continue
		}
		l, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			return err
		}
		defer l.Close()
		go func(srv *http.Server) {
			_ = srv.Serve(l)
		}(srv)
	}

	s.log.Infow("service ready",
		"port", s.conf.HTTPPort,
		"streamPath", s.conf.Telephony.StreamPath,
		"streamAllowlist", s.streamAllow.Prefixes(),
		"tools", s.tools.Names(),
	)

	<-s.shutdown.Watch()
	s.log.Infow("shutting down")

	if !s.killed.Load() {
		shutdownTicker := time.NewTicker(5 * time.Second)
		defer shutdownTicker.Stop()

		for !s.killed.Load() {
			n := s.registry.Len()
			if n == 0 {
				break
			}
			s.log.Infow("waiting for calls to finish",
				"active", n,
				"sample", s.registry.Sample(10),
			)
			<-shutdownTicker.C
		}
	}

	s.registry.CloseAll()
	s.calls.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
	defer cancel()
	for _, srv := range []*http.Server{s.httpServer, s.promServer, s.pprofServer, s.healthServer} {
		if srv != nil {
			_ = srv.Shutdown(ctx)
		}
	}
	return s.store.Close()
}

func (s *Service) Health() stats.HealthStatus {
	return s.mon.Health()
}
