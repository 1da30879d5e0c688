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

package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/urfave/negroni/v3"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/handler-worker/pkg/config"
)

type WorkerServer struct {
	config        *config.Config
	workerService *WorkerService
	httpServer    *http.Server
	promServer    *http.Server
	running       atomic.Bool
	doneChan      chan struct{}
	closedChan    chan struct{}
}

func NewWorkerServer(conf *config.Config, workerService *WorkerService) *WorkerServer {
	s := &WorkerServer{
		config:        conf,
		workerService: workerService,
		closedChan:    make(chan struct{}),
	}

	middlewares := []negroni.Handler{
		// always the first
		negroni.NewRecovery(),
		cors.New(cors.Options{
			AllowOriginFunc: func(origin string) bool {
				return true
			},
			AllowedHeaders: []string{"*"},
		}),
	}

	mux := http.NewServeMux()
	mux.Handle("/", workerService)
	mux.HandleFunc("/health", s.healthCheck)

	s.httpServer = &http.Server{
		Handler: configureMiddlewares(mux, middlewares...),
	}

	if conf.PrometheusPort > 0 {
		s.promServer = &http.Server{
			Handler: promhttp.Handler(),
		}
	}

	return s
}

func (s *WorkerServer) IsRunning() bool {
	return s.running.Load()
}

func (s *WorkerServer) Start() error {
	if s.running.Load() {
		return errors.New("already running")
	}
	s.doneChan = make(chan struct{})

	addresses := s.config.BindAddresses
	if addresses == nil {
		addresses = []string{""}
	}

	// ensure we could listen
	listeners := make([]net.Listener, 0)
	for _, addr := range addresses {
		ln, err := net.Listen("tcp", net.JoinHostPort(addr, strconv.Itoa(int(s.config.Port))))
		if err != nil {
			return err
		}
		listeners = append(listeners, ln)
	}

	var promListener net.Listener
	if s.promServer != nil {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.PrometheusPort))
		if err != nil {
			return err
		}
		promListener = ln
	}

	values := []interface{}{
		"portHttp", s.config.Port,
		"nodeIP", s.config.RTC.NodeIP,
	}
	if len(s.config.BindAddresses) > 0 {
		values = append(values, "bindAddresses", s.config.BindAddresses)
	}
	if promListener != nil {
		values = append(values, "portPrometheus", s.config.PrometheusPort)
	}
	logger.Infow("starting handler worker", values...)

	var eg errgroup.Group
	for _, ln := range listeners {
		ln := ln
		eg.Go(func() error {
			return s.httpServer.Serve(ln)
		})
	}
	if promListener != nil {
		eg.Go(func() error {
			return s.promServer.Serve(promListener)
		})
	}

	s.running.Store(true)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- eg.Wait()
	}()

	var err error
	select {
	case <-s.doneChan:
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	// wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	_ = s.httpServer.Shutdown(ctx)
	if s.promServer != nil {
		_ = s.promServer.Shutdown(ctx)
	}

	close(s.closedChan)
	return err
}

// Stop stops accepting connections. With force, live orchestrator
// connections are closed along with their handlers.
func (s *WorkerServer) Stop(force bool) {
	if !s.running.Swap(false) {
		return
	}

	if force {
		s.workerService.Stop()
	}
	close(s.doneChan)

	// wait for fully closed
	<-s.closedChan
}

func (s *WorkerServer) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func configureMiddlewares(handler http.Handler, middlewares ...negroni.Handler) *negroni.Negroni {
	n := negroni.New()
	for _, m := range middlewares {
		n.Use(m)
	}
	n.UseHandler(handler)
	return n
}
