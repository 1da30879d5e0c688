package service

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	goversion "github.com/hashicorp/go-version"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/handler-worker/pkg/channel"
	"github.com/livekit/handler-worker/pkg/config"
	"github.com/livekit/handler-worker/pkg/rtc"
	"github.com/livekit/handler-worker/pkg/rtc/types"
	"github.com/livekit/handler-worker/pkg/telemetry/prometheus"
	"github.com/livekit/handler-worker/pkg/worker"
)

const versionParam = "version"

// WorkerService accepts orchestrator websocket connections; each connection
// gets its own Worker.
type WorkerService struct {
	conf        *config.Config
	engine      *rtc.Engine
	trackSource types.TrackSource
	upgrader    websocket.Upgrader
	minVersion  *goversion.Version

	ctx    context.Context
	cancel context.CancelFunc

	lock     sync.Mutex
	channels map[*channel.Channel]struct{}
	wg       sync.WaitGroup
}

func NewWorkerService(conf *config.Config, engine *rtc.Engine, trackSource types.TrackSource) (*WorkerService, error) {
	s := &WorkerService{
		conf:        conf,
		engine:      engine,
		trackSource: trackSource,
		upgrader:    websocket.Upgrader{},
		channels:    make(map[*channel.Channel]struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if conf.Worker.MinClientVersion != "" {
		v, err := goversion.NewVersion(conf.Worker.MinClientVersion)
		if err != nil {
			return nil, err
		}
		s.minVersion = v
	}

	if conf.Development {
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			// allow all in dev
			return true
		}
	}

	return s, nil
}

func (s *WorkerService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		handleError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}

	clientVersion := r.FormValue(versionParam)
	if s.minVersion != nil {
		v, err := goversion.NewVersion(clientVersion)
		if err != nil || v.LessThan(s.minVersion) {
			handleError(w, http.StatusBadRequest, "unsupported client version")
			return
		}
	}

	// upgrade only once the basics are good to go
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnw("could not upgrade to WS", err)
		return
	}

	connLogger := logger.GetLogger().WithValues("remote", r.RemoteAddr, "clientVersion", clientVersion)
	ch := channel.NewChannel(conn, connLogger, s.conf.Worker.MaxConcurrentRequests)

	wrk, err := worker.NewWorker(worker.Params{
		Engine:                 s.engine,
		TrackSource:            s.trackSource,
		Notifier:               ch,
		Logger:                 connLogger,
		BufferedAmountInterval: s.conf.Handler.BufferedAmountInterval,
		ClosedHandlerCacheSize: s.conf.Worker.ClosedHandlerCacheSize,
	})
	if err != nil {
		connLogger.Errorw("could not create worker", err)
		_ = ch.Close()
		return
	}

	if !s.track(ch) {
		_ = ch.Close()
		return
	}
	defer s.untrack(ch)

	prometheus.AddConnection()
	defer prometheus.SubConnection()

	connLogger.Infow("orchestrator connected")
	if err := ch.Serve(s.ctx, wrk); err != nil {
		connLogger.Warnw("error reading from websocket", err)
	}

	wrk.Close()
	_ = ch.Close()
	connLogger.Infow("orchestrator disconnected")
}

func (s *WorkerService) NumConnections() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.channels)
}

// Stop closes every connection and waits for their workers to shut down.
func (s *WorkerService) Stop() {
	s.cancel()

	s.lock.Lock()
	for ch := range s.channels {
		_ = ch.Close()
	}
	s.lock.Unlock()

	s.wg.Wait()
}

func (s *WorkerService) track(ch *channel.Channel) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.channels[ch] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *WorkerService) untrack(ch *channel.Channel) {
	s.lock.Lock()
	delete(s.channels, ch)
	s.lock.Unlock()
	s.wg.Done()
}

func handleError(w http.ResponseWriter, status int, msg string) {
	logger.Debugw("error handling request", "status", status, "message", msg)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}
