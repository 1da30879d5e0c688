package utils

import (
	"sync"

	"github.com/gammazero/deque"

	"github.com/livekit/protocol/logger"
)

// OpsQueue runs enqueued operations one at a time, in order, on its own goroutine.
// The queue is unbounded; Stop runs whatever is already queued and then exits.
type OpsQueue struct {
	logger logger.Logger
	name   string

	lock      sync.Mutex
	ops       *deque.Deque[func()]
	wake      chan struct{}
	isStarted bool
	isStopped bool
	done      chan struct{}
}

func NewOpsQueue(logger logger.Logger, name string) *OpsQueue {
	return &OpsQueue{
		logger: logger,
		name:   name,
		ops:    deque.New[func()](),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (oq *OpsQueue) SetLogger(logger logger.Logger) {
	oq.logger = logger
}

func (oq *OpsQueue) Start() {
	oq.lock.Lock()
	if oq.isStarted || oq.isStopped {
		oq.lock.Unlock()
		return
	}
	oq.isStarted = true
	oq.lock.Unlock()

	go oq.process()
}

// Stop rejects further operations. It does not wait for queued ones, use Done for that.
func (oq *OpsQueue) Stop() {
	oq.lock.Lock()
	if oq.isStopped {
		oq.lock.Unlock()
		return
	}
	oq.isStopped = true
	started := oq.isStarted
	oq.lock.Unlock()

	if started {
		oq.signal()
	} else {
		close(oq.done)
	}
}

func (oq *OpsQueue) Done() <-chan struct{} {
	return oq.done
}

// Enqueue returns false when the queue has been stopped
func (oq *OpsQueue) Enqueue(op func()) bool {
	oq.lock.Lock()
	if oq.isStopped {
		oq.lock.Unlock()
		oq.logger.Debugw("dropping op on stopped queue", "name", oq.name)
		return false
	}
	oq.ops.PushBack(op)
	oq.lock.Unlock()

	oq.signal()
	return true
}

func (oq *OpsQueue) Len() int {
	oq.lock.Lock()
	defer oq.lock.Unlock()
	return oq.ops.Len()
}

func (oq *OpsQueue) signal() {
	select {
	case oq.wake <- struct{}{}:
	default:
	}
}

func (oq *OpsQueue) process() {
	defer close(oq.done)

	for {
		<-oq.wake
		for {
			oq.lock.Lock()
			if oq.ops.Len() == 0 {
				stopped := oq.isStopped
				oq.lock.Unlock()
				if stopped {
					return
				}
				break
			}
			op := oq.ops.PopFront()
			oq.lock.Unlock()

			op()
		}
	}
}
