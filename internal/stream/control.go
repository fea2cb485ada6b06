package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/pitchnet-go/internal/errors"
	"github.com/tphakala/pitchnet-go/internal/logger"
)

// Action names a control command.
type Action string

const (
	ActionSetModel       Action = "set_model"
	ActionSetChunkSize   Action = "set_chunk_size"
	ActionSetConfidence  Action = "set_confidence_threshold"
	ActionSetAmplitude   Action = "set_amplitude_threshold"
	ActionReset          Action = "reset"
	ActionSetDSPActive   Action = "set_dsp_active"
	ActionForceInference Action = "force_inference"
)

const (
	defaultControlQueueSize    = 16
	defaultAsyncCommandTimeout = 10 * time.Second
)

// Command is one control request. Only the fields relevant to Action are read.
type Command struct {
	Action Action  `json:"action"`
	Path   string  `json:"path,omitempty"`
	Size   int     `json:"size,omitempty"`
	Value  float64 `json:"value,omitempty"`
	Active bool    `json:"active,omitempty"`
}

// Reply is the outcome of a command.
type Reply struct {
	Action    Action `json:"action"`
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Triggered bool   `json:"triggered,omitempty"`
	Status    Status `json:"status"`
}

type request struct {
	ctx   context.Context
	cmd   Command
	reply chan commandResult
}

type commandResult struct {
	reply Reply
	err   error
}

// ControlQueue serializes control commands from any goroutine (HTTP handlers,
// the config watcher, the CLI) onto one monitor goroutine that applies them
// to the Controller. The audio thread is never involved.
type ControlQueue struct {
	ctrl     *Controller
	cmdChan  chan request
	quitChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	log      logger.Logger
}

// NewControlQueue creates a queue for ctrl. size <= 0 uses a default.
func NewControlQueue(ctrl *Controller, size int) *ControlQueue {
	if size <= 0 {
		size = defaultControlQueueSize
	}
	return &ControlQueue{
		ctrl:     ctrl,
		cmdChan:  make(chan request, size),
		quitChan: make(chan struct{}),
		log:      GetLogger().Module("control"),
	}
}

// Start launches the monitor goroutine.
func (q *ControlQueue) Start() {
	q.wg.Go(q.monitor)
}

// Stop ends the monitor goroutine. Pending commands are answered with an
// error.
func (q *ControlQueue) Stop() {
	q.stopOnce.Do(func() {
		close(q.quitChan)
		q.wg.Wait()
		for {
			select {
			case req := <-q.cmdChan:
				req.reply <- commandResult{err: errQueueStopped()}
			default:
				return
			}
		}
	})
}

// Submit enqueues cmd and waits for its reply.
func (q *ControlQueue) Submit(ctx context.Context, cmd Command) (Reply, error) {
	if q.stopped() {
		return Reply{}, errQueueStopped()
	}
	req := request{ctx: ctx, cmd: cmd, reply: make(chan commandResult, 1)}
	select {
	case <-q.quitChan:
		return Reply{}, errQueueStopped()
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	case q.cmdChan <- req:
	}
	select {
	case res := <-req.reply:
		return res.reply, res.err
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Post enqueues cmd without waiting. It reports false when the queue is full
// or stopped.
func (q *ControlQueue) Post(cmd Command) bool {
	if q.stopped() {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultAsyncCommandTimeout)
	req := request{ctx: ctx, cmd: cmd, reply: make(chan commandResult, 1)}
	select {
	case <-q.quitChan:
		cancel()
		return false
	case q.cmdChan <- req:
	default:
		cancel()
		q.log.Warn("control queue full, dropping command", logger.String("action", string(cmd.Action)))
		return false
	}
	go func() {
		defer cancel()
		select {
		case <-req.reply:
		case <-q.quitChan:
		}
	}()
	return true
}

func (q *ControlQueue) stopped() bool {
	select {
	case <-q.quitChan:
		return true
	default:
		return false
	}
}

func (q *ControlQueue) monitor() {
	for {
		select {
		case req := <-q.cmdChan:
			reply, err := q.handleCommand(req.ctx, req.cmd)
			if err != nil {
				q.notifyError(req.cmd, err)
			} else {
				q.notifySuccess(req.cmd, reply.Message)
			}
			req.reply <- commandResult{reply: reply, err: err}
		case <-q.quitChan:
			return
		}
	}
}

func (q *ControlQueue) handleCommand(ctx context.Context, cmd Command) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{Action: cmd.Action}, err
	}
	reply := Reply{Action: cmd.Action}
	var err error

	switch cmd.Action {
	case ActionSetModel:
		if cmd.Path == "" {
			err = errors.ValidationError("model path is required")
			break
		}
		info, e := q.ctrl.SetModel(ctx, cmd.Path)
		err = e
		reply.Message = "model set to " + info.Name
	case ActionSetChunkSize:
		info, e := q.ctrl.SetChunkSize(ctx, cmd.Size)
		err = e
		reply.Message = fmt.Sprintf("chunk size set to %d using %s", info.ChunkSize, info.Name)
	case ActionSetConfidence:
		v := q.ctrl.SetConfidenceThreshold(float32(cmd.Value))
		reply.Message = fmt.Sprintf("confidence threshold set to %.3f", v)
	case ActionSetAmplitude:
		v := q.ctrl.SetAmplitudeThreshold(float32(cmd.Value))
		reply.Message = fmt.Sprintf("amplitude threshold set to %.3f", v)
	case ActionReset:
		err = q.ctrl.Reset(ctx)
		reply.Message = "model state reset"
	case ActionSetDSPActive:
		err = q.ctrl.SetDSPActive(ctx, cmd.Active)
		reply.Message = fmt.Sprintf("dsp active: %t", cmd.Active)
	case ActionForceInference:
		reply.Triggered = q.ctrl.ForceInference()
		reply.Message = "inference requested"
	default:
		err = errors.Newf("unknown control action %q", cmd.Action).
			Component("stream").
			Category(errors.CategoryValidation).
			Build()
	}

	reply.Success = err == nil
	if err != nil {
		reply.Message = ""
	}
	reply.Status = q.ctrl.Status()
	return reply, err
}

func (q *ControlQueue) notifySuccess(cmd Command, message string) {
	q.log.Info("control command applied",
		logger.String("action", string(cmd.Action)),
		logger.String("result", message))
}

func (q *ControlQueue) notifyError(cmd Command, err error) {
	q.log.Error("control command failed",
		logger.String("action", string(cmd.Action)),
		logger.Error(err))
}

func errQueueStopped() error {
	return errors.Newf("control queue stopped").
		Component("stream").
		Category(errors.CategoryState).
		Build()
}
