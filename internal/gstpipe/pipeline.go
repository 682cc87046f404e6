package gstpipe

import (
	"fmt"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/novarec/novarec/internal/logger"
)

// Pipeline wraps a constructed capture graph. Builders return it in the
// NULL state; Play and Stop drive its lifecycle.
type Pipeline struct {
	pipeline *gst.Pipeline

	mu      sync.Mutex
	playing bool
	stopMon chan struct{}
	errs    chan error
}

// Play transitions the graph to PLAYING and starts the bus monitor.
func (p *Pipeline) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.playing {
		return fmt.Errorf("pipeline already playing")
	}
	if err := p.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to set pipeline to playing: %w", err)
	}
	p.playing = true
	p.stopMon = make(chan struct{})
	p.errs = make(chan error, 1)
	go p.monitorBus(p.stopMon, p.errs)
	return nil
}

// Errors exposes asynchronous pipeline failures observed on the bus.
// Nil until Play has been called.
func (p *Pipeline) Errors() <-chan error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errs
}

// Stop sends EOS so the muxer finalizes its container, then transitions the
// graph to NULL and releases the bus watch. Idempotent.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return nil
	}
	p.playing = false
	close(p.stopMon)
	p.mu.Unlock()

	log := logger.WithComponent("gstpipe")

	// EOS lets matroskamux write its cues/index before teardown.
	p.pipeline.SendEvent(gst.NewEOSEvent())
	bus := p.pipeline.GetPipelineBus()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		msg := bus.TimedPop(100 * time.Millisecond)
		if msg == nil {
			continue
		}
		if msg.Type() == gst.MessageEOS {
			break
		}
	}

	if err := p.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to null: %w", err)
	}
	log.Info().Msg("Capture pipeline stopped")
	return nil
}

// monitorBus polls bus messages until stopped, forwarding the first error.
// Closes errs on return so watchers do not outlive the pipeline.
func (p *Pipeline) monitorBus(stop <-chan struct{}, errs chan error) {
	defer close(errs)

	log := logger.WithComponent("gstpipe")
	bus := p.pipeline.GetPipelineBus()

	for {
		select {
		case <-stop:
			return
		default:
			msg := bus.TimedPop(50 * time.Millisecond)
			if msg == nil {
				continue
			}
			switch msg.Type() {
			case gst.MessageEOS:
				log.Debug().Msg("End of stream on capture pipeline")
				return
			case gst.MessageError:
				gerr := msg.ParseError()
				log.Error().
					Str("error", gerr.Error()).
					Str("debug", gerr.DebugString()).
					Msg("Capture pipeline error")
				select {
				case errs <- fmt.Errorf("pipeline error: %s", gerr.Error()):
				default:
				}
				return
			case gst.MessageStateChanged:
				if msg.Source() == p.pipeline.GetName() {
					old, next := msg.ParseStateChanged()
					log.Debug().
						Str("from", old.String()).
						Str("to", next.String()).
						Msg("Pipeline state changed")
				}
			}
		}
	}
}
