// Package gstpipe builds and supervises the GStreamer media graphs used by
// the portal capture backend. Builders only construct graphs; starting and
// stopping them is the process supervisor's job so lifecycle ownership
// stays in one place.
package gstpipe

import (
	"fmt"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/novarec/novarec/internal/logger"
)

// Config describes the capture graph to construct.
type Config struct {
	// OutputPath is where the recording sink writes the raw capture.
	// The container is always Matroska; finalization transcodes it to the
	// requested format afterwards.
	OutputPath string
	// FrameRate caps the captured frame rate. Zero means source-paced.
	FrameRate int
}

// x264enc speed-preset enum value for veryfast. Recording must keep up with
// the live stream, so encode speed wins over size here.
const x264PresetVeryfast = 3

// BuildFromFD constructs a capture graph reading from a portal-supplied
// file descriptor:
//
//	fdsrc -> decodebin -> videoconvert -> (rate) -> x264enc -> matroskamux -> filesink
//
// decodebin exposes its source pad only after sniffing the stream, so the
// link into videoconvert happens in a pad-added callback that is a no-op
// when the downstream pad is already linked.
func BuildFromFD(fd int, cfg Config) (*Pipeline, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("capture-fd")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	fdsrc, err := newElement("fdsrc")
	if err != nil {
		return nil, err
	}
	fdsrc.SetProperty("fd", fd)

	decode, err := newElement("decodebin")
	if err != nil {
		return nil, err
	}

	convert, err := newElement("videoconvert")
	if err != nil {
		return nil, err
	}

	tail, sinkChain, err := buildRecordingSink(cfg)
	if err != nil {
		return nil, err
	}

	elements := append([]*gst.Element{fdsrc, decode, convert}, sinkChain...)
	if err := pipeline.AddMany(elements...); err != nil {
		return nil, fmt.Errorf("failed to assemble pipeline: %w", err)
	}

	if err := fdsrc.Link(decode); err != nil {
		return nil, fmt.Errorf("failed to link fdsrc -> decodebin: %w", err)
	}
	if err := gst.ElementLinkMany(append([]*gst.Element{convert}, tail...)...); err != nil {
		return nil, fmt.Errorf("failed to link convert -> sink chain: %w", err)
	}

	connectDeferredLink(decode, convert)

	return &Pipeline{pipeline: pipeline}, nil
}

// BuildFromNode constructs a capture graph reading from a PipeWire node:
//
//	pipewiresrc -> videoconvert -> (rate) -> x264enc -> matroskamux -> filesink
func BuildFromNode(nodeID uint32, cfg Config) (*Pipeline, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("capture-node")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := newElement("pipewiresrc")
	if err != nil {
		return nil, err
	}
	src.SetProperty("path", fmt.Sprintf("%d", nodeID))
	src.SetProperty("do-timestamp", true)

	convert, err := newElement("videoconvert")
	if err != nil {
		return nil, err
	}

	tail, sinkChain, err := buildRecordingSink(cfg)
	if err != nil {
		return nil, err
	}

	elements := append([]*gst.Element{src, convert}, sinkChain...)
	if err := pipeline.AddMany(elements...); err != nil {
		return nil, fmt.Errorf("failed to assemble pipeline: %w", err)
	}

	if err := gst.ElementLinkMany(append([]*gst.Element{src, convert}, tail...)...); err != nil {
		return nil, fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	return &Pipeline{pipeline: pipeline}, nil
}

// buildRecordingSink creates the normalizing/encoding tail shared by both
// sources: queue -> (videorate+caps) -> x264enc -> matroskamux -> filesink.
// Returns the link order and the full element list to add.
func buildRecordingSink(cfg Config) (link []*gst.Element, all []*gst.Element, err error) {
	queue, err := newElement("queue")
	if err != nil {
		return nil, nil, err
	}

	var rate, caps *gst.Element
	if cfg.FrameRate > 0 {
		rate, err = newElement("videorate")
		if err != nil {
			return nil, nil, err
		}
		rate.SetProperty("drop-only", true)

		caps, err = newElement("capsfilter")
		if err != nil {
			return nil, nil, err
		}
		caps.SetProperty("caps", gst.NewCapsFromString(
			fmt.Sprintf("video/x-raw,framerate=%d/1", cfg.FrameRate),
		))
	}

	enc, err := newElement("x264enc")
	if err != nil {
		return nil, nil, err
	}
	enc.SetProperty("speed-preset", x264PresetVeryfast)

	mux, err := newElement("matroskamux")
	if err != nil {
		return nil, nil, err
	}

	sink, err := newElement("filesink")
	if err != nil {
		return nil, nil, err
	}
	sink.SetProperty("location", cfg.OutputPath)

	link = []*gst.Element{queue}
	if rate != nil {
		link = append(link, rate, caps)
	}
	link = append(link, enc, mux, sink)
	return link, link, nil
}

// connectDeferredLink links a dynamic-pad element into the downstream
// converter once its output pad appears. Idempotent: a second pad-added for
// an already linked sink pad is ignored.
func connectDeferredLink(decode, convert *gst.Element) {
	log := logger.WithComponent("gstpipe")
	decode.Connect("pad-added", func(self *gst.Element, pad *gst.Pad) {
		sinkPad := convert.GetStaticPad("sink")
		if sinkPad == nil {
			log.Error().Msg("videoconvert has no sink pad")
			return
		}
		if sinkPad.IsLinked() {
			return
		}
		if ret := pad.Link(sinkPad); ret != gst.PadLinkOK {
			log.Error().
				Str("pad", pad.GetName()).
				Str("result", fmt.Sprintf("%v", ret)).
				Msg("Failed to link demuxer pad")
			return
		}
		log.Debug().Str("pad", pad.GetName()).Msg("Linked demuxer pad")
	})
}

// newElement wraps element creation so a missing plugin surfaces the
// specific capability by name. This is the most common user-actionable
// failure in the capture path.
func newElement(name string) (*gst.Element, error) {
	el, err := gst.NewElement(name)
	if err != nil {
		return nil, fmt.Errorf("gstreamer element %q is not available (install the plugin that provides it): %w", name, err)
	}
	return el, nil
}
