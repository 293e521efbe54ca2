package headless

import (
	"errors"

	"github.com/spaghettifunk/hybridrt/engine/gpu"
)

type CommandKind int

const (
	CmdBarrier CommandKind = iota
	CmdBeginRendering
	CmdEndRendering
	CmdBindPipeline
	CmdBind
	CmdPushConstants
	CmdBindVertexBuffer
	CmdBindIndexBuffer
	CmdDraw
	CmdDrawIndexed
	CmdClearColor
	CmdBlit
	CmdCopyBuffer
	CmdBuildAS
	CmdTraceRays
)

// Command is one recorded call. Only the fields of its kind are set.
type Command struct {
	Kind CommandKind

	Memory []gpu.MemoryBarrier
	Images []gpu.ImageBarrier

	Rendering gpu.RenderingInfo
	Pipeline  gpu.Pipeline
	Bindings  []gpu.Binding
	Data      []byte

	Buffer gpu.Buffer
	Offset int64
	Count  uint32
	First  uint32

	Src, Dst gpu.Image
	Value    [4]float32

	SrcBuffer, DstBuffer gpu.Buffer
	SrcOffset, DstOffset int64
	Size                 int64

	Builds []gpu.ASBuildInfo
	Trace  gpu.TraceRaysInfo
}

type streamState int

const (
	streamInitial streamState = iota
	streamRecording
	streamEnded
)

// Stream records commands for later replay by Device.Submit.
type Stream struct {
	queue    gpu.Queue
	state    streamState
	err      error
	commands []Command
}

var (
	errNotRecording = errors.New("command recorded outside Begin/End")
)

func (s *Stream) Queue() gpu.Queue { return s.queue }

// Commands returns what was recorded since the last Begin.
func (s *Stream) Commands() []Command { return s.commands }

func (s *Stream) Begin() error {
	if s.state == streamRecording {
		return errors.New("stream already recording")
	}
	s.state = streamRecording
	s.err = nil
	s.commands = s.commands[:0]
	return nil
}

func (s *Stream) End() error {
	if s.state != streamRecording {
		return errNotRecording
	}
	s.state = streamEnded
	return s.err
}

func (s *Stream) record(c Command) {
	if s.state != streamRecording {
		if s.err == nil {
			s.err = errNotRecording
		}
		return
	}
	s.commands = append(s.commands, c)
}

func (s *Stream) Barrier(memory []gpu.MemoryBarrier, images []gpu.ImageBarrier) {
	if len(memory) == 0 && len(images) == 0 {
		return
	}
	s.record(Command{
		Kind:   CmdBarrier,
		Memory: append([]gpu.MemoryBarrier(nil), memory...),
		Images: append([]gpu.ImageBarrier(nil), images...),
	})
}

func (s *Stream) BeginRendering(info gpu.RenderingInfo) {
	s.record(Command{Kind: CmdBeginRendering, Rendering: info})
}

func (s *Stream) EndRendering() {
	s.record(Command{Kind: CmdEndRendering})
}

func (s *Stream) BindPipeline(p gpu.Pipeline) {
	s.record(Command{Kind: CmdBindPipeline, Pipeline: p})
}

func (s *Stream) Bind(bindings []gpu.Binding) {
	s.record(Command{Kind: CmdBind, Bindings: append([]gpu.Binding(nil), bindings...)})
}

func (s *Stream) PushConstants(data []byte) {
	s.record(Command{Kind: CmdPushConstants, Data: append([]byte(nil), data...)})
}

func (s *Stream) BindVertexBuffer(b gpu.Buffer, offset int64) {
	s.record(Command{Kind: CmdBindVertexBuffer, Buffer: b, Offset: offset})
}

func (s *Stream) BindIndexBuffer(b gpu.Buffer, offset int64) {
	s.record(Command{Kind: CmdBindIndexBuffer, Buffer: b, Offset: offset})
}

func (s *Stream) Draw(vertexCount, instanceCount uint32) {
	s.record(Command{Kind: CmdDraw, Count: vertexCount, First: instanceCount})
}

func (s *Stream) DrawIndexed(indexCount, firstIndex uint32, vertexOffset int32) {
	s.record(Command{Kind: CmdDrawIndexed, Count: indexCount, First: firstIndex, Offset: int64(vertexOffset)})
}

func (s *Stream) ClearColor(img gpu.Image, value [4]float32) {
	s.record(Command{Kind: CmdClearColor, Dst: img, Value: value})
}

func (s *Stream) Blit(src, dst gpu.Image) {
	s.record(Command{Kind: CmdBlit, Src: src, Dst: dst})
}

func (s *Stream) CopyBuffer(src, dst gpu.Buffer, srcOffset, dstOffset, size int64) {
	s.record(Command{Kind: CmdCopyBuffer, SrcBuffer: src, DstBuffer: dst, SrcOffset: srcOffset, DstOffset: dstOffset, Size: size})
}

func (s *Stream) BuildAccelerationStructures(infos []gpu.ASBuildInfo) {
	builds := make([]gpu.ASBuildInfo, len(infos))
	copy(builds, infos)
	s.record(Command{Kind: CmdBuildAS, Builds: builds})
}

func (s *Stream) TraceRays(info gpu.TraceRaysInfo) {
	s.record(Command{Kind: CmdTraceRays, Trace: info})
}
