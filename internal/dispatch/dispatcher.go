// Package dispatch decodes solver frames and routes each one to the
// component that owns its data.
package dispatch

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kartoza/solver-theatre/internal/protocol"
)

var (
	// ErrDecode is returned for frames that are not valid JSON of the expected shape.
	ErrDecode = errors.New("dispatch: frame decode failed")
	// ErrUnknownFrameType is returned for frames whose type is not recognised.
	ErrUnknownFrameType = errors.New("dispatch: unknown frame type")
	// ErrUnknownAlgorithm is returned for iteration or result frames naming an unknown algorithm.
	ErrUnknownAlgorithm = errors.New("dispatch: unknown algorithm")
)

// IterationSink receives per-iteration progress.
type IterationSink interface {
	AppendIteration(alg protocol.Algorithm, iteration int, value float64)
}

// ResultSink receives the final solution of one algorithm.
type ResultSink interface {
	WriteResult(alg protocol.Algorithm, solution [][]float64, value float64) error
}

// SweepSink receives a whole sweep table.
type SweepSink interface {
	ReplaceSweepTable(entries map[string]protocol.SweepMetrics) error
}

// Dispatcher routes frames to its sinks. A nil sink drops the frames it
// would have received.
type Dispatcher struct {
	Iterations IterationSink
	Results    ResultSink
	Sweeps     SweepSink
	Log        logrus.FieldLogger
}

// Dispatch decodes one frame and delivers it. Frames that fail to decode, or
// that name an unknown type or algorithm, leave every sink untouched.
func (d *Dispatcher) Dispatch(frame []byte) error {
	var env protocol.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return errors.Wrap(ErrDecode, err.Error())
	}

	switch env.Type {
	case protocol.FrameIteration:
		var f protocol.IterationFrame
		if err := json.Unmarshal(frame, &f); err != nil {
			return errors.Wrap(ErrDecode, err.Error())
		}
		if !f.Algorithm.Valid() {
			return errors.Wrapf(ErrUnknownAlgorithm, "%q", f.Algorithm)
		}
		if d.Iterations != nil {
			d.Iterations.AppendIteration(f.Algorithm, f.Iteration, f.CurrentBestValue)
		}
		return nil

	case protocol.FrameResult:
		var f protocol.ResultFrame
		if err := json.Unmarshal(frame, &f); err != nil {
			return errors.Wrap(ErrDecode, err.Error())
		}
		if !f.Algorithm.Valid() {
			return errors.Wrapf(ErrUnknownAlgorithm, "%q", f.Algorithm)
		}
		if d.Results == nil {
			return nil
		}
		return d.Results.WriteResult(f.Algorithm, f.Solution, f.Value)

	case protocol.FrameResults:
		var f protocol.ResultsFrame
		if err := json.Unmarshal(frame, &f); err != nil {
			return errors.Wrap(ErrDecode, err.Error())
		}
		if d.Sweeps == nil {
			return nil
		}
		return d.Sweeps.ReplaceSweepTable(f.Data)
	}

	return errors.Wrapf(ErrUnknownFrameType, "%q", env.Type)
}

// HandleFrame dispatches frame and logs any failure. Unknown frame types are
// expected noise and only logged at debug level. It matches the frame
// callback signature of a session.
func (d *Dispatcher) HandleFrame(frame []byte) {
	err := d.Dispatch(frame)
	if err == nil {
		return
	}
	entry := d.logger().WithError(err).WithField("frame_type", frameType(frame))
	if errors.Is(err, ErrUnknownFrameType) {
		entry.Debug("Dropping solver frame")
		return
	}
	entry.Warn("Dropping solver frame")
}

func (d *Dispatcher) logger() logrus.FieldLogger {
	if d.Log == nil {
		return logrus.StandardLogger()
	}
	return d.Log
}

func frameType(frame []byte) string {
	var env protocol.Envelope
	if json.Unmarshal(frame, &env) != nil {
		return ""
	}
	return env.Type
}
