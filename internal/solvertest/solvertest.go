// Package solvertest provides an in-process solver that speaks the solver's
// WebSocket protocol, for tests of the packages that talk to it.
package solvertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kartoza/solver-theatre/internal/protocol"
)

// Replier returns the frames to send back for one request received on path.
type Replier func(path string, request []byte) []interface{}

// Server is a fake solver.
type Server struct {
	*httptest.Server

	reply    Replier
	upgrader websocket.Upgrader

	mu       sync.Mutex
	requests map[string][][]byte
	conns    map[*websocket.Conn]struct{}
}

// NewServer starts a fake solver. A nil reply uses Reply.
func NewServer(reply Replier) *Server {
	if reply == nil {
		reply = Reply
	}
	s := &Server{
		reply:    reply,
		requests: map[string][][]byte{},
		conns:    map[*websocket.Conn]struct{}{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// BaseURL returns the ws:// base URL endpoints are joined onto.
func (s *Server) BaseURL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

// Requests returns the raw requests received on path.
func (s *Server) Requests(path string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.requests[path]...)
}

// DropConnections closes every open client connection.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// Close drops all connections and stops the server.
func (s *Server) Close() {
	s.DropConnections()
	s.Server.Close()
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.requests[r.URL.Path] = append(s.requests[r.URL.Path], data)
		s.mu.Unlock()

		for _, frame := range s.reply(r.URL.Path, data) {
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
	}
}

// Reply answers solve requests with three iterations per algorithm and a
// result of the requested shape, and sweep requests with one table row per
// variant.
func Reply(path string, request []byte) []interface{} {
	switch path {
	case protocol.EndpointSolve:
		var req protocol.SolveRequest
		if json.Unmarshal(request, &req) != nil {
			return nil
		}
		return SolveFrames(req.M, req.N)
	case protocol.ExperimentKmax.Endpoint():
		var req protocol.KmaxSweepRequest
		if json.Unmarshal(request, &req) != nil {
			return nil
		}
		keys := make([]string, 0, len(req.KmaxVariants))
		for _, v := range req.KmaxVariants {
			keys = append(keys, strconv.Itoa(v.Kmax))
		}
		return []interface{}{ResultsFrame(keys)}
	case protocol.ExperimentBeta.Endpoint():
		var req protocol.BetaSweepRequest
		if json.Unmarshal(request, &req) != nil {
			return nil
		}
		keys := make([]string, 0, len(req.BetaVariants))
		for _, v := range req.BetaVariants {
			keys = append(keys, strconv.FormatFloat(v.Beta, 'f', -1, 64))
		}
		return []interface{}{ResultsFrame(keys)}
	case protocol.ExperimentSize.Endpoint():
		var req protocol.SizeSweepRequest
		if json.Unmarshal(request, &req) != nil {
			return nil
		}
		keys := make([]string, 0, len(req.MNVariants))
		for _, v := range req.MNVariants {
			keys = append(keys, fmt.Sprintf("%dx%d", v.M, v.N))
		}
		return []interface{}{ResultsFrame(keys)}
	}
	return nil
}

// SolveFrames returns the frames of one solve run on an m×n problem.
func SolveFrames(m, n int) []interface{} {
	var frames []interface{}
	for k := 1; k <= 3; k++ {
		for _, alg := range protocol.Algorithms {
			value := float64(100 + 10*k)
			if alg == protocol.AntColony {
				value += 5
			}
			frames = append(frames, protocol.IterationFrame{
				Type:             protocol.FrameIteration,
				Algorithm:        alg,
				Iteration:        k,
				CurrentBestValue: value,
			})
		}
	}
	for _, alg := range protocol.Algorithms {
		solution := make([][]float64, m)
		for i := range solution {
			solution[i] = make([]float64, n)
			for j := range solution[i] {
				solution[i][j] = float64(i + j)
			}
		}
		value := 130.0
		if alg == protocol.AntColony {
			value = 135
		}
		frames = append(frames, protocol.ResultFrame{
			Type:      protocol.FrameResult,
			Algorithm: alg,
			Solution:  solution,
			Value:     value,
		})
	}
	return frames
}

// ResultsFrame returns a sweep table with one entry per key. Metrics grow
// with the key's position so ordering is observable.
func ResultsFrame(keys []string) protocol.ResultsFrame {
	data := make(map[string]protocol.SweepMetrics, len(keys))
	for i, key := range keys {
		prob := float64(100 * (i + 1))
		ant := prob * 1.1
		data[key] = protocol.SweepMetrics{
			Prob:               protocol.AlgorithmMetrics{AvgValue: prob, AvgTime: 0.01 * float64(i+1)},
			Ant:                protocol.AlgorithmMetrics{AvgValue: ant, AvgTime: 0.02 * float64(i+1)},
			RelativeDifference: (ant - prob) / prob,
		}
	}
	return protocol.ResultsFrame{Type: protocol.FrameResults, Data: data}
}
