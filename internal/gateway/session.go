package gateway

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/packetflow/reactor/internal/atom"
	"github.com/packetflow/reactor/internal/perrors"
	"github.com/packetflow/reactor/internal/router"
	"github.com/packetflow/reactor/internal/wire"
)

// sessionState tracks a session through Opened, Active, Closing, Closed.
type sessionState int32

const (
	stateOpened sessionState = iota
	stateActive
	stateClosing
	stateClosed
)

// maxFrameBytes bounds a single frame's length prefix to guard against a
// malicious or corrupt peer claiming an unbounded body.
const defaultMaxFrameBytes = 4 << 20

// session owns one client connection: framing, sequencing, backpressure,
// and dispatch-by-message-type.
type session struct {
	gw   *Gateway
	conn net.Conn
	id   string

	state atomic.Int32

	writeMu sync.Mutex
	seq     uint64 // per-connection, owned by the writer

	limiter *rate.Limiter
	slots   chan struct{}

	inFlight sync.WaitGroup
}

func newSession(gw *Gateway, conn net.Conn, id string) *session {
	s := &session{gw: gw, conn: conn, id: id}
	s.state.Store(int32(stateOpened))
	burst := gw.cfg.BackpressureBurst
	if burst <= 0 {
		burst = 100
	}
	rps := gw.cfg.BackpressureRPS
	if rps <= 0 {
		rps = 500
	}
	s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	maxInFlight := gw.cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 256
	}
	s.slots = make(chan struct{}, maxInFlight)
	return s
}

// serve runs the session's read loop until the connection closes or a
// non-codec-tolerant error occurs. It always leaves the session Closed.
func (s *session) serve(ctx context.Context) {
	defer s.close()
	maxFrame := s.gw.cfg.MaxFrameBytes
	if maxFrame <= 0 {
		maxFrame = defaultMaxFrameBytes
	}

	for {
		if s.state.Load() == int32(stateClosing) {
			return
		}
		// Backpressure: an in-flight slot must free up before the next
		// frame is read, so the session never queues atoms indefinitely.
		// The rate limiter smooths bursts on top.
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		select {
		case s.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}

		frame, err := readFrame(s.conn, maxFrame)
		if err != nil {
			<-s.slots
			s.transitionClosing()
			return
		}

		msg, err := wire.Decode(frame)
		if err != nil {
			<-s.slots
			s.writeError(0, perrors.As(err), "")
			continue
		}

		s.state.CompareAndSwap(int32(stateOpened), int32(stateActive))

		s.inFlight.Add(1)
		go func() {
			defer s.inFlight.Done()
			defer func() { <-s.slots }()
			s.dispatch(ctx, msg)
		}()
	}
}

func (s *session) transitionClosing() {
	s.state.Store(int32(stateClosing))
}

func (s *session) close() {
	s.inFlight.Wait()
	s.state.Store(int32(stateClosed))
	_ = s.conn.Close()
}

func (s *session) nextSeq() uint64 {
	s.seq++
	return s.seq
}

func (s *session) dispatch(ctx context.Context, msg wire.Message) {
	switch msg.Type {
	case wire.TypeSubmit:
		s.handleSubmit(ctx, msg)
	case wire.TypeBatchSubmit:
		s.handleBatchSubmit(ctx, msg)
	case wire.TypePing:
		s.handlePing(msg)
	case wire.TypeRegister:
		s.handleRegister(msg)
	default:
		s.writeError(msg.Sequence, perrors.Unsupported("message type %d has no gateway handler", msg.Type), msg.CorrelationID)
	}
}

func (s *session) handlePing(msg wire.Message) {
	echo, _ := msg.Payload.Get("echo")
	resp := atom.Map(map[string]atom.Value{
		"echo":        echo,
		"server_time": atom.Int(time.Now().UnixMilli()),
	})
	s.writeResult(msg.Sequence, resp, msg.CorrelationID)
}

func (s *session) handleRegister(msg wire.Message) {
	if s.gw.Router == nil {
		s.writeError(msg.Sequence, perrors.NotImplemented("this gateway has no router attached"), msg.CorrelationID)
		return
	}
	d, err := descriptorFromValue(msg.Payload)
	if err != nil {
		s.writeError(msg.Sequence, perrors.Validation("%v", err), msg.CorrelationID)
		return
	}
	s.gw.Router.Add(d)
	s.writeResult(msg.Sequence, atom.Map(map[string]atom.Value{"registered": atom.Bool(true), "id": atom.String(d.ID)}), msg.CorrelationID)
}

func (s *session) handleSubmit(ctx context.Context, msg wire.Message) {
	a, err := atomFromValue(msg.Payload)
	if err != nil {
		s.writeError(msg.Sequence, perrors.Validation("%v", err), msg.CorrelationID)
		return
	}
	result := s.gw.execute(ctx, a)
	s.writeAtomResult(msg.Sequence, result, msg.CorrelationID)
}

// handleBatchSubmit dispatches every atom in order and aggregates outcomes
// into a single response frame; the batch itself only fails as a unit if
// decoding the envelope fails.
func (s *session) handleBatchSubmit(ctx context.Context, msg wire.Message) {
	atomsV, ok := msg.Payload.Get("atoms")
	if !ok {
		s.writeError(msg.Sequence, perrors.Validation("batch_submit requires an %q field", "atoms"), msg.CorrelationID)
		return
	}
	items, ok := atomsV.Slice()
	if !ok {
		s.writeError(msg.Sequence, perrors.Validation("%q must be a list", "atoms"), msg.CorrelationID)
		return
	}

	results := make([]atom.Value, len(items))
	for i, item := range items {
		a, err := atomFromValue(item)
		if err != nil {
			results[i] = atom.Map(map[string]atom.Value{
				"atom_id": atom.String(fmt.Sprintf("index-%d", i)),
				"error":   atom.String(err.Error()),
			})
			continue
		}
		result := s.gw.execute(ctx, a)
		results[i] = batchEntryFromResult(a.ID, result)
	}
	s.writeResult(msg.Sequence, atom.Map(map[string]atom.Value{"batch_results": atom.Slice(results)}), msg.CorrelationID)
}

func batchEntryFromResult(atomID string, result atom.Result) atom.Value {
	entry := map[string]atom.Value{"atom_id": atom.String(atomID)}
	if result.Success {
		entry["result"] = result.Data
	} else {
		entry["error"] = atom.Map(map[string]atom.Value{
			"code":      atom.String(result.Error.Code),
			"message":   atom.String(result.Error.Message),
			"permanent": atom.Bool(result.Error.Permanent),
		})
	}
	return atom.Map(entry)
}

func (s *session) writeAtomResult(seq uint64, result atom.Result, correlation string) {
	if result.Success {
		s.writeResult(seq, result.Data, correlation)
		return
	}
	s.writeFrame(wire.TypeError, atom.Map(map[string]atom.Value{
		"sequence": atom.Int(int64(seq)),
		"error": atom.Map(map[string]atom.Value{
			"code":      atom.String(result.Error.Code),
			"message":   atom.String(result.Error.Message),
			"permanent": atom.Bool(result.Error.Permanent),
		}),
		"timestamp": atom.Int(time.Now().UnixMilli()),
	}), correlation)
}

func (s *session) writeResult(seq uint64, data atom.Value, correlation string) {
	s.writeFrame(wire.TypeResult, atom.Map(map[string]atom.Value{
		"sequence":  atom.Int(int64(seq)),
		"data":      data,
		"timestamp": atom.Int(time.Now().UnixMilli()),
	}), correlation)
}

func (s *session) writeError(seq uint64, pe *perrors.Error, correlation string) {
	s.writeFrame(wire.TypeError, atom.Map(map[string]atom.Value{
		"sequence": atom.Int(int64(seq)),
		"error": atom.Map(map[string]atom.Value{
			"code":      atom.String(string(pe.Code)),
			"message":   atom.String(pe.Message),
			"permanent": atom.Bool(pe.Permanent),
		}),
		"timestamp": atom.Int(time.Now().UnixMilli()),
	}), correlation)
}

func (s *session) writeFrame(msgType wire.MessageType, payload atom.Value, correlation string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	msg := wire.Message{
		Version:       wire.ProtocolVersion,
		Type:          msgType,
		Sequence:      s.nextSeq(),
		Timestamp:     time.Now().UTC(),
		Payload:       payload,
		CorrelationID: correlation,
	}
	body := wire.Encode(msg)
	_ = writeFrame(s.conn, body)
}

// readFrame reads one length-prefixed frame: a 4-byte big-endian length
// followed by that many bytes of codec-encoded body.
func readFrame(r io.Reader, maxBytes int) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if maxBytes > 0 && int(n) > maxBytes {
		return nil, fmt.Errorf("gateway: frame of %d bytes exceeds max %d", n, maxBytes)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

func writeFrame(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func atomFromValue(v atom.Value) (atom.Atom, error) {
	idV, _ := v.Get("id")
	id, _ := idV.String()
	groupV, _ := v.Get("g")
	group, ok := groupV.String()
	if !ok {
		groupV, ok = v.Get("group")
		group, _ = groupV.String()
	}
	elemV, _ := v.Get("e")
	element, ok2 := elemV.String()
	if !ok2 {
		elemV, _ = v.Get("element")
		element, _ = elemV.String()
	}
	variantV, _ := v.Get("variant")
	variant, _ := variantV.String()
	payload, _ := v.Get("d")
	if payload.IsNull() {
		payload, _ = v.Get("payload")
	}
	priorityV, _ := v.Get("priority")
	priority, _ := priorityV.Int()

	a := atom.Atom{
		ID: id, Group: group, Element: element, Variant: variant,
		Payload: payload, Priority: int(priority),
	}
	if err := a.Validate(); err != nil {
		return atom.Atom{}, err
	}
	return a, nil
}

func descriptorFromValue(v atom.Value) (router.Descriptor, error) {
	idV, ok := v.Get("id")
	id, _ := idV.String()
	if !ok || id == "" {
		return router.Descriptor{}, fmt.Errorf("register payload requires a non-empty %q", "id")
	}
	endpointV, _ := v.Get("endpoint")
	endpoint, _ := endpointV.String()
	capacityV, _ := v.Get("capacity")
	capacity, _ := capacityV.Float()

	specsV, _ := v.Get("specializations")
	var specs []router.Specialization
	if items, ok := specsV.Slice(); ok {
		for _, item := range items {
			s, _ := item.String()
			specs = append(specs, router.Specialization(s))
		}
	}
	return router.Descriptor{
		ID:              id,
		Endpoint:        endpoint,
		Specializations: specs,
		Capacity:        int(capacity),
		Healthy:         true,
	}, nil
}
