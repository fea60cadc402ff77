// Package serialization implements the envelope + queue-metadata wire
// encoding (§4.3, §6): one NDJSON line per message, optional
// base64(gzip(...)) payload compression above a 10KiB threshold, and a
// hard 1 MiB size ceiling. Grounded on orchestration/redis_task_queue.go's
// marshal-then-enqueue shape and spec.md §4.3/§6 directly.
package serialization

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/apm-auto/coordination-core/obs"
	"github.com/apm-auto/coordination-core/platform"
	"github.com/apm-auto/coordination-core/protocol"
)

// QueueMetadata is the per-message queue bookkeeping carried alongside the
// envelope in the wire format (§3, §6).
type QueueMetadata struct {
	QueuedAt   time.Time        `json:"queuedAt"`
	Priority   protocol.Priority `json:"priority"`
	RetryCount int              `json:"retryCount"`
}

// queueLine is the on-wire shape {"message": ..., "queueMetadata": ...}.
type queueLine struct {
	Message       json.RawMessage `json:"message"`
	QueueMetadata QueueMetadata   `json:"queueMetadata"`
}

// compressedMarker is how a compressed payload self-describes on the wire
// (§6, §9): {"__compressed": true, "data": "<base64(gzip(json))>"}.
type compressedMarker struct {
	Compressed bool   `json:"__compressed"`
	Data       string `json:"data"`
}

// Metrics captures one serialize/deserialize operation's observable
// outcome (§4.3).
type Metrics struct {
	Duration         time.Duration
	OriginalSize     int
	FinalSize        int
	Compressed       bool
	CompressionRatio float64
}

// Serializer encodes/decodes envelopes with queue metadata, tracking a
// rolling average of the last 100 operations (§9c).
type Serializer struct {
	instr *obs.Instruments
	logger platform.Logger

	mu    sync.Mutex
	stats ring
}

// NewSerializer creates a Serializer. logger and instr may be nil, in which
// case a NoOpLogger and a fresh unnamed instrument set are used.
func NewSerializer(logger platform.Logger, instr *obs.Instruments) *Serializer {
	if logger == nil {
		logger = platform.NoOpLogger{}
	}
	if instr == nil {
		instr = obs.New("coordination-core/serialization")
	}
	return &Serializer{instr: instr, logger: logger}
}

// Serialize encodes env with qm into a single NDJSON line (without its
// trailing newline). Payloads whose pre-compression JSON exceeds
// protocol.CompressionThreshold are gzip+base64 compressed. Envelopes
// whose pre-compression size exceeds protocol.MaxMessageSize are
// rejected with platform.ErrSizeExceeded.
func (s *Serializer) Serialize(ctx context.Context, env *protocol.Envelope, qm QueueMetadata) ([]byte, Metrics, error) {
	start := time.Now()

	payloadJSON, err := json.Marshal(env.Payload)
	if err != nil {
		return nil, Metrics{}, platform.NewCoordError("serialize", platform.KindProtocol, err)
	}
	originalSize := len(payloadJSON)

	envCopy := *env
	envCopy.Payload = json.RawMessage(payloadJSON)
	preCompressionJSON, err := json.Marshal(&envCopy)
	if err != nil {
		return nil, Metrics{}, platform.NewCoordError("serialize", platform.KindProtocol, err)
	}
	// §4.3's 1 MiB ceiling is measured against the envelope as it would be
	// without compression, so a payload that gzips small can't dodge it.
	if len(preCompressionJSON) > protocol.MaxMessageSize {
		return nil, Metrics{}, fmt.Errorf("serialize: %w: %d bytes", platform.ErrSizeExceeded, len(preCompressionJSON))
	}

	compressed := false
	if originalSize > protocol.CompressionThreshold {
		gz, err := compressPayload(payloadJSON)
		if err != nil {
			return nil, Metrics{}, platform.NewCoordError("serialize", platform.KindSystem, err)
		}
		marker := compressedMarker{Compressed: true, Data: gz}
		markerJSON, err := json.Marshal(marker)
		if err != nil {
			return nil, Metrics{}, platform.NewCoordError("serialize", platform.KindProtocol, err)
		}
		envCopy.Payload = json.RawMessage(markerJSON)
		compressed = true
	}

	envJSON, err := json.Marshal(&envCopy)
	if err != nil {
		return nil, Metrics{}, platform.NewCoordError("serialize", platform.KindProtocol, err)
	}

	line := queueLine{Message: envJSON, QueueMetadata: qm}
	out, err := json.Marshal(line)
	if err != nil {
		return nil, Metrics{}, platform.NewCoordError("serialize", platform.KindProtocol, err)
	}
	if len(out) > protocol.MaxMessageSize {
		return nil, Metrics{}, fmt.Errorf("serialize: %w: %d bytes", platform.ErrSizeExceeded, len(out))
	}

	m := Metrics{
		Duration:     time.Since(start),
		OriginalSize: originalSize,
		FinalSize:    len(out),
		Compressed:   compressed,
	}
	if originalSize > 0 {
		m.CompressionRatio = float64(m.FinalSize) / float64(originalSize)
	}
	s.record(ctx, m)

	return out, m, nil
}

// Deserialize decodes a single NDJSON line into its envelope and queue
// metadata, transparently decompressing a marker-tagged payload. The
// payload is left as json.RawMessage; callers decode it into the typed
// payload for env.MessageType with protocol.DecodePayload.
func (s *Serializer) Deserialize(ctx context.Context, raw []byte) (*protocol.Envelope, QueueMetadata, error) {
	start := time.Now()

	if len(raw) > protocol.MaxMessageSize {
		return nil, QueueMetadata{}, fmt.Errorf("deserialize: %w: %d bytes", platform.ErrSizeExceeded, len(raw))
	}

	syntax, _ := validateLineSyntax(raw)
	if !syntax {
		return nil, QueueMetadata{}, fmt.Errorf("deserialize: %w", platform.ErrMalformedMessage)
	}

	var line queueLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return nil, QueueMetadata{}, fmt.Errorf("deserialize: %w: %v", platform.ErrMalformedMessage, err)
	}
	if line.Message == nil {
		return nil, QueueMetadata{}, fmt.Errorf("deserialize: %w: missing message field", platform.ErrSchemaInvalid)
	}

	var env protocol.Envelope
	var rawPayload json.RawMessage
	env.Payload = &rawPayload
	if err := json.Unmarshal(line.Message, &env); err != nil {
		return nil, QueueMetadata{}, fmt.Errorf("deserialize: %w: %v", platform.ErrMalformedMessage, err)
	}

	payloadJSON, compressed, err := decompressIfMarked(rawPayload)
	if err != nil {
		return nil, QueueMetadata{}, platform.NewCoordError("deserialize", platform.KindSystem, err)
	}
	env.Payload = json.RawMessage(payloadJSON)

	m := Metrics{
		Duration:     time.Since(start),
		OriginalSize: len(payloadJSON),
		FinalSize:    len(raw),
		Compressed:   compressed,
	}
	s.record(ctx, m)

	return &env, line.QueueMetadata, nil
}

func validateLineSyntax(raw []byte) (bool, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, err
	}
	return true, nil
}

func compressPayload(payload []byte) (string, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		gz.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func decompressIfMarked(raw json.RawMessage) ([]byte, bool, error) {
	var marker compressedMarker
	if err := json.Unmarshal(raw, &marker); err == nil && marker.Compressed {
		data, err := base64.StdEncoding.DecodeString(marker.Data)
		if err != nil {
			return nil, false, fmt.Errorf("decoding base64 payload: %w", err)
		}
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, false, fmt.Errorf("opening gzip payload: %w", err)
		}
		defer gz.Close()
		var out bytes.Buffer
		if _, err := out.ReadFrom(gz); err != nil {
			return nil, false, fmt.Errorf("reading gzip payload: %w", err)
		}
		return out.Bytes(), true, nil
	}
	return raw, false, nil
}

func (s *Serializer) record(ctx context.Context, m Metrics) {
	s.mu.Lock()
	s.stats.push(m)
	avgDuration, avgRatio := s.stats.averages()
	s.mu.Unlock()

	s.instr.Histogram(ctx, "serializer.duration_ms", float64(m.Duration.Microseconds())/1000.0)
	s.instr.Histogram(ctx, "serializer.final_size_bytes", float64(m.FinalSize))
	if m.Compressed {
		s.instr.Counter(ctx, "serializer.compressed_total", 1)
	}

	s.logger.Debug("serialized message", map[string]interface{}{
		"duration_ms":       m.Duration.Milliseconds(),
		"original_size":     m.OriginalSize,
		"final_size":        m.FinalSize,
		"compressed":        m.Compressed,
		"compression_ratio": m.CompressionRatio,
		"rolling_avg_ms":    avgDuration,
		"rolling_avg_ratio": avgRatio,
	})
}

// Stats returns the rolling averages over the last 100 operations (§4.3,
// §9c).
func (s *Serializer) Stats() (avgDurationMs float64, avgCompressionRatio float64, samples int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, r := s.stats.averages()
	return d, r, s.stats.count
}

// ring is a fixed-capacity rolling window of the last 100 samples (§9c).
type ring struct {
	samples [100]Metrics
	count   int
	next    int
}

func (r *ring) push(m Metrics) {
	r.samples[r.next] = m
	r.next = (r.next + 1) % len(r.samples)
	if r.count < len(r.samples) {
		r.count++
	}
}

func (r *ring) averages() (avgDurationMs, avgRatio float64) {
	if r.count == 0 {
		return 0, 0
	}
	var totalMs, totalRatio float64
	for i := 0; i < r.count; i++ {
		totalMs += float64(r.samples[i].Duration.Microseconds()) / 1000.0
		totalRatio += r.samples[i].CompressionRatio
	}
	return totalMs / float64(r.count), totalRatio / float64(r.count)
}
