package match

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// FrameDiagnostics is the payload published for one registered frame.
type FrameDiagnostics struct {
	FrameID   string `json:"frameId"`
	Timestamp int64  `json:"timestamp"`
	Error     string `json:"error,omitempty"`
	Diagnostics
}

// Publisher publishes per-frame diagnostics to <prefix>/<frameID> and a
// combined snapshot of all frames to <prefix>/frames.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	logger        *slog.Logger
	frames        map[string]*FrameDiagnostics
	mu            sync.RWMutex
}

// NewPublisher creates a diagnostics publisher.
// If client is nil, publishing is disabled but diagnostics are still tracked.
func NewPublisher(client mqtt.Client, prefix string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = "starmesh"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        true,
		logger:        logger,
		frames:        make(map[string]*FrameDiagnostics),
	}
}

// PublishDiagnostics records d for frameID and publishes it. The record is
// kept even when the broker is unreachable.
func (p *Publisher) PublishDiagnostics(frameID string, d Diagnostics, cause error) error {
	fd := &FrameDiagnostics{
		FrameID:     frameID,
		Timestamp:   time.Now().Unix(),
		Diagnostics: d,
	}
	if cause != nil {
		fd.Error = cause.Error()
	}

	p.mu.Lock()
	p.frames[frameID] = fd
	p.mu.Unlock()

	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	if err := p.publish(fmt.Sprintf("%s/%s", p.publishPrefix, frameID), fd); err != nil {
		p.logger.Error("publishing frame diagnostics", "frame", frameID, "error", err)
		return err
	}
	if err := p.publishCombined(); err != nil {
		p.logger.Error("publishing combined diagnostics", "error", err)
		return err
	}
	p.logger.Debug("published diagnostics", "frame", frameID, "pairs", d.PairMatched, "inliers", d.Inliers)
	return nil
}

func (p *Publisher) publishCombined() error {
	frames := p.AllDiagnostics()
	if len(frames) == 0 {
		return nil
	}
	list := make([]*FrameDiagnostics, 0, len(frames))
	for _, fd := range frames {
		list = append(list, fd)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].FrameID < list[j].FrameID })

	message := map[string]interface{}{
		"frames":    list,
		"timestamp": time.Now().Unix(),
	}
	return p.publish(fmt.Sprintf("%s/frames", p.publishPrefix), message)
}

func (p *Publisher) publish(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", topic, err)
	}
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// LastDiagnostics returns the last diagnostics recorded for a frame
func (p *Publisher) LastDiagnostics(frameID string) (*FrameDiagnostics, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fd, ok := p.frames[frameID]
	if !ok {
		return nil, false
	}
	cp := *fd
	return &cp, true
}

// AllDiagnostics returns a copy of every recorded frame's diagnostics
func (p *Publisher) AllDiagnostics() map[string]*FrameDiagnostics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]*FrameDiagnostics, len(p.frames))
	for id, fd := range p.frames {
		cp := *fd
		out[id] = &cp
	}
	return out
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
