package application

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// ReportedState is the device-side half of the shadow document.
type ReportedState struct {
	Connected       bool    `json:"connected"`
	Status          string  `json:"status"`
	Uptime          uint64  `json:"uptime"`
	Timestamp       uint64  `json:"timestamp"`
	Firmware        string  `json:"firmware"`
	DeviceType      string  `json:"device_type"`
	CPUUsage        float64 `json:"cpu_usage"`
	MemoryUsage     float64 `json:"memory_usage"`
	NetworkSent     uint64  `json:"network_sent"`
	NetworkReceived uint64  `json:"network_received"`
}

// BindInfo is the administrative binding recorded under reported.info.
// Bound is derived: true iff all four fields are non-empty.
type BindInfo struct {
	Bound       bool
	CompanyName string
	CompanyID   string
	DeviceName  string
	AddedBy     string
}

const (
	shadowGetRequestPayload = "{}"

	// Bounded settle loop after subscribing, purely to let the broker's
	// acknowledgements arrive. Best effort, not guaranteed.
	subscribeSettleIterations = 10
	subscribeSettlePoll       = 100 * time.Millisecond

	waitGetPollInterval = 100 * time.Millisecond
)

type ShadowSyncParams struct {
	Connection Connection
	Dispatcher CommandDispatcher
	Metrics    SystemMetrics

	Topics ShadowTopics

	DeviceType string
	Firmware   string

	Log zerolog.Logger

	NowFunc func() time.Time
}

func (p *ShadowSyncParams) EnsureDefaults() {
	if p.NowFunc == nil {
		p.NowFunc = time.Now
	}
}

// ShadowSync keeps the five shadow topics subscribed, runs the GET
// handshake and publishes reported-state updates. It touches the session
// only through the injected Connection interface and is driven entirely by
// the host poll loop; it is not safe for concurrent use.
type ShadowSync struct {
	params ShadowSyncParams

	getPending  bool
	getReceived bool

	reported ReportedState
	bindInfo BindInfo

	log zerolog.Logger
}

func NewShadowSync(params ShadowSyncParams) (*ShadowSync, error) {
	if params.Connection == nil {
		return nil, fmt.Errorf("%w: Connection is nil", ErrInvalidParameter)
	}
	if params.Dispatcher == nil {
		return nil, fmt.Errorf("%w: Dispatcher is nil", ErrInvalidParameter)
	}
	params.EnsureDefaults()

	return &ShadowSync{params: params, log: params.Log}, nil
}

// Reset clears the GET handshake flags and the binding cache, e.g. before a
// full restart.
func (s *ShadowSync) Reset() {
	s.getPending = false
	s.getReceived = false
	s.bindInfo = BindInfo{}
}

// Start subscribes to all shadow topics and requests the full document. Any
// single subscription failure aborts.
func (s *ShadowSync) Start() error {
	if err := s.SubscribeTopics(); err != nil {
		return err
	}
	return s.GetDocument()
}

// SubscribeTopics subscribes to the five shadow topics sequentially, then
// drives a few short polls so subscription acknowledgements can arrive.
func (s *ShadowSync) SubscribeTopics() error {
	s.log.Debug().Msg("subscribing to shadow topics")

	for _, topic := range s.params.Topics.Subscriptions() {
		if err := s.params.Connection.Subscribe(topic, s.HandleMessage); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		s.log.Debug().Str("topic", topic).Msg("subscribed")
	}

	for i := 0; i < subscribeSettleIterations; i++ {
		if err := s.params.Connection.Poll(subscribeSettlePoll); err != nil {
			s.log.Debug().Err(err).Msg("poll failed while settling subscriptions")
			break
		}
	}
	return nil
}

// GetDocument publishes an empty GET request and marks the handshake
// pending. At most one GET is outstanding at a time.
func (s *ShadowSync) GetDocument() error {
	s.getPending = true
	s.getReceived = false

	if err := s.params.Connection.Publish(s.params.Topics.Get, []byte(shadowGetRequestPayload)); err != nil {
		s.getPending = false
		return fmt.Errorf("shadow get request: %w", err)
	}

	s.log.Debug().Msg("shadow get requested")
	return nil
}

// WaitGetResponse polls until the GET reply arrives, the request is
// rejected, or timeout elapses. This is the one deliberately blocking
// operation of the synchronizer.
func (s *ShadowSync) WaitGetResponse(timeout time.Duration) error {
	deadline := s.params.NowFunc().Add(timeout)

	for s.getPending && !s.getReceived {
		if !s.params.NowFunc().Before(deadline) {
			s.getPending = false
			return fmt.Errorf("shadow get response: %w", ErrTimeout)
		}
		if err := s.params.Connection.Poll(waitGetPollInterval); err != nil {
			s.getPending = false
			return fmt.Errorf("poll while waiting for shadow get: %w", err)
		}
	}

	if s.getReceived {
		s.getPending = false
		return nil
	}
	// Pending cleared without a document: the request was rejected.
	return fmt.Errorf("shadow get rejected: %w", ErrProtocol)
}

// UpdateReported publishes the reported-state document. A nil state means
// "recompute from local system metrics first".
func (s *ShadowSync) UpdateReported(state *ReportedState) error {
	if state == nil {
		s.refreshSystemState()
		state = &s.reported
	}

	payload, err := json.Marshal(struct {
		State struct {
			Reported *ReportedState `json:"reported"`
		} `json:"state"`
	}{State: struct {
		Reported *ReportedState `json:"reported"`
	}{Reported: state}})
	if err != nil {
		return fmt.Errorf("marshal reported state: %w", err)
	}

	if err := s.params.Connection.Publish(s.params.Topics.Update, payload); err != nil {
		return fmt.Errorf("publish reported state: %w", err)
	}
	s.log.Debug().RawJSON("payload", payload).Msg("shadow update published")
	return nil
}

// ResetDesired nulls one desired-state key after its command executed, so
// the backend does not redeliver it on the next connect.
func (s *ShadowSync) ResetDesired(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty desired key", ErrInvalidParameter)
	}

	payload, err := json.Marshal(map[string]any{
		"state": map[string]any{
			"desired":  map[string]any{key: nil},
			"reported": map[string]any{key: 0},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal desired reset: %w", err)
	}

	if err := s.params.Connection.Publish(s.params.Topics.Update, payload); err != nil {
		return fmt.Errorf("reset desired %q: %w", key, err)
	}
	s.log.Debug().Str("key", key).Msg("desired state reset")
	return nil
}

// Command result values published into reported state.
const (
	commandResultSuccess = 1
	commandResultFailure = 2
)

// ReportCommandResult publishes the outcome of a command under
// "<key>_result" / "<key>_timestamp".
func (s *ShadowSync) ReportCommandResult(key string, success bool) error {
	if key == "" {
		return fmt.Errorf("%w: empty command key", ErrInvalidParameter)
	}

	result := commandResultFailure
	if success {
		result = commandResultSuccess
	}
	payload, err := json.Marshal(map[string]any{
		"state": map[string]any{
			"reported": map[string]any{
				key + "_result":    result,
				key + "_timestamp": uint64(s.params.NowFunc().Unix()),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal command result: %w", err)
	}

	if err := s.params.Connection.Publish(s.params.Topics.Update, payload); err != nil {
		return fmt.Errorf("report result for %q: %w", key, err)
	}
	s.log.Debug().Str("key", key).Bool("success", success).Msg("command result reported")
	return nil
}

// HandleMessage classifies one inbound shadow message by topic suffix, in
// fixed priority order. It is the Connection's registered handler and runs
// synchronously inside Poll.
func (s *ShadowSync) HandleMessage(topic string, payload []byte) {
	switch {
	case strings.Contains(topic, "/shadow/update/accepted"):
		s.log.Debug().Msg("shadow update accepted")

	case strings.Contains(topic, "/shadow/update/rejected"):
		s.log.Error().RawJSON("payload", payload).Msg("shadow update rejected")

	case strings.Contains(topic, "/shadow/update/delta"):
		s.handleDelta(topic, payload)

	case strings.Contains(topic, "/shadow/get/accepted"):
		s.handleGetAccepted(payload)

	case strings.Contains(topic, "/shadow/get/rejected"):
		s.log.Error().Msg("shadow get rejected")
		s.getReceived = false
		s.getPending = false

	default:
		s.log.Warn().Str("topic", topic).Msg("unrecognized shadow message")
	}
}

func (s *ShadowSync) handleDelta(topic string, payload []byte) {
	s.log.Debug().Str("topic", topic).Msg("shadow delta received")

	cmd, err := s.params.Dispatcher.Process(topic, payload)
	if cmd.Type == CommandNone {
		if err != nil {
			s.log.Error().Err(err).Msg("failed to process shadow delta")
		}
		return
	}

	if resetErr := s.ResetDesired(cmd.Key); resetErr != nil {
		s.log.Warn().Err(resetErr).Str("key", cmd.Key).Msg("failed to reset desired state")
	}
	if reportErr := s.ReportCommandResult(cmd.Key, err == nil); reportErr != nil {
		s.log.Warn().Err(reportErr).Str("key", cmd.Key).Msg("failed to report command result")
	}
}

func (s *ShadowSync) handleGetAccepted(payload []byte) {
	info, err := ParseBindInfo(payload)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to parse bind info from shadow document")
	} else {
		s.bindInfo = info
		if info.Bound {
			s.log.Info().
				Str("company", info.CompanyName).
				Str("company_id", info.CompanyID).
				Str("device", info.DeviceName).
				Str("added_by", info.AddedBy).
				Msg("device is bound")
		} else {
			s.log.Warn().Msg("device is not bound")
		}
	}

	// Either way the GET handshake is complete.
	s.getReceived = true
	s.getPending = false
}

// ParseBindInfo extracts the binding record from a get/accepted document.
// A missing info object is not an error, the device is simply unbound.
// Outright invalid JSON is an ErrShadowDocument.
func ParseBindInfo(payload []byte) (BindInfo, error) {
	var info BindInfo

	if len(payload) == 0 {
		return info, fmt.Errorf("%w: empty shadow document", ErrInvalidParameter)
	}
	if !gjson.ValidBytes(payload) {
		return info, fmt.Errorf("%w: shadow document is not valid JSON", ErrShadowDocument)
	}

	node := gjson.GetBytes(payload, "state.reported.info")
	if !node.Exists() {
		return info, nil
	}

	info.CompanyName = node.Get("company_name").String()
	info.CompanyID = node.Get("company_id").String()
	info.DeviceName = node.Get("device_name").String()
	info.AddedBy = node.Get("added_by").String()
	info.Bound = info.CompanyName != "" &&
		info.CompanyID != "" &&
		info.DeviceName != "" &&
		info.AddedBy != ""
	return info, nil
}

// IsBound reports whether the device is administratively bound.
func (s *ShadowSync) IsBound() bool {
	return s.bindInfo.Bound
}

// BindInfo returns the cached binding record from the last GET.
func (s *ShadowSync) BindInfo() BindInfo {
	return s.bindInfo
}

// GetCompleted reports whether the last GET handshake finished with a
// document.
func (s *ShadowSync) GetCompleted() bool {
	return !s.getPending && s.getReceived
}

// ReportedSnapshot returns the current reported-state cache.
func (s *ShadowSync) ReportedSnapshot() ReportedState {
	return s.reported
}

// MarkOffline fills the cache with the shutdown state so the final
// UpdateReported publishes "offline".
func (s *ShadowSync) MarkOffline() {
	s.reported.Connected = false
	s.reported.Status = "offline"
	s.reported.Timestamp = uint64(s.params.NowFunc().Unix())
}

func (s *ShadowSync) refreshSystemState() {
	s.reported.Connected = true
	s.reported.Status = "online"
	s.reported.Firmware = s.params.Firmware
	s.reported.DeviceType = s.params.DeviceType
	s.reported.Timestamp = uint64(s.params.NowFunc().Unix())

	if s.params.Metrics == nil {
		return
	}
	stats, err := s.params.Metrics.Collect()
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to collect system metrics")
	}
	s.reported.Uptime = stats.Uptime
	s.reported.CPUUsage = stats.CPUUsage
	s.reported.MemoryUsage = stats.MemoryUsage
	s.reported.NetworkSent = stats.NetworkSent
	s.reported.NetworkReceived = stats.NetworkReceived
}
