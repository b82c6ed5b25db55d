package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gomo-hub/startup-optimizer/internal/metrics"
	"github.com/gomo-hub/startup-optimizer/internal/model"
	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"
)

const (
	gossipRetransmitMult = 3
	gossipUpdateTimeout  = 5 * time.Second
)

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	BindPort       int
	SeedNodes      []string
	GossipInterval time.Duration
	ProbeTimeout   time.Duration
	ProbeInterval  time.Duration
}

// NodeStateSource reports the local node's load state
type NodeStateSource func() model.NodeState

// LocalNodeState builds the advertised state from the registry and the
// latest memory sample
func LocalNodeState(nodeID string, registry *RegistryService, resources *ResourceMonitorService) NodeStateSource {
	return func() model.NodeState {
		stats := registry.Stats()
		state := model.NodeState{
			NodeID:    nodeID,
			Loaded:    stats.Loaded,
			Total:     stats.Total,
			Trend:     model.TrendStable,
			Timestamp: time.Now().Unix(),
		}
		if resources != nil {
			if snap, ok := resources.Latest(); ok {
				state.HeapPercent = snap.UsagePercent
			}
			state.Trend = resources.Trend()
		}
		return state
	}
}

// GossipService shares node load state across optimizer instances
type GossipService struct {
	config     GossipConfig
	nodeID     string
	source     NodeStateSource
	memberlist *memberlist.Memberlist
	broadcasts *memberlist.TransmitLimitedQueue

	mu    sync.RWMutex
	local model.NodeState
	peers map[string]model.NodeState

	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewGossipService creates a gossip service. Call Start to join the cluster.
func NewGossipService(cfg GossipConfig, nodeID string, source NodeStateSource, m *metrics.Metrics, logger *zap.Logger) *GossipService {
	gs := &GossipService{
		config:  cfg,
		nodeID:  nodeID,
		source:  source,
		local:   model.NodeState{NodeID: nodeID, Trend: model.TrendStable, Timestamp: time.Now().Unix()},
		peers:   make(map[string]model.NodeState),
		metrics: m,
		logger:  logger,
	}
	gs.broadcasts = &memberlist.TransmitLimitedQueue{
		NumNodes:       gs.numMembers,
		RetransmitMult: gossipRetransmitMult,
	}
	return gs
}

// Start creates the memberlist and joins the seed nodes
func (s *GossipService) Start() error {
	s.Refresh()

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = s.nodeID
	mlConfig.BindPort = s.config.BindPort
	mlConfig.AdvertisePort = s.config.BindPort
	if s.config.GossipInterval > 0 {
		mlConfig.GossipInterval = s.config.GossipInterval
	}
	if s.config.ProbeTimeout > 0 {
		mlConfig.ProbeTimeout = s.config.ProbeTimeout
	}
	if s.config.ProbeInterval > 0 {
		mlConfig.ProbeInterval = s.config.ProbeInterval
	}
	mlConfig.Delegate = s
	mlConfig.Events = &GossipEventDelegate{service: s}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return fmt.Errorf("failed to create memberlist: %w", err)
	}
	s.memberlist = ml

	if len(s.config.SeedNodes) > 0 {
		n, err := ml.Join(s.config.SeedNodes)
		if err != nil {
			s.logger.Warn("Failed to join some seed nodes", zap.Error(err))
		}
		s.logger.Info("Joined gossip cluster", zap.Int("contacted", n))
	}

	s.metrics.SetGossipMembers(s.numMembers())
	return nil
}

// Run refreshes and re-advertises the local state every interval
func (s *GossipService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh()
			if s.memberlist != nil {
				if err := s.memberlist.UpdateNode(gossipUpdateTimeout); err != nil {
					s.logger.Warn("Failed to update node metadata", zap.Error(err))
				}
			}
			s.metrics.SetGossipMembers(s.numMembers())
		}
	}
}

// Refresh recomputes the local state and queues it for broadcast
func (s *GossipService) Refresh() {
	if s.source == nil {
		return
	}
	state := s.source()
	state.NodeID = s.nodeID

	s.mu.Lock()
	s.local = state
	s.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	s.broadcasts.QueueBroadcast(&stateBroadcast{node: s.nodeID, msg: data})
}

// Local returns the state this node advertises
func (s *GossipService) Local() model.NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.local
}

// Members lists known cluster members with their last advertised state,
// sorted by name. Without a running memberlist only peers heard through
// messages are listed.
func (s *GossipService) Members() []model.ClusterMember {
	var nodes []*memberlist.Node
	if s.memberlist != nil {
		nodes = s.memberlist.Members()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]model.ClusterMember, 0, len(nodes))
	seen := make(map[string]bool)

	for _, node := range nodes {
		m := model.ClusterMember{Name: node.Name, Addr: node.Address()}
		if state, ok := decodeNodeState(node.Meta); ok {
			m.State = &state
		}
		if peer, ok := s.peers[node.Name]; ok && (m.State == nil || peer.Timestamp > m.State.Timestamp) {
			p := peer
			m.State = &p
		}
		seen[node.Name] = true
		members = append(members, m)
	}

	for name, peer := range s.peers {
		if seen[name] {
			continue
		}
		p := peer
		members = append(members, model.ClusterMember{Name: name, State: &p})
	}

	sort.Slice(members, func(i, j int) bool { return members[i].Name < members[j].Name })
	return members
}

func (s *GossipService) numMembers() int {
	if s.memberlist == nil {
		return 1
	}
	return s.memberlist.NumMembers()
}

func (s *GossipService) observe(state model.NodeState) {
	if state.NodeID == "" || state.NodeID == s.nodeID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.peers[state.NodeID]; ok && prev.Timestamp > state.Timestamp {
		return
	}
	s.peers[state.NodeID] = state
}

func (s *GossipService) forget(nodeID string) {
	s.mu.Lock()
	delete(s.peers, nodeID)
	s.mu.Unlock()
}

func decodeNodeState(data []byte) (model.NodeState, bool) {
	var state model.NodeState
	if len(data) == 0 {
		return state, false
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, false
	}
	return state, true
}

// NodeMeta implements memberlist.Delegate
func (s *GossipService) NodeMeta(limit int) []byte {
	data, err := json.Marshal(s.Local())
	if err != nil || len(data) > limit {
		return nil
	}
	return data
}

// NotifyMsg implements memberlist.Delegate
func (s *GossipService) NotifyMsg(data []byte) {
	state, ok := decodeNodeState(data)
	if !ok {
		s.logger.Warn("Failed to decode gossip message", zap.Int("bytes", len(data)))
		return
	}
	s.observe(state)

	s.logger.Debug("Received node state",
		zap.String("node_id", state.NodeID),
		zap.Int("loaded", state.Loaded),
		zap.Int("heap_percent", state.HeapPercent))
}

// GetBroadcasts implements memberlist.Delegate
func (s *GossipService) GetBroadcasts(overhead, limit int) [][]byte {
	return s.broadcasts.GetBroadcasts(overhead, limit)
}

// LocalState implements memberlist.Delegate
func (s *GossipService) LocalState(join bool) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]model.NodeState, 0, len(s.peers)+1)
	all = append(all, s.local)
	for _, p := range s.peers {
		all = append(all, p)
	}
	data, _ := json.Marshal(all)
	return data
}

// MergeRemoteState implements memberlist.Delegate
func (s *GossipService) MergeRemoteState(buf []byte, join bool) {
	var states []model.NodeState
	if err := json.Unmarshal(buf, &states); err != nil {
		s.logger.Warn("Failed to decode remote state", zap.Error(err))
		return
	}
	for _, st := range states {
		s.observe(st)
	}
}

// Shutdown leaves the cluster. A nil or never started service is a no-op.
func (s *GossipService) Shutdown() error {
	if s == nil || s.memberlist == nil {
		return nil
	}
	if err := s.memberlist.Leave(gossipUpdateTimeout); err != nil {
		s.logger.Warn("Failed to leave gossip cluster", zap.Error(err))
	}
	return s.memberlist.Shutdown()
}

type stateBroadcast struct {
	node string
	msg  []byte
}

func (b *stateBroadcast) Invalidates(other memberlist.Broadcast) bool {
	o, ok := other.(*stateBroadcast)
	return ok && o.node == b.node
}

func (b *stateBroadcast) Message() []byte { return b.msg }

func (b *stateBroadcast) Finished() {}

// GossipEventDelegate handles memberlist events
type GossipEventDelegate struct {
	service *GossipService
}

// NotifyJoin is called when a node joins
func (d *GossipEventDelegate) NotifyJoin(node *memberlist.Node) {
	if state, ok := decodeNodeState(node.Meta); ok {
		d.service.observe(state)
	}
	d.service.logger.Info("Node joined",
		zap.String("node_id", node.Name),
		zap.String("addr", node.Address()))
}

// NotifyLeave is called when a node leaves
func (d *GossipEventDelegate) NotifyLeave(node *memberlist.Node) {
	d.service.forget(node.Name)
	d.service.logger.Info("Node left",
		zap.String("node_id", node.Name))
}

// NotifyUpdate is called when a node is updated
func (d *GossipEventDelegate) NotifyUpdate(node *memberlist.Node) {
	if state, ok := decodeNodeState(node.Meta); ok {
		d.service.observe(state)
	}
	d.service.logger.Debug("Node updated",
		zap.String("node_id", node.Name))
}
