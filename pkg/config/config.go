package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/meta-node-blockchain/ben-or/pkg/benor"
	"github.com/meta-node-blockchain/ben-or/pkg/common"
	"github.com/meta-node-blockchain/ben-or/pkg/logger"
	"github.com/meta-node-blockchain/ben-or/pkg/storage"
)

var ErrInvalidConfig = errors.New("invalid config")

// PeerConfig đại diện cho cấu hình của một node ngang hàng.
type PeerConfig struct {
	Id                int    `json:"id"`
	ConnectionAddress string `json:"connection_address"`
}

// ConsensusConfig điều khiển engine Ben-Or.
type ConsensusConfig struct {
	RetryIntervalMs int  `json:"retry_interval_ms"`
	StartDelayMs    int  `json:"start_delay_ms"`
	RoundCap        int  `json:"round_cap"`
	Fallback        int  `json:"fallback"`
	CountOwnVote    bool `json:"count_own_vote"`
	Rebroadcast     bool `json:"rebroadcast"`
}

type VoteLogConfig struct {
	Backend         string `json:"backend"`
	AllowDuplicates bool   `json:"allow_duplicates"`
}

type NetworkConfig struct {
	BroadcastTimeoutMs int `json:"broadcast_timeout_ms"`
	// MessageRateLimit giới hạn số request /message mỗi giây; 0 là không giới hạn.
	MessageRateLimit int `json:"message_rate_limit"`
}

type LogConfig struct {
	Level string `json:"level"`
	// TraceDir bật file trace cho mỗi lần chạy engine khi khác rỗng.
	TraceDir string `json:"trace_dir"`
}

// NodeConfig là cấu trúc chính chứa toàn bộ cấu hình cho một node.
type NodeConfig struct {
	ID                int             `json:"id"`
	NumNodes          int             `json:"num_nodes"`
	NumFaulty         int             `json:"num_faulty"`
	Faulty            bool            `json:"faulty"`
	InitialValue      string          `json:"initial_value"`
	ConnectionAddress string          `json:"connection_address"`
	Peers             []PeerConfig    `json:"peers"`
	Consensus         ConsensusConfig `json:"consensus"`
	VoteLog           VoteLogConfig   `json:"vote_log"`
	Network           NetworkConfig   `json:"network"`
	Log               LogConfig       `json:"log"`
}

// ClusterConfig mô tả N node chạy chung một tiến trình, node i nghe ở BasePort+i.
// BasePort 0 lets the OS pick a free port for every node.
type ClusterConfig struct {
	Host          string          `json:"host"`
	BasePort      int             `json:"base_port"`
	NumFaulty     int             `json:"num_faulty"`
	InitialValues []string        `json:"initial_values"`
	FaultyNodes   []int           `json:"faulty_nodes"`
	Consensus     ConsensusConfig `json:"consensus"`
	VoteLog       VoteLogConfig   `json:"vote_log"`
	Network       NetworkConfig   `json:"network"`
	Log           LogConfig       `json:"log"`
}

func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		RetryIntervalMs: int(benor.DefaultRetryInterval / time.Millisecond),
		StartDelayMs:    int(benor.DefaultStartDelay / time.Millisecond),
		RoundCap:        benor.DefaultRoundCap,
		Fallback:        int(benor.One),
		CountOwnVote:    false,
		Rebroadcast:     true,
	}
}

func DefaultVoteLogConfig() VoteLogConfig {
	return VoteLogConfig{Backend: storage.STORAGE_TYPE_MEMORY_DB}
}

func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{BroadcastTimeoutMs: 1000}
}

func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info"}
}

// DefaultNodeConfig returns a single live node with default settings.
func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		NumNodes:          1,
		InitialValue:      benor.UnknownValue,
		ConnectionAddress: Address(common.DefaultHost, common.DefaultBasePort, 0),
		Consensus:         DefaultConsensusConfig(),
		VoteLog:           DefaultVoteLogConfig(),
		Network:           DefaultNetworkConfig(),
		Log:               DefaultLogConfig(),
	}
}

func DefaultClusterConfig() *ClusterConfig {
	return &ClusterConfig{
		Host:      common.DefaultHost,
		BasePort:  common.DefaultBasePort,
		Consensus: DefaultConsensusConfig(),
		VoteLog:   DefaultVoteLogConfig(),
		Network:   DefaultNetworkConfig(),
		Log:       DefaultLogConfig(),
	}
}

// Address trả về host:port của node id.
func Address(host string, basePort, id int) string {
	port := 0
	if basePort > 0 {
		port = basePort + id
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// LoadConfigFromFile đọc NodeConfig; các trường vắng mặt giữ giá trị mặc định.
func LoadConfigFromFile(filename string) (*NodeConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	config := DefaultNodeConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("could not unmarshal json: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func LoadClusterConfigFromFile(filename string) (*ClusterConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	config := DefaultClusterConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("could not unmarshal json: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func invalid(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, a...))
}

func (c ConsensusConfig) Validate() error {
	if c.RetryIntervalMs <= 0 {
		return invalid("retry_interval_ms must be positive, got %d", c.RetryIntervalMs)
	}
	if c.StartDelayMs < 0 {
		return invalid("start_delay_ms must not be negative, got %d", c.StartDelayMs)
	}
	if c.RoundCap < 1 {
		return invalid("round_cap must be at least 1, got %d", c.RoundCap)
	}
	if c.Fallback != int(benor.Zero) && c.Fallback != int(benor.One) {
		return invalid("fallback must be 0 or 1, got %d", c.Fallback)
	}
	return nil
}

// Params chuyển cấu hình thành tham số của engine.
func (c ConsensusConfig) Params() benor.Params {
	return benor.Params{
		RetryInterval: time.Duration(c.RetryIntervalMs) * time.Millisecond,
		StartDelay:    time.Duration(c.StartDelayMs) * time.Millisecond,
		RoundCap:      c.RoundCap,
		Fallback:      benor.Bit(c.Fallback),
		CountOwnVote:  c.CountOwnVote,
		Rebroadcast:   c.Rebroadcast,
	}
}

func (c VoteLogConfig) Validate() error {
	for _, b := range storage.Backends() {
		if c.Backend == b {
			return nil
		}
	}
	return invalid("unknown vote_log backend %q", c.Backend)
}

func (c NetworkConfig) Validate() error {
	if c.BroadcastTimeoutMs <= 0 {
		return invalid("broadcast_timeout_ms must be positive, got %d", c.BroadcastTimeoutMs)
	}
	if c.MessageRateLimit < 0 {
		return invalid("message_rate_limit must not be negative, got %d", c.MessageRateLimit)
	}
	return nil
}

func (c NetworkConfig) BroadcastTimeout() time.Duration {
	return time.Duration(c.BroadcastTimeoutMs) * time.Millisecond
}

func (c LogConfig) Validate() error {
	if _, err := logger.ParseLevel(c.Level); err != nil {
		return invalid("%v", err)
	}
	return nil
}

func validateMembership(n, f int) error {
	if n < 1 {
		return invalid("num_nodes must be at least 1, got %d", n)
	}
	if f < 0 {
		return invalid("num_faulty must not be negative, got %d", f)
	}
	if n-f < 1 {
		return invalid("num_faulty %d leaves no honest quorum in %d nodes", f, n)
	}
	return nil
}

func (c *NodeConfig) Validate() error {
	if err := validateMembership(c.NumNodes, c.NumFaulty); err != nil {
		return err
	}
	if c.ID < 0 || c.ID >= c.NumNodes {
		return invalid("id %d out of range [0,%d)", c.ID, c.NumNodes)
	}
	if _, err := benor.ParseValue(c.InitialValue); err != nil {
		return invalid("initial_value: %v", err)
	}
	for _, p := range c.Peers {
		if p.Id < 0 || p.Id >= c.NumNodes {
			return invalid("peer id %d out of range [0,%d)", p.Id, c.NumNodes)
		}
		if p.ConnectionAddress == "" {
			return invalid("peer %d has no connection_address", p.Id)
		}
	}
	for _, v := range []interface{ Validate() error }{c.Consensus, c.VoteLog, c.Network, c.Log} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *NodeConfig) Identity() benor.Identity {
	return benor.Identity{ID: c.ID, N: c.NumNodes, F: c.NumFaulty, Faulty: c.Faulty}
}

// Initial trả về giá trị khởi tạo đã làm sạch: nil nếu node lỗi hoặc giá trị là "?".
func (c *NodeConfig) Initial() *benor.Bit {
	if c.Faulty {
		return nil
	}
	v, err := benor.ParseValue(c.InitialValue)
	if err != nil {
		return nil
	}
	return v
}

// PeerAddresses maps every peer except the node itself to its address.
func (c *NodeConfig) PeerAddresses() map[int]string {
	peers := make(map[int]string, len(c.Peers))
	for _, p := range c.Peers {
		if p.Id != c.ID {
			peers[p.Id] = p.ConnectionAddress
		}
	}
	return peers
}

func (c *ClusterConfig) NumNodes() int {
	return len(c.InitialValues)
}

func (c *ClusterConfig) IsFaulty(id int) bool {
	for _, f := range c.FaultyNodes {
		if f == id {
			return true
		}
	}
	return false
}

func (c *ClusterConfig) Validate() error {
	n := c.NumNodes()
	if err := validateMembership(n, c.NumFaulty); err != nil {
		return err
	}
	if c.BasePort < 0 {
		return invalid("base_port must not be negative, got %d", c.BasePort)
	}
	for i, v := range c.InitialValues {
		if _, err := benor.ParseValue(v); err != nil {
			return invalid("initial_values[%d]: %v", i, err)
		}
	}
	seen := map[int]bool{}
	for _, id := range c.FaultyNodes {
		if id < 0 || id >= n {
			return invalid("faulty node %d out of range [0,%d)", id, n)
		}
		if seen[id] {
			return invalid("faulty node %d listed twice", id)
		}
		seen[id] = true
	}
	if len(c.FaultyNodes) > c.NumFaulty {
		logger.Warn("cluster has %d faulty nodes but tolerates num_faulty=%d", len(c.FaultyNodes), c.NumFaulty)
	}
	for _, v := range []interface{ Validate() error }{c.Consensus, c.VoteLog, c.Network, c.Log} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// NodeConfigs dựng cấu hình cho từng node trong cụm, mỗi node biết địa chỉ của mọi node khác.
func (c *ClusterConfig) NodeConfigs() []*NodeConfig {
	n := c.NumNodes()
	peers := make([]PeerConfig, n)
	for i := 0; i < n; i++ {
		peers[i] = PeerConfig{Id: i, ConnectionAddress: Address(c.Host, c.BasePort, i)}
	}
	configs := make([]*NodeConfig, n)
	for i := 0; i < n; i++ {
		others := make([]PeerConfig, 0, n-1)
		for _, p := range peers {
			if p.Id != i {
				others = append(others, p)
			}
		}
		configs[i] = &NodeConfig{
			ID:                i,
			NumNodes:          n,
			NumFaulty:         c.NumFaulty,
			Faulty:            c.IsFaulty(i),
			InitialValue:      c.InitialValues[i],
			ConnectionAddress: peers[i].ConnectionAddress,
			Peers:             others,
			Consensus:         c.Consensus,
			VoteLog:           c.VoteLog,
			Network:           c.Network,
			Log:               c.Log,
		}
	}
	return configs
}
