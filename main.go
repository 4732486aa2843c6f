package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/meta-node-blockchain/ben-or/pkg/common"
	"github.com/meta-node-blockchain/ben-or/pkg/config"
	"github.com/meta-node-blockchain/ben-or/pkg/logger"
	"github.com/meta-node-blockchain/ben-or/pkg/loggerfile"
	"github.com/meta-node-blockchain/ben-or/pkg/metrics"
	"github.com/meta-node-blockchain/ben-or/pkg/network"
	"github.com/meta-node-blockchain/ben-or/pkg/node"
)

// Trace files older than this are removed while the node runs.
const traceMaxAge = 24 * time.Hour

// nodeConfigFromFlags dựng cấu hình khi không có file: node id trong cụm n node
// trên host, node i nghe ở basePort+i.
func nodeConfigFromFlags(id, n, f int, value string, faulty bool, host string, basePort int) *config.NodeConfig {
	cfg := config.DefaultNodeConfig()
	cfg.ID = id
	cfg.NumNodes = n
	cfg.NumFaulty = f
	cfg.Faulty = faulty
	cfg.InitialValue = value
	cfg.ConnectionAddress = config.Address(host, basePort, id)
	for i := 0; i < n; i++ {
		if i != id {
			cfg.Peers = append(cfg.Peers, config.PeerConfig{Id: i, ConnectionAddress: config.Address(host, basePort, i)})
		}
	}
	return cfg
}

func main() {
	configFile := flag.String("config", "", "Configuration file name (JSON); flags below are ignored when set")
	id := flag.Int("id", 0, "Node id")
	n := flag.Int("n", 1, "Number of nodes")
	f := flag.Int("f", 0, "Number of faulty nodes tolerated")
	value := flag.String("value", "?", "Initial value: 0, 1 or ?")
	faulty := flag.Bool("faulty", false, "Run as a faulty node")
	host := flag.String("host", common.DefaultHost, "Host of every node")
	basePort := flag.Int("base-port", common.DefaultBasePort, "Node i listens on base-port+i")
	logLevel := flag.String("log-level", "", "Override log level (trace, debug, info, warn, error, off)")
	interactive := flag.Bool("interactive", false, "Read start/stop/state commands from stdin")
	logFile := flag.String("log-file", "", "Also append console logs to this file")
	plain := flag.Bool("plain", false, "Disable ANSI colors in console logs")
	flag.Parse()

	var cfg *config.NodeConfig
	if *configFile != "" {
		loaded, err := config.LoadConfigFromFile(*configFile)
		if err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
		cfg = loaded
	} else {
		cfg = nodeConfigFromFlags(*id, *n, *f, *value, *faulty, *host, *basePort)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.SetFlag(level)
	logger.SetIdentifier(fmt.Sprintf("node-%d", cfg.ID))
	logger.SetPlain(*plain)
	if *logFile != "" {
		out, err := os.OpenFile(*logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer out.Close()
		logger.SetOutputs(os.Stdout, out)
	}

	m := metrics.New(cfg.ID)
	peers := cfg.PeerAddresses()
	logger.Info("Node %d initialized with peers: %v", cfg.ID, peers)
	b := network.NewBroadcaster(cfg.ID, peers, cfg.Network.BroadcastTimeout(), m)

	nd, err := node.NewNode(cfg, b, node.WithMetrics(m))
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}

	if cfg.Log.TraceDir != "" {
		cleaner := loggerfile.NewLogCleaner(cfg.Log.TraceDir, traceMaxAge)
		cleaner.StartPeriodicCleanup(time.Hour)
		defer cleaner.Stop()
	}

	handler := network.NewHandler(nd, m.Handler(), map[string]int{common.RouteMessage: cfg.Network.MessageRateLimit})
	server := network.NewServer(cfg.ConnectionAddress, handler)
	go func() {
		if err := server.Serve(); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()
	<-server.Ready()
	logger.Info("Node %d (%s) serving on %s", cfg.ID, nd.Status(), server.Addr())

	if *interactive {
		go readCommands(nd)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info("Node %d shutting down", cfg.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("Server shutdown: %v", err)
	}
	if err := nd.Close(); err != nil {
		logger.Warn("Node close: %v", err)
	}
}

// readCommands điều khiển node từ stdin.
func readCommands(nd *node.Node) {
	logger.Info("Commands: start, stop, state, status")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				logger.Info("Error reading from stdin: %v", err)
			}
			return
		}
		switch strings.TrimSpace(scanner.Text()) {
		case "":
		case "start":
			if err := nd.Start(); err != nil {
				logger.Warn("start: %v", err)
			}
		case "stop":
			if err := nd.Stop(); err != nil {
				logger.Warn("stop: %v", err)
			}
		case "state":
			s, err := nd.State()
			resp := network.StateResponse{}
			if err == nil {
				resp = network.NewStateResponse(s)
			}
			data, _ := json.Marshal(resp)
			fmt.Println(string(data))
		case "status":
			fmt.Println(nd.Status())
		default:
			logger.Warn("unknown command %q", scanner.Text())
		}
	}
}
