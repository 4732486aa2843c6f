package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/meta-node-blockchain/ben-or/pkg/cluster"
	"github.com/meta-node-blockchain/ben-or/pkg/config"
	"github.com/meta-node-blockchain/ben-or/pkg/logger"
)

func parseFaulty(s string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func main() {
	configFile := flag.String("config", "", "Cluster configuration file (JSON); other flags override it")
	values := flag.String("values", "1,1,0,0", "Comma separated initial values, one per node (0, 1 or ?)")
	f := flag.Int("f", 1, "Number of faulty nodes tolerated")
	faulty := flag.String("faulty", "", "Comma separated ids of faulty nodes")
	host := flag.String("host", "", "Host for every node")
	basePort := flag.Int("base-port", -1, "Node i listens on base-port+i; 0 picks free ports")
	timeout := flag.Duration("timeout", 30*time.Second, "Give up waiting for a decision after this long")
	logLevel := flag.String("log-level", "", "Log level (trace, debug, info, warn, error, off)")
	countOwn := flag.Bool("count-own-vote", false, "Count each node's own vote toward its thresholds")
	flag.Parse()

	cfg := config.DefaultClusterConfig()
	if *configFile != "" {
		loaded, err := config.LoadClusterConfigFromFile(*configFile)
		if err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
		cfg = loaded
	}
	set := map[string]bool{}
	flag.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	if *configFile == "" || set["values"] {
		cfg.InitialValues = strings.Split(*values, ",")
	}
	if *configFile == "" || set["f"] {
		cfg.NumFaulty = *f
	}
	if set["faulty"] {
		ids, err := parseFaulty(*faulty)
		if err != nil {
			log.Fatalf("Invalid -faulty: %v", err)
		}
		cfg.FaultyNodes = ids
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *basePort >= 0 {
		cfg.BasePort = *basePort
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if set["count-own-vote"] {
		cfg.Consensus.CountOwnVote = *countOwn
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.SetFlag(level)

	c, err := cluster.Launch(cfg)
	if err != nil {
		log.Fatalf("Failed to launch cluster: %v", err)
	}
	defer c.Close()
	logger.Info("Nodes listening on %v", c.Addrs())

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := c.StartAll(ctx); err != nil {
		log.Fatalf("Failed to start consensus: %v", err)
	}
	states, err := c.AwaitDecision(ctx, 100*time.Millisecond)
	if err != nil {
		logger.Warn("Cluster did not settle: %v", err)
	}
	for i, st := range states {
		data, _ := json.Marshal(st)
		logger.Info("Node %d: %s", i, data)
	}
}
