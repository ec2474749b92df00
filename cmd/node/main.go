// Command node starts a single paxokv replica or client and drives it
// from an interactive REPL.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/duskmere/paxokv/chain"
	"github.com/duskmere/paxokv/client"
	"github.com/duskmere/paxokv/config"
	"github.com/duskmere/paxokv/dict"
	"github.com/duskmere/paxokv/events"
	"github.com/duskmere/paxokv/historyindex"
	"github.com/duskmere/paxokv/network"
	"github.com/duskmere/paxokv/paxosproto"
	"github.com/duskmere/paxokv/replica"
)

func main() {
	cfgPath := flag.String("config", "", "path to a config JSON file (built-in defaults are used if omitted or absent)")
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: node [-config path] <s|c> <pid>")
		os.Exit(2)
	}

	nodeRole, err := parseRole(args[0])
	if err != nil {
		log.Fatal(err)
	}
	pid, err := strconv.Atoi(args[1])
	if err != nil {
		log.Fatalf("pid: %v", err)
	}

	cfg := loadConfig(*cfgPath, nodeRole, pid)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	dataDir := fmt.Sprintf("%s/%s-%d", cfg.DataDir, nodeRole, pid)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Fatalf("mkdir data dir: %v", err)
	}

	emitter := events.NewEmitter()
	protoRole := paxosproto.RoleClient
	if nodeRole == config.Server {
		protoRole = paxosproto.RoleServer
	}
	self := paxosproto.Sender{Pid: pid, Role: protoRole}

	switch nodeRole {
	case config.Server:
		runServer(pid, cfg, self, dataDir, emitter)
	case config.ClientRole:
		runClient(pid, cfg, self)
	}
}

func runServer(pid int, cfg *config.Config, self paxosproto.Sender, dataDir string, emitter *events.Emitter) {
	bc, err := chain.Open(dataDir + "/blockchain.log")
	if err != nil {
		log.Fatalf("open blockchain log: %v", err)
	}
	d := dict.New()

	hist, err := historyindex.Open(dataDir+"/history", emitter)
	if err != nil {
		log.Fatalf("open history index: %v", err)
	}
	defer hist.Close()

	var rep *replica.Replica
	msn := network.NewMessenger(self, cfg, func(msg paxosproto.Message) {
		rep.HandleMessage(msg)
	})
	rep = replica.New(pid, cfg, bc, d, emitter, msn)

	if err := msn.Listen(); err != nil {
		log.Fatalf("listen: %v", err)
	}
	log.Printf("server %d listening at %s", pid, cfg.Roster.ServerAddrs[pid])
	msn.ConnectAll()

	repl(role{name: "Server", pid: pid}, msn, nil, rep)
}

func runClient(pid int, cfg *config.Config, self paxosproto.Sender) {
	var cli *client.Client
	msn := network.NewMessenger(self, cfg, func(msg paxosproto.Message) {
		cli.HandleMessage(msg)
	})
	cli = client.New(pid, cfg, msn)

	if err := msn.Listen(); err != nil {
		log.Fatalf("listen: %v", err)
	}
	log.Printf("client %d listening at %s", pid, cfg.Roster.ClientAddrs[pid])
	msn.ConnectAll()

	repl(role{name: "Client", pid: pid}, msn, cli, nil)
}

// role identifies the node driving the REPL, for prompts and command
// gating (some commands are server-only or client-only).
type role struct {
	name string
	pid  int
}

func parseRole(s string) (config.NodeType, error) {
	switch strings.ToLower(s) {
	case "s", "server":
		return config.Server, nil
	case "c", "client":
		return config.ClientRole, nil
	default:
		return "", fmt.Errorf("unknown role %q (want s|server or c|client)", s)
	}
}

func loadConfig(path string, r config.NodeType, pid int) *config.Config {
	if path != "" {
		cfg, err := config.Load(path)
		if err == nil {
			cfg.Role, cfg.Pid = r, pid
			return cfg
		}
		if !os.IsNotExist(err) {
			log.Fatalf("config: %v", err)
		}
	}
	cfg := config.DefaultConfig()
	cfg.Role, cfg.Pid = r, pid
	return cfg
}

func repl(rl role, msn *network.Messenger, cli *client.Client, rep *replica.Replica) {
	fmt.Printf("(%s %d) ready. Type a command (try 'help').\n", rl.name, rl.pid)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("(%s %d)> ", rl.name, rl.pid)
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, rest := fields[0], fields[1:]

		switch cmd {
		case "help":
			printHelp()
		case "connect", "c":
			msn.ConnectAll()
			fmt.Println("reconnected to roster")
		case "q":
			msn.Quit()
			return
		case "failProcess":
			msn.Disconnect()
			fmt.Println("process marked failed (links dropped, listener closed)")
		case "fixProcess":
			if err := msn.Listen(); err != nil {
				fmt.Println("fixProcess:", err)
				continue
			}
			msn.ConnectAll()
			fmt.Println("process restored")
		case "broadcast":
			cmdBroadcast(msn, rest)
		case "unicast":
			cmdUnicast(msn, rest)
		case "failLink":
			cmdLink(rest, msn.FailLink, "failed")
		case "fixLink":
			cmdLink(rest, msn.FixLink, "fixed")
		case "random":
			cmdRandom(rl, cli)
		case "op":
			cmdOp(rl, cli, rest)
		case "printBlockchain", "pb":
			cmdPrintBlockchain(rep)
		case "printKVStore", "pk":
			cmdPrintKVStore(rep)
		case "printQueue", "pq":
			cmdPrintQueue(rep)
		default:
			fmt.Printf("unknown command %q (try 'help')\n", cmd)
		}
	}
}

func printHelp() {
	fmt.Println(`commands:
  connect | c                       dial every peer in the roster
  q                                 quit gracefully
  failProcess / fixProcess          simulate this process crashing / recovering
  broadcast <s|c|a>                 send a TEST message to servers (s), or to servers and clients (c or a)
  unicast <s|c> <pid>               send a TEST message to one peer
  failLink <s|c> <pid>              sever the outbound link to one peer
  fixLink <s|c> <pid>               restore a severed link
  random                            (client) send a random GET/PUT request, response prints when it arrives
  op <get|put> <key> [value]        (client) send a request, response prints when it arrives (does not block the prompt)
  printBlockchain | pb              (server) print the local block log
  printKVStore | pk                 (server) print the current dictionary
  printQueue | pq                   (server) print pending client requests`)
}

func parsePeerRole(s string) (paxosproto.Role, bool) {
	switch strings.ToLower(s) {
	case "s", "server":
		return paxosproto.RoleServer, true
	case "c", "client":
		return paxosproto.RoleClient, true
	default:
		return "", false
	}
}

func cmdBroadcast(msn *network.Messenger, args []string) {
	if len(args) < 1 {
		fmt.Println("usage: broadcast <s|c|a>")
		return
	}
	msg := paxosproto.Message{Kind: paxosproto.KindTest, Value: "hello from broadcast"}
	switch strings.ToLower(args[0]) {
	case "s", "server":
		msn.Broadcast(msg)
	case "c", "client", "a", "all":
		msn.BroadcastAll(msg)
	default:
		fmt.Println("usage: broadcast <s|c|a>")
		return
	}
	fmt.Println("broadcast sent")
}

func cmdUnicast(msn *network.Messenger, args []string) {
	if len(args) < 2 {
		fmt.Println("usage: unicast <s|c> <pid>")
		return
	}
	peerRole, ok := parsePeerRole(args[0])
	if !ok {
		fmt.Println("usage: unicast <s|c> <pid>")
		return
	}
	pid, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Println("bad pid:", err)
		return
	}
	msg := paxosproto.Message{Kind: paxosproto.KindTest, Value: "hello from unicast"}
	if err := msn.Send(pid, peerRole, msg); err != nil {
		fmt.Println("unicast failed:", err)
		return
	}
	fmt.Println("unicast sent")
}

func cmdLink(args []string, apply func(int, paxosproto.Role), verb string) {
	if len(args) < 2 {
		fmt.Println("usage: <fail|fix>Link <s|c> <pid>")
		return
	}
	peerRole, ok := parsePeerRole(args[0])
	if !ok {
		fmt.Println("usage: <fail|fix>Link <s|c> <pid>")
		return
	}
	pid, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Println("bad pid:", err)
		return
	}
	apply(pid, peerRole)
	fmt.Printf("link to %s %d %s\n", peerRole, pid, verb)
}

func cmdRandom(rl role, cli *client.Client) {
	if cli == nil {
		fmt.Println("random is client-only")
		return
	}
	key := fmt.Sprintf("key%d", rand.Intn(100))
	var op chain.Operation
	if rand.Intn(2) == 0 {
		op = chain.NewGet(key)
	} else {
		var err error
		op, err = chain.NewPut(key, fmt.Sprintf("value%d", rand.Intn(1000)))
		if err != nil {
			fmt.Println("build put:", err)
			return
		}
	}
	fmt.Printf("(%s %d) sending random %s %s\n", rl.name, rl.pid, op.Op, op.Key)
	go func() {
		result := cli.Request(op)
		fmt.Printf("\n(%s %d) response to %s %s: %s\n", rl.name, rl.pid, op.Op, op.Key, result)
	}()
}

func cmdOp(rl role, cli *client.Client, args []string) {
	if cli == nil {
		fmt.Println("op is client-only")
		return
	}
	if len(args) < 2 {
		fmt.Println("usage: op <get|put> <key> [value]")
		return
	}
	var op chain.Operation
	switch strings.ToLower(args[0]) {
	case "get":
		op = chain.NewGet(args[1])
	case "put":
		if len(args) < 3 {
			fmt.Println("usage: op put <key> <value>")
			return
		}
		var err error
		op, err = chain.NewPut(args[1], args[2])
		if err != nil {
			fmt.Println("build put:", err)
			return
		}
	default:
		fmt.Println("usage: op <get|put> <key> [value]")
		return
	}
	fmt.Printf("(%s %d) sending %s %s...\n", rl.name, rl.pid, op.Op, op.Key)
	go func() {
		result := cli.Request(op)
		fmt.Printf("\n(%s %d) response to %s %s: %s\n", rl.name, rl.pid, op.Op, op.Key, result)
	}()
}

func cmdPrintBlockchain(rep *replica.Replica) {
	if rep == nil {
		fmt.Println("printBlockchain is server-only")
		return
	}
	for i, b := range rep.Blockchain().Snapshot() {
		tag := "decided"
		if b.Tentative {
			tag = "tentative"
		}
		fmt.Printf("  [%d] %s %s (%s)\n", i, b.Operation.Op, b.Operation.Key, tag)
	}
}

func cmdPrintKVStore(rep *replica.Replica) {
	if rep == nil {
		fmt.Println("printKVStore is server-only")
		return
	}
	for k, v := range rep.Dictionary().Snapshot() {
		fmt.Printf("  %s = %s\n", k, v)
	}
}

func cmdPrintQueue(rep *replica.Replica) {
	if rep == nil {
		fmt.Println("printQueue is server-only")
		return
	}
	for i, req := range rep.QueueSnapshot() {
		fmt.Printf("  [%d] %s %s from client %d\n", i, req.Op.Op, req.Op.Key, req.Sender.Pid)
	}
}
