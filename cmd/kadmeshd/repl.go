package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/TheoBaudoinLighting/kadmesh"
	"github.com/TheoBaudoinLighting/kadmesh/proto"
)

// repl is the interactive command loop for a running node, replacing the
// teacher's socket-based CommandServer (commandserver.go) with a single
// in-process stdin/stdout dispatcher - there is no second process to talk
// to here, so a line-oriented REPL is the natural analogue.
type repl struct {
	peer *kadmesh.Peer
}

func newREPL(peer *kadmesh.Peer) *repl {
	return &repl{peer: peer}
}

func (r *repl) Run(in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "kadmeshd ready, type 'help' for commands")
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		if fields[0] == "exit" || fields[0] == "quit" {
			return nil
		}

		if err := r.dispatch(fields, out); err != nil {
			fmt.Fprintln(out, "error:", err)
		}
	}
}

func (r *repl) dispatch(fields []string, out io.Writer) error {
	switch fields[0] {
	case "help":
		r.help(out)

	case "connect":
		if len(fields) != 3 {
			return fmt.Errorf("usage: connect <address> <port>")
		}
		port, err := strconv.Atoi(fields[2])
		if err != nil {
			return err
		}
		_, err = r.peer.Connect(fields[1], port)
		return err

	case "start":
		if len(fields) != 2 {
			return fmt.Errorf("usage: start <port>")
		}
		port, err := strconv.Atoi(fields[1])
		if err != nil {
			return err
		}
		return r.peer.Start(port)

	case "send":
		if len(fields) < 3 {
			return fmt.Errorf("usage: send <peer_id> <text...>")
		}
		id, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return fmt.Errorf("peer_id must be a numeric connection id: %w", err)
		}
		conn, ok := r.peer.Session().Get(id)
		if !ok {
			return fmt.Errorf("no connection with id %d", id)
		}
		msg, err := proto.NewMessage(proto.Data, []byte(strings.Join(fields[2:], " ")))
		if err != nil {
			return err
		}
		conn.Send(msg)

	case "broadcast":
		if len(fields) < 2 {
			return fmt.Errorf("usage: broadcast <text...>")
		}
		msg, err := proto.NewMessage(proto.Data, []byte(strings.Join(fields[1:], " ")))
		if err != nil {
			return err
		}
		r.peer.Session().Broadcast(msg)

	case "connections":
		fmt.Fprintf(out, "%d live connection(s)\n", r.peer.Session().Count())
		for _, conn := range r.peer.Session().Connections() {
			fmt.Fprintf(out, "  %s\n", conn.RemoteAddress())
		}

	case "dht":
		return r.dispatchDHT(fields[1:], out)

	default:
		return fmt.Errorf("unknown command %q, try 'help'", fields[0])
	}
	return nil
}

func (r *repl) dispatchDHT(fields []string, out io.Writer) error {
	if len(fields) == 0 {
		return fmt.Errorf("usage: dht <enable|bootstrap|store|get|stats>")
	}

	switch fields[0] {
	case "enable":
		return r.peer.EnableDHT()

	case "bootstrap":
		if len(fields) != 2 {
			return fmt.Errorf("usage: dht bootstrap <address:port>")
		}
		return bootstrap(r.peer, fields[1])

	case "store":
		if len(fields) < 3 {
			return fmt.Errorf("usage: dht store <key> <value...>")
		}
		if r.peer.DHT() == nil {
			return fmt.Errorf("dht not enabled")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return r.peer.DHT().Store(ctx, []byte(fields[1]), []byte(strings.Join(fields[2:], " ")))

	case "get":
		if len(fields) != 2 {
			return fmt.Errorf("usage: dht get <key>")
		}
		if r.peer.DHT() == nil {
			return fmt.Errorf("dht not enabled")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		value, found, err := r.peer.DHT().Retrieve(ctx, []byte(fields[1]))
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintln(out, "not found")
			return nil
		}
		fmt.Fprintln(out, string(value))

	case "stats":
		if r.peer.DHT() == nil {
			return fmt.Errorf("dht not enabled")
		}
		stats := r.peer.DHT().Stats()
		fmt.Fprintf(out, "routing table: %d contacts, local store: %d entries\n",
			stats.RoutingTableSize, stats.StoredEntries)

	default:
		return fmt.Errorf("unknown dht subcommand %q", fields[0])
	}
	return nil
}

func (r *repl) help(out io.Writer) {
	fmt.Fprintln(out, `commands:
  start <port>                    bind the listening socket and start accepting peers
  connect <address> <port>        dial a peer
  send <peer_id> <text...>        send a DATA frame to a connected peer, by connection id
  broadcast <text...>             send a DATA frame to every connected peer
  connections                     count live connections
  dht enable                      start the DHT engine
  dht bootstrap <address:port>    seed the routing table from a known peer
  dht store <key> <value...>      store a value under key
  dht get <key>                   retrieve the value stored under key
  dht stats                       show routing table and local store sizes
  help                            show this message
  exit                            quit`)
}

// bootstrap connects to addr and runs a self-lookup against it so the
// node's own neighbourhood gets populated, mirroring the teacher's
// Peer.Bootstrap (peer.go) but against this module's iterative FIND_NODE
// instead of a one-shot DHT insert.
func bootstrap(peer *kadmesh.Peer, addr string) error {
	host, portStr, err := splitAddr(addr)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return err
	}

	if _, err := peer.Connect(host, port); err != nil {
		return err
	}

	if peer.DHT() == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = peer.DHT().LookupNode(ctx, peer.Self().ID)
	if err != nil {
		log.WithError(err).Debug("bootstrap self-lookup did not fully complete")
	}
	return nil
}

func splitAddr(addr string) (string, string, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("address %q is not host:port", addr)
	}
	return addr[:idx], addr[idx+1:], nil
}
