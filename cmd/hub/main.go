// Package main is the entrypoint for the capabilities-hub.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/morezero/capabilities-hub/internal/server"
)

const usage = `Usage: hub [command]
       hub serve          Start the hub (COMMS, peer links, HTTP).
       hub peer <name>    Run a demo peer named <name> exposing echo and time.

Commands:
  serve         (default) Start the capabilities hub.
  peer <name>   Link a demo peer to the hub named by SERVICE_NAME.
  help          Show this text.

Environment: COMMS_URL, SERVICE_NAME, HUB_PEERS, HUB_PEERS_FILE, HUB_REMOTE_TIMEOUT,
HUB_HANDLER_TIMEOUT, HUB_RETRY_INTERVAL, HUB_PUBLISH_RATE, HUB_PUBLISH_BURST,
HUB_CHANGE_EVENT_SUBJECT, HUB_REQUEST_TIMEOUT, HUB_HTTP_ADDR, HTTP_PORT, LOG_LEVEL.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "peer":
		if len(args) < 2 || args[1] == "" {
			log.Fatalf("hub peer: require a peer name")
		}
		if err := server.RunPeer(args[1]); err != nil {
			log.Fatalf("hub peer: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("hub: %v", err)
	}
}
