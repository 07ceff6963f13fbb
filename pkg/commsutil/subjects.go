package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectLinkPrefix  = "rpc.link"
	SubjectPeerChanged = "hub.peers.changed"
)

// BuildLinkSubject builds the subject a node listens on for traffic sent
// from one peer to another. Each direction of a link has its own subject.
func BuildLinkSubject(from, to string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectLinkPrefix, token(from), token(to))
}

// BuildPeerEventSubject builds a granular peer change event subject.
func BuildPeerEventSubject(hub, peer string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPeerChanged, token(hub), token(peer))
}

// token makes a name safe to use as a single subject token.
func token(name string) string {
	r := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")
	return r.Replace(name)
}
