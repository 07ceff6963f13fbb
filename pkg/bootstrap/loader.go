package bootstrap

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

const logPrefix = "bootstrap:loader"

// LoadPeerLinks loads the peer-link file. Paths passed in are tried first,
// then HUB_PEERS_FILE, then the default locations. With no readable file
// an empty default config is returned.
func LoadPeerLinks(paths ...string) (*PeerLinksConfig, error) {
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("HUB_PEERS_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/peers.json", "peers.json")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		var cfg PeerLinksConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse peer-link file %s: %v", logPrefix, p, err))
			continue
		}

		slog.Info(fmt.Sprintf("%s - Loaded %d peer links from %s", logPrefix, len(cfg.Links), p))
		return &cfg, nil
	}

	slog.Info(fmt.Sprintf("%s - No peer-link file found, using defaults", logPrefix))
	return GetDefaultPeerLinks(), nil
}

// GetDefaultPeerLinks returns an empty link set.
func GetDefaultPeerLinks() *PeerLinksConfig {
	return &PeerLinksConfig{
		Name:        "hub-peers",
		Version:     "1.0.0",
		Description: "No peers configured",
		Links:       []PeerLink{},
	}
}

// ParsePeerList parses a comma separated HUB_PEERS value. Each entry is
// either "id" or "id=remote".
func ParsePeerList(list string) []PeerLink {
	var links []PeerLink
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, remote, _ := strings.Cut(entry, "=")
		id, remote = strings.TrimSpace(id), strings.TrimSpace(remote)
		if id == "" {
			continue
		}
		links = append(links, PeerLink{ID: id, Remote: remote})
	}
	return links
}

// MergePeerLinks adds override links to base. A link in override replaces
// the base link with the same id in place; new ids are appended.
func MergePeerLinks(base *PeerLinksConfig, override []PeerLink) *PeerLinksConfig {
	merged := *base
	merged.Links = make([]PeerLink, 0, len(base.Links)+len(override))

	index := make(map[string]int, len(base.Links))
	for _, l := range base.Links {
		index[l.ID] = len(merged.Links)
		merged.Links = append(merged.Links, l)
	}
	for _, l := range override {
		if i, ok := index[l.ID]; ok {
			merged.Links[i] = l
			continue
		}
		index[l.ID] = len(merged.Links)
		merged.Links = append(merged.Links, l)
	}
	return &merged
}
