// Package bootstrap loads the peer links a hub establishes at startup.
package bootstrap

// PeerLink is one configured peer. The hub registers the link under ID and
// talks to the node named Remote over the rpc.link.<hub>.<Remote> subject pair.
type PeerLink struct {
	ID          string `json:"id"`
	Remote      string `json:"remote,omitempty"`
	Description string `json:"description,omitempty"`
	Disabled    bool   `json:"disabled,omitempty"`
	// PublishRate and PublishBurst override the hub-wide throttle for this link.
	PublishRate  float64 `json:"publishRate,omitempty"`
	PublishBurst int     `json:"publishBurst,omitempty"`
}

// RemoteName returns the node name used in link subjects.
func (l PeerLink) RemoteName() string {
	if l.Remote != "" {
		return l.Remote
	}
	return l.ID
}

// PeerLinksConfig is the root of a peer-link file.
type PeerLinksConfig struct {
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	Description string     `json:"description,omitempty"`
	Links       []PeerLink `json:"links"`
}

// Enabled returns the links that are not disabled and have an id, in file order.
func (c *PeerLinksConfig) Enabled() []PeerLink {
	out := make([]PeerLink, 0, len(c.Links))
	for _, l := range c.Links {
		if l.Disabled || l.ID == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}
