package release

import (
	"fmt"
	"strings"
)

// Channel is a release track with its own independently versioned artifact.
type Channel string

const (
	ChannelStable Channel = "stable"
	ChannelBeta   Channel = "beta"
	ChannelDev    Channel = "dev"
)

// Channels lists every channel in resolution order.
func Channels() []Channel {
	return []Channel{ChannelStable, ChannelBeta, ChannelDev}
}

// ParseChannel converts user input into a Channel.
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case ChannelStable, ChannelBeta, ChannelDev:
		return c, nil
	case "":
		return ChannelStable, nil
	default:
		return "", fmt.Errorf("unknown channel %q (valid: stable, beta, dev)", s)
	}
}

// Mandatory reports whether failing to resolve this channel aborts the run.
func (c Channel) Mandatory() bool {
	return c == ChannelStable
}

func (c Channel) String() string {
	return string(c)
}
