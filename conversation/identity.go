package conversation

import (
	"sort"
	"strings"

	"chatroute/models"
)

// Identity keys a conversation: one local owner, one or more remote
// participants, and the network the remote side belongs to.
type Identity struct {
	ID      string
	Owner   string
	Remote  []string
	Network models.NetworkType
}

// Features lists what a conversation may carry besides plain messages.
type Features struct {
	FileTransfer    bool
	Activities      bool
	CustomEmoticons bool
}

// Features returns the feature set allowed by the identity's network.
// Gateway-member conversations only carry text and nudges.
func (id Identity) Features() Features {
	if id.Network == models.NetworkGateway {
		return Features{}
	}
	return Features{
		FileTransfer:    true,
		Activities:      true,
		CustomEmoticons: true,
	}
}

// DirectID derives the identity key of a one-to-one conversation. The key
// does not depend on argument order or letter case.
func DirectID(owner, remote string) string {
	pair := []string{strings.ToLower(strings.TrimSpace(owner)), strings.ToLower(strings.TrimSpace(remote))}
	sort.Strings(pair)
	return "direct:" + pair[0] + "|" + pair[1]
}
