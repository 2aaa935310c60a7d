package domain

import "strings"

const (
	// StatusBroadcastJID is the reserved channel carrying status stories.
	StatusBroadcastJID = "status@broadcast"

	GroupServer = "g.us"
	UserServer  = "s.whatsapp.net"
)

// SplitJID returns the user and server parts of "user[:device]@server".
// The device suffix is dropped from user.
func SplitJID(jid string) (user, server string) {
	at := strings.LastIndexByte(jid, '@')
	if at < 0 {
		return stripDevice(jid), ""
	}
	return stripDevice(jid[:at]), jid[at+1:]
}

func stripDevice(user string) string {
	if i := strings.IndexByte(user, ':'); i >= 0 {
		return user[:i]
	}
	return user
}

// IsGroupJID reports whether jid addresses a group chat.
func IsGroupJID(jid string) bool {
	_, server := SplitJID(jid)
	return server == GroupServer
}

// SameUser compares two JIDs ignoring the device part, so a message sent from
// a linked device still matches the account identity.
func SameUser(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	ua, sa := SplitJID(a)
	ub, sb := SplitJID(b)
	return ua == ub && sa == sb
}

// UserJID builds the private-chat JID for a phone number.
func UserJID(number string) string {
	return number + "@" + UserServer
}
