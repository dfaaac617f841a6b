// Package identity derives store keys from user emails and carries the
// current user's session.
package identity

import "strings"

// ConversationPrefix starts every conversation ID.
const ConversationPrefix = "conversation_"

// SafeKey returns email with every "." and then every "@" replaced by "_",
// making it usable as a store path segment.
func SafeKey(email string) string {
	key := strings.ReplaceAll(email, ".", "_")
	return strings.ReplaceAll(key, "@", "_")
}

// ConversationID returns the identifier shared by both participants of a
// conversation. It does not depend on argument order.
func ConversationID(a, b string) string {
	ka, kb := SafeKey(a), SafeKey(b)
	if kb < ka {
		ka, kb = kb, ka
	}
	return ConversationPrefix + ka + "_" + kb
}

// Collides reports whether two distinct emails map to the same SafeKey.
// Such users would share one store node; nothing prevents it today.
func Collides(a, b string) bool {
	return a != b && SafeKey(a) == SafeKey(b)
}

// PeerKeys returns the keys the other user of conversationID would have if
// email is one of its two users. Keys can contain "_", so more than one
// split may fit; an empty result means email is not a participant. The
// caller still has to confirm that a user with one of these keys exists.
func PeerKeys(conversationID, email string) []string {
	rest, ok := strings.CutPrefix(conversationID, ConversationPrefix)
	if !ok {
		return nil
	}
	key := SafeKey(email)

	var keys []string
	if other, ok := strings.CutPrefix(rest, key+"_"); ok && key <= other {
		keys = append(keys, other)
	}
	if other, ok := strings.CutSuffix(rest, "_"+key); ok && other < key {
		keys = append(keys, other)
	}
	return keys
}
