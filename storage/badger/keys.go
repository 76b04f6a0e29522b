package badger

import (
	"encoding/binary"

	"github.com/poiesic/medrag/core"
)

// Key prefixes for different data types
const (
	knowledgePrefix   = "kbchunk:"
	intentPrefix      = "intent:"
	turnPrefix        = "convturn:"
	turnCounterPrefix = "convmax:"
)

// maxKeyPart is the longest user or conversation ID a key can carry.
const maxKeyPart = 1<<16 - 1

// makeIDKey generates prefix:id with the ID in BigEndian order.
func makeIDKey(prefix string, id core.ID) []byte {
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makeConversationPrefix generates prefix:len(user)user len(conv)conv.
// Length prefixes keep IDs containing separators from colliding.
func makeConversationPrefix(prefix, userID, conversationID string) []byte {
	buf := make([]byte, 0, len(prefix)+4+len(userID)+len(conversationID))
	buf = append(buf, prefix...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(userID)))
	buf = append(buf, userID...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(conversationID)))
	buf = append(buf, conversationID...)
	return buf
}

// makeTurnKey generates the key of one turn.
// Format: convturn:<conversation>:turnIndex (BigEndian so keys sort by turn)
func makeTurnKey(userID, conversationID string, turnIndex uint64) []byte {
	buf := makeConversationPrefix(turnPrefix, userID, conversationID)
	return binary.BigEndian.AppendUint64(buf, turnIndex)
}

// makeTurnCounterKey generates the key holding the highest turn index.
func makeTurnCounterKey(userID, conversationID string) []byte {
	return makeConversationPrefix(turnCounterPrefix, userID, conversationID)
}

// seekLast returns a key sorting after every key with the given prefix and
// an 8 byte suffix, for reverse iteration.
func seekLast(prefix []byte) []byte {
	buf := append([]byte(nil), prefix...)
	return append(buf, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
}
