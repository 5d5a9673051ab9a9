package badger

import (
	"encoding/binary"

	"github.com/poiesic/chatstore/core"
)

// Key layout:
//
//	<entity>:<key>                      row
//	<entity>/u/<constraint>/<value>     unique index, value holds the row key
//	seq:<entity>                        identifier high-water mark
const (
	rowSeparator   = ":"
	uniqueInfix    = "/u/"
	sequencePrefix = "seq:"
)

// rowPrefix returns the prefix shared by every row of entity.
func rowPrefix(entity string) []byte {
	return []byte(entity + rowSeparator)
}

// makeRowKey appends the encoded key to the entity's row prefix.
func makeRowKey(entity string, key []byte) []byte {
	prefix := rowPrefix(entity)
	buf := make([]byte, len(prefix)+len(key))
	offset := copy(buf, prefix)
	copy(buf[offset:], key)
	return buf
}

// idBytes encodes an ID big-endian so that byte order matches numeric order.
func idBytes(id core.ID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id.Int64()))
	return buf
}

func tokenBytes(t core.Token) []byte {
	return []byte(t.String())
}

// makeUniqueKey generates the index key that claims value for constraint.
func makeUniqueKey(entity, constraint, value string) []byte {
	return []byte(entity + uniqueInfix + constraint + "/" + value)
}

func makeSequenceKey(entity string) []byte {
	return []byte(sequencePrefix + entity)
}
