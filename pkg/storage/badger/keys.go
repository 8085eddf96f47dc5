package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/marmos91/dittochat/pkg/storage"
)

// Key Schema:
//
//	m:schema                  -> schema version
//	seq:<kind>                -> last minted id (8 bytes, big endian)
//	u:<uid>                   -> userRecord
//	un:<name>                 -> uid
//	us:<uid>:<setting>        -> CBOR value
//	n:<uid>:<nid>             -> networkRecord
//	b:<uid>:<bid>             -> bufferRecord
//	bn:<nid>:<normalized name> -> bid
//	msg:<bid>:<mid>           -> messageRecord
//
// Numeric ids are rendered as fixed-width hex so lexical key order matches
// numeric order and prefix scans return ascending ids.

const keySchema = "m:schema"

func keySeq(kind string) []byte { return []byte("seq:" + kind) }

func keyUser(id storage.UserID) []byte { return []byte(fmt.Sprintf("u:%016x", int64(id))) }

func keyUserName(name string) []byte { return []byte("un:" + name) }

func keySettingPrefix(user storage.UserID) []byte {
	return []byte(fmt.Sprintf("us:%016x:", int64(user)))
}

func keySetting(user storage.UserID, name string) []byte {
	return append(keySettingPrefix(user), name...)
}

func keyNetworkPrefix(user storage.UserID) []byte {
	return []byte(fmt.Sprintf("n:%016x:", int64(user)))
}

func keyNetwork(user storage.UserID, id storage.NetworkID) []byte {
	return []byte(fmt.Sprintf("n:%016x:%016x", int64(user), int64(id)))
}

func keyBufferPrefix(user storage.UserID) []byte {
	return []byte(fmt.Sprintf("b:%016x:", int64(user)))
}

func keyBuffer(user storage.UserID, id storage.BufferID) []byte {
	return []byte(fmt.Sprintf("b:%016x:%016x", int64(user), int64(id)))
}

func keyBufferName(network storage.NetworkID, name string) []byte {
	return []byte(fmt.Sprintf("bn:%016x:%s", int64(network), storage.NormalizeBufferName(name)))
}

func keyMessagePrefix(buffer storage.BufferID) []byte {
	return []byte(fmt.Sprintf("msg:%016x:", int64(buffer)))
}

func keyMessage(buffer storage.BufferID, id storage.MsgID) []byte {
	return []byte(fmt.Sprintf("msg:%016x:%016x", int64(buffer), int64(id)))
}

func encodeID(id int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return buf[:]
}

func decodeID(val []byte) (int64, error) {
	if len(val) != 8 {
		return 0, fmt.Errorf("invalid id length %d", len(val))
	}
	return int64(binary.BigEndian.Uint64(val)), nil
}
