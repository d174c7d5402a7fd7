package redis

import "github.com/xraph/courier/broker"

// Key prefixes for primary entity storage.
const (
	prefixMessage = "courier:msg:"
	prefixBroker  = "courier:brk:"
)

// Key prefixes for unique indexes.
const (
	uniqueBrokerKey = "courier:u:brk:" // + family + ":" + broker key
)

// Key prefixes for sorted set indexes.
const (
	zMessageAll      = "courier:z:msg:all"
	zMessageProtocol = "courier:z:msg:proto:" // + protocol
	zBrokerFamily    = "courier:z:brk:fam:"   // + family
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}

// brokerKeyIndex returns the unique index key for a broker key within a family.
func brokerKeyIndex(family broker.Family, key string) string {
	return uniqueBrokerKey + string(family) + ":" + key
}
