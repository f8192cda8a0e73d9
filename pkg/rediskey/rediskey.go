package rediskey

import (
	"fmt"
	"strings"
)

const (
	CachePrefix    = "cache"
	SequencePrefix = "seq"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildResourceKey returns "cache:{scope}:{resource}:{id}". Scope is the
// client id, or "global" for lookups made before a client is known.
func BuildResourceKey(scope, resource, id string) string {
	if scope == "" {
		scope = "global"
	}
	return NamespaceKey(CachePrefix, strings.Join([]string{scope, resource, id}, ":"))
}

// BuildSequenceKey returns "seq:{prefix}:{scope}:{day}".
func BuildSequenceKey(prefix, scope, day string) string {
	return NamespaceKey(SequencePrefix, strings.Join([]string{prefix, scope, day}, ":"))
}
