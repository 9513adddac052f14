package mmongo

import "strings"

// SplitNamespace returns db, collection
func SplitNamespace(namespace string) (string, string) {
	dot := strings.Index(namespace, ".")
	if dot < 0 {
		return namespace, ""
	}
	return namespace[:dot], namespace[dot+1:]
}

// JoinNamespace returns "db.collection".
func JoinNamespace(db, coll string) string {
	return db + "." + coll
}
