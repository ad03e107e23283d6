package rv

import "fmt"

// TxType is a closed transaction-type tag, for filesystems that want
// typed call sites instead of passing bare strings into TxStart/TxCommit.
// A plugin built against a filesystem with its own transaction taxonomy
// is free to keep using plain strings — both are accepted.
type TxType int

const (
	TxNone TxType = iota
	TxWrite
	TxCreate
	TxRemove
	TxUnmount
)

var txTypeNames = [...]string{
	"none",
	"write",
	"create",
	"remove",
	"unmount",
}

// String lower-cases the tag name, matching the case spec.md's
// transaction log lines expect.
func (t TxType) String() string {
	if t < 0 || int(t) >= len(txTypeNames) {
		return "unknown"
	}
	return txTypeNames[t]
}

// txTypeName normalizes whatever TxStart/TxCommit were called with down
// to the plain string the plugin vtable and the log lines actually want.
func txTypeName(v interface{}) string {
	switch t := v.(type) {
	case TxType:
		return t.String()
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
