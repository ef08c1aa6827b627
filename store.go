package imap

// StoreFlagsOp is a flag operation: set, add or delete.
type StoreFlagsOp int

const (
	StoreFlagsSet StoreFlagsOp = iota
	StoreFlagsAdd
	StoreFlagsDel
)

// StoreFlags alters message flags.
type StoreFlags struct {
	Op     StoreFlagsOp
	Silent bool
	Flags  []Flag
}

// Apply returns the flags resulting from applying the operation to cur.
func (store *StoreFlags) Apply(cur Flags) Flags {
	switch store.Op {
	case StoreFlagsSet:
		return NewFlags(store.Flags...)
	case StoreFlagsAdd:
		return cur.With(store.Flags...)
	case StoreFlagsDel:
		return cur.Without(store.Flags...)
	default:
		panic("imap: unknown STORE flag operation")
	}
}
