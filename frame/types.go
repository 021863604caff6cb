package frame

// Kind discriminates the four frame variants on the wire. There is no
// frame type outside this closed set.
type Kind string

const (
	// KindSkeleton is the mandatory first frame of a stream: the full
	// document shape with every leaf zeroed.
	KindSkeleton Kind = "skeleton"
	// KindPatch carries a batch of same-priority field updates.
	KindPatch Kind = "patch"
	// KindComplete is the terminal success frame.
	KindComplete Kind = "complete"
	// KindError is the terminal failure frame.
	KindError Kind = "error"
)

// Valid reports whether the kind is one of the four frame variants.
func (k Kind) Valid() bool {
	switch k {
	case KindSkeleton, KindPatch, KindComplete, KindError:
		return true
	default:
		return false
	}
}

// Terminal reports whether frames of this kind end a stream.
func (k Kind) Terminal() bool {
	return k == KindComplete || k == KindError
}

// String returns the wire discriminator.
func (k Kind) String() string { return string(k) }

// PatchOp is the operation a patch entry applies at its path.
type PatchOp string

const (
	// OpSet writes the value at the path, replacing whatever is there.
	OpSet PatchOp = "set"
	// OpAppend appends the value to the array at the path.
	OpAppend PatchOp = "append"
	// OpMerge merges the value's keys into the object at the path.
	OpMerge PatchOp = "merge"
	// OpDelete removes the member or element at the path.
	OpDelete PatchOp = "delete"
)

// Valid reports whether the operation is one of the four patch verbs.
func (op PatchOp) Valid() bool {
	switch op {
	case OpSet, OpAppend, OpMerge, OpDelete:
		return true
	default:
		return false
	}
}

// String returns the wire form of the operation.
func (op PatchOp) String() string { return string(op) }
