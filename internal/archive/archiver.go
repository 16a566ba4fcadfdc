package archive

import (
	"context"
	"errors"
	"fmt"
)

const (
	// KindCommand selects CommandArchiver.
	KindCommand = "command"
	// KindNative selects NativeArchiver.
	KindNative = "native"
)

var errUnknownKind = errors.New("unknown archiver kind")

// Archiver unpacks and packs whole directory trees.
type Archiver interface {
	// Unpack extracts every entry of archive below dir.
	Unpack(ctx context.Context, archive, dir string) error
	// Pack writes the tree at dir/root into archive, naming entries relative to dir.
	// An existing archive is replaced.
	Pack(ctx context.Context, dir, root, archive string) error
}

// NewArchiver returns the Archiver registered under kind.
//
//nolint:ireturn // Callers pick the implementation at runtime.
func NewArchiver(kind string) (Archiver, error) {
	switch kind {
	case KindCommand:
		return NewCommandArchiver(), nil
	case KindNative:
		return NewNativeArchiver(), nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownKind, kind)
	}
}
