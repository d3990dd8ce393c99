package adapter

import (
	"github.com/flashfs/flashfs/internal/engine"
	fserr "github.com/flashfs/flashfs/pkg/errors"
)

// translate maps an engine error into the unified error space. The
// mapping is total: recognised codes get a dedicated unified code,
// everything else folds into a generic system error that keeps the
// engine's textual name for diagnostics. Called at the boundary
// immediately after every engine call, never deferred.
func translate(err error) error {
	if err == nil {
		return nil
	}
	errno, ok := engine.AsErrno(err)
	if !ok {
		return fserr.Wrap(fserr.CodeSystem, err)
	}
	switch errno {
	case engine.ErrIO, engine.ErrIORead:
		return fserr.Wrap(fserr.CodeReadFailure, err)
	case engine.ErrIOWrite:
		return fserr.Wrap(fserr.CodeWriteFailure, err)
	case engine.ErrIOErase:
		return fserr.Wrap(fserr.CodeEraseFailure, err)
	case engine.ErrCorrupt:
		return fserr.Wrap(fserr.CodeBadFileSystem, err)
	case engine.ErrNoEnt:
		return fserr.Wrap(fserr.CodeNotFound, err)
	case engine.ErrExist:
		return fserr.Wrap(fserr.CodeExists, err)
	case engine.ErrFBig:
		return fserr.Wrap(fserr.CodeTooBig, err)
	case engine.ErrBadF:
		return fserr.Wrap(fserr.CodeInvalidHandle, err)
	case engine.ErrInval:
		return fserr.Wrap(fserr.CodeBadParam, err)
	case engine.ErrNoSpc:
		return fserr.Wrap(fserr.CodeNoSpace, err)
	case engine.ErrNameTooLong:
		return fserr.Wrap(fserr.CodeNameTooLong, err)
	default:
		// NOTDIR, ISDIR, NOTEMPTY, NOMEM, NOATTR and anything the
		// engine grows later stay representable through their
		// textual name.
		return fserr.System(errno.Error(), err)
	}
}

// GetErrorString renders any error from an adapter operation, covering
// both translated-system and natively-recognised codes.
func (fs *FileSystem) GetErrorString(err error) string {
	if err == nil {
		return fserr.OK.String()
	}
	return err.Error()
}
