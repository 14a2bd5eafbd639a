package loader

import "fmt"

// InvalidLibraryError covers every way loading a library can fail:
// the file isn't a recognizable shared library, or it's missing one
// of the three required exported symbols.
type InvalidLibraryError struct {
	Path, Reason string
}

func (e *InvalidLibraryError) Error() string {
	return fmt.Sprintf("loader: invalid library %q: %s", e.Path, e.Reason)
}

// AbiMismatchError is returned when get_abi_version disagrees with
// the runtime's compiled-in constant.
type AbiMismatchError struct {
	Path string
	Got, Want uint32
}

func (e *AbiMismatchError) Error() string {
	return fmt.Sprintf("loader: %q was built against abi version %d, runtime expects %d", e.Path, e.Got, e.Want)
}
