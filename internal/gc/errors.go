package gc

import "fmt"

func errUnknownHandle(h Handle) error {
	return fmt.Errorf("gc: unknown handle %d", h)
}
