//go:build !unix

package cli

import "context"

// foregroundEvents never fires: there is no job control to follow.
func foregroundEvents(ctx context.Context) <-chan bool {
	return nil
}

func suspend() {}
