//go:build !unix

package ledger

import "os"

// Advisory locking is unavailable; only in-process exclusion applies.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }
