/* SPDX-License-Identifier: BSD-2-Clause */

package uffd

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// retryOnEINTR runs fn, retrying as long as it reports EINTR.
func retryOnEINTR(fn func() error) error {
	for {
		err := fn()
		if err != unix.EINTR {
			return err
		}
	}
}

// UnprivilegedUserfaultfdAllowed returns true if
// /proc/sys/vm/unprivileged_userfaultfd contains 1
func UnprivilegedUserfaultfdAllowed() bool {
	data, err := os.ReadFile("/proc/sys/vm/unprivileged_userfaultfd")
	if err != nil {
		return false
	}
	if v, err := strconv.Atoi(strings.TrimSpace(string(data))); err != nil {
		return false
	} else {
		return v == 1
	}
}
