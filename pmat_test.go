// ABOUTME: Tests for the main pmat package, verifying basic package setup
// ABOUTME: Ensures the version constant and package import work correctly
package pmat_test

import (
	"testing"

	"github.com/prateek/pmat"
)

func TestVersion(t *testing.T) {
	if pmat.Version == "" {
		t.Error("Version constant should not be empty")
	}

	expectedPrefix := "0."
	if len(pmat.Version) < len(expectedPrefix) || pmat.Version[:len(expectedPrefix)] != expectedPrefix {
		t.Errorf("Version should start with %q, got %q", expectedPrefix, pmat.Version)
	}
}
