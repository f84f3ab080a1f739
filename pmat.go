// ABOUTME: Main pmat package providing version information and package documentation
// ABOUTME: This is the root package for the dump analysis tool

// Package pmat provides an offline analyzer for PMAT heap dump files:
// a binary dump loader, a typed value-object graph, reference and
// reachability analyses, symbol resolution, and reverse-reference tracing.
package pmat

// Version is the semantic version of the pmat tool
const Version = "0.1.0-dev"
