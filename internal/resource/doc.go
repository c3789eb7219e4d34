// Package resource bounds the scarce resources of a scene: the byte budget
// of resident nodes, the number of concurrent build workers and the
// throughput of snapshot IO.
package resource
