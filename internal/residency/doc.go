// Package residency decides which DAG nodes are materialized in the shared
// region.
//
// A Manager admits nodes on demand under a byte budget and evicts resident
// nodes chosen by a replaceable Policy. Nodes on the path of an active query
// are pinned and never evicted. Admission is planned before anything is
// evicted, so a request that cannot be satisfied leaves the resident set
// untouched.
package residency
