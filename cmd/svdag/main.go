// Command svdag builds sparse voxel DAG snapshots, inspects them and serves
// them through a shared memory region.
package main

func main() {
	Execute()
}
