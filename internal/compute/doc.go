// Package compute provides the math backend for matrix-vector products.
//
// The CPU backend splits large products by rows across a configurable
// number of goroutines. Stage-parallel code lowers the backend to a single
// worker while its own pool runs:
//
//	pool := dynamo.NewPool(threads, compute.GetBackend())
//
// [dynamo.Pool] restores the previous worker count when the parallel region
// ends.
package compute
