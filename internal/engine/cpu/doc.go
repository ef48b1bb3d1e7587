// Package cpu is a small reference inference engine that runs dense
// feed-forward models on the host CPU. Models are JSON documents listing
// their ports and a stack of fully connected layers; forward passes use gonum.
//
// The engine exists so the samples and server have a real device to compile
// for. It honours context cancellation while waiting for a stream slot and
// between rows, so timed-out requests release their slot promptly.
package cpu
