// Package tally implements a peer node which scans large files in
// cooperation with other nodes.
//
// Every node splits the files registered with it into content-addressed
// chunks and hands chunks to workers on demand. Values computed by workers
// are stored once per chunk and pushed to the node's peers, so the total
// reported by any node converges without counting a chunk twice. Nodes find
// each other by polling the status of their known peers.
//
// A Node is transport agnostic. The api package exposes a Node over HTTP,
// and the client package invokes the same API from other processes.
package tally
