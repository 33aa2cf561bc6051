/*
Zmp runs named worker processes that provide services to each other over
ZeroMQ request/reply sockets.

A node (package node) owns one endpoint and serves the services registered on
it, one request at a time, from its own supervised worker loop (package
supervisor). Starting a node publishes its services in a registry (package
registry); stopping it withdraws them again. Clients (package client) look up
a service by name pattern, wait until enough providers exist and then call
them round robin, optionally pinning a call to one node.

Arguments and results travel as msgpack inside protocol buffer envelopes
(packages proto and wire). A failing service answers with an exception that
the client returns as *client.RemoteServiceError; the node keeps serving.

E.g.:

	Registry (file, etcd or in-process)
		+ add        -> node "adder"  ipc:///tmp/zmp/adder.pipe
		+ getlucky   -> node "alpha"  tcp://10.0.0.1:5555
		             -> node "beta"   tcp://10.0.0.2:5555

The zmp command (cmd/zmp) runs demo nodes, supervises configured nodes as
child processes and calls services from the shell.
*/
package zmp
