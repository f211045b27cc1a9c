package net

// RPCResponse carries the outcome of a gossip command back to the transport:
// a *SyncResponse or *EagerSyncResponse on success, or the error that the
// remote node should relay to its caller (a banned-member refusal, an unknown
// community, a failed diff).
type RPCResponse struct {
	Response interface{}
	Error    error
}

// RPC is a gossip command (*SyncRequest or *EagerSyncRequest) handed to the
// node through the transport's consumer channel, together with the channel on
// which the node delivers its response.
type RPC struct {
	Command  interface{}
	RespChan chan<- RPCResponse
}

// Respond delivers the response for this command. Every RPC read from a
// consumer channel must be responded to exactly once, otherwise the remote
// node blocks until its timeout.
func (r *RPC) Respond(resp interface{}, err error) {
	r.RespChan <- RPCResponse{resp, err}
}
