// Package resolver turns raw response bytes into a typed reply or one of the
// rpcerr kinds.
//
// A response carries no discriminant, so the same bytes are tried against
// two shapes in order:
//
//	bytes ──decode(reply)──────────► ok ──checkStatus?──► nil | *ServerError
//	  │
//	  └─fail──decode(ErrorEnvelope)─► ok ──► *ServerError
//	                │
//	                └─fail──────────────► *ProtocolError
//
// The error shape is only consulted when the success decode fails.
package resolver

import (
	"msfrpc/codec"
	"msfrpc/message"
	"msfrpc/rpcerr"
)

// Resolve decodes data into reply. A nil return means reply holds the decoded
// success value; any other return leaves reply unspecified.
func Resolve(c codec.Codec, method string, data []byte, reply any, checkStatus bool) error {
	successErr := c.Decode(data, reply)
	if successErr == nil {
		if checkStatus {
			return checkResult(method, reply)
		}
		return nil
	}

	var env message.ErrorEnvelope
	envelopeErr := c.Decode(data, &env)
	if envelopeErr == nil {
		return &rpcerr.ServerError{Method: method, Envelope: env}
	}

	return &rpcerr.ProtocolError{
		Method:      method,
		SuccessErr:  successErr,
		EnvelopeErr: envelopeErr,
	}
}

func checkResult(method string, reply any) error {
	sr, ok := reply.(message.StatusReporter)
	if !ok {
		return rpcerr.NewInvalidState(method, "reply type %T does not report a result status", reply)
	}
	st := sr.ResultStatus()
	if st.OK() {
		return nil
	}
	return &rpcerr.ServerError{Method: method, Envelope: st.Envelope()}
}
