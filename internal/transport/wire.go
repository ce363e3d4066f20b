package transport

import (
	"kerneld/internal/kernel"
	"kerneld/internal/proto"
)

// nameRegisterWire/pathRegisterWire/*UnregisterWire build the payload for
// the register/unregister messages broadcast over a Transport; Source and
// Dest are left Invalid since these are out-of-band registry gossip, not
// addressed to a particular actor (the receiving runtime special-cases
// these four types before ordinary delivery — see
// internal/runtime.applyRemoteRegistration).

func nameRegisterWire(name string, id kernel.ActorID) (uint32, []byte) {
	return proto.MsgNameRegister, proto.EncodeNameRegistration(proto.NameRegistration{Name: name, ID: id})
}

func nameUnregisterWire(name string) (uint32, []byte) {
	return proto.MsgNameUnregister, proto.EncodeNameRegistration(proto.NameRegistration{Name: name})
}

func pathRegisterWire(path string, id kernel.ActorID) (uint32, []byte) {
	return proto.MsgPathRegister, proto.EncodePathRegistration(proto.PathRegistration{Path: path, ID: id})
}

func pathUnregisterWire(path string) (uint32, []byte) {
	return proto.MsgPathUnregister, proto.EncodePathRegistration(proto.PathRegistration{Path: path})
}

func registerMessage(msgType uint32, payload []byte) kernel.Message {
	return kernel.Message{Source: kernel.Invalid, Dest: kernel.Invalid, Type: msgType, Payload: payload}
}

func unregisterMessage(msgType uint32, payload []byte) kernel.Message {
	return kernel.Message{Source: kernel.Invalid, Dest: kernel.Invalid, Type: msgType, Payload: payload}
}
