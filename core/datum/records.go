package datum

import "encoding/hex"

// ProtocolParamsDatum is the decoded payload of a protocol deployment output:
// the policy under which registry marker tokens are minted and the payment
// credential shared by the deployment's programmable addresses.
type ProtocolParamsDatum struct {
	RegistryPolicyID   string
	BaseCredentialHash string
}

// RegistryNodeDatum is the decoded payload of one on-chain registry list
// node. Key and Next are hex-encoded policy hashes; the empty string is the
// sentinel head/tail.
type RegistryNodeDatum struct {
	Key             string
	Next            string
	TransferLogic   string
	ThirdPartyLogic string
}

// DecodeProtocolParams interprets raw bytes as a protocol parameters datum.
// Any shape mismatch yields (zero, false); this layer never errors.
func DecodeProtocolParams(raw []byte) (ProtocolParamsDatum, bool) {
	d, err := Decode(raw)
	if err != nil {
		return ProtocolParamsDatum{}, false
	}
	if d.Kind != KindConstr || d.Tag != 0 || len(d.Fields) != 2 {
		return ProtocolParamsDatum{}, false
	}
	policy, ok := fieldBytes(d.Fields[0])
	if !ok {
		return ProtocolParamsDatum{}, false
	}
	credential, ok := fieldBytes(d.Fields[1])
	if !ok {
		return ProtocolParamsDatum{}, false
	}
	return ProtocolParamsDatum{
		RegistryPolicyID:   hex.EncodeToString(policy),
		BaseCredentialHash: hex.EncodeToString(credential),
	}, true
}

// DecodeRegistryNode interprets raw bytes as a registry list node datum: a
// five-field constructor of key, successor, transfer logic, third-party
// logic and a trailing marker field whose content is not inspected.
func DecodeRegistryNode(raw []byte) (RegistryNodeDatum, bool) {
	d, err := Decode(raw)
	if err != nil {
		return RegistryNodeDatum{}, false
	}
	if d.Kind != KindConstr || d.Tag != 0 || len(d.Fields) != 5 {
		return RegistryNodeDatum{}, false
	}
	key, ok := fieldBytes(d.Fields[0])
	if !ok {
		return RegistryNodeDatum{}, false
	}
	next, ok := fieldBytes(d.Fields[1])
	if !ok {
		return RegistryNodeDatum{}, false
	}
	transfer, ok := fieldBytes(d.Fields[2])
	if !ok {
		return RegistryNodeDatum{}, false
	}
	thirdParty, ok := fieldBytes(d.Fields[3])
	if !ok {
		return RegistryNodeDatum{}, false
	}
	return RegistryNodeDatum{
		Key:             hex.EncodeToString(key),
		Next:            hex.EncodeToString(next),
		TransferLogic:   hex.EncodeToString(transfer),
		ThirdPartyLogic: hex.EncodeToString(thirdParty),
	}, true
}

// fieldBytes unwraps a byte-string field, accepting either a bare byte
// string or a single-field constructor wrapping one (the encoding used for
// credential and script references).
func fieldBytes(d Data) ([]byte, bool) {
	switch d.Kind {
	case KindBytes:
		return d.Bytes, true
	case KindConstr:
		if len(d.Fields) == 1 && d.Fields[0].Kind == KindBytes {
			return d.Fields[0].Bytes, true
		}
	}
	return nil, false
}
