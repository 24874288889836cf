package cwmp

import "fmt"

var messageFactory = map[string]func() Message{
	"GetRPCMethods":                      func() Message { return &GetRPCMethods{} },
	"GetRPCMethodsResponse":              func() Message { return &GetRPCMethodsResponse{} },
	"SetParameterValues":                 func() Message { return &SetParameterValues{} },
	"SetParameterValuesResponse":         func() Message { return &SetParameterValuesResponse{} },
	"GetParameterValues":                 func() Message { return &GetParameterValues{} },
	"GetParameterValuesResponse":         func() Message { return &GetParameterValuesResponse{} },
	"GetParameterNames":                  func() Message { return &GetParameterNames{} },
	"GetParameterNamesResponse":          func() Message { return &GetParameterNamesResponse{} },
	"SetParameterAttributes":             func() Message { return &SetParameterAttributes{} },
	"SetParameterAttributesResponse":     func() Message { return &SetParameterAttributesResponse{} },
	"GetParameterAttributes":             func() Message { return &GetParameterAttributes{} },
	"GetParameterAttributesResponse":     func() Message { return &GetParameterAttributesResponse{} },
	"AddObject":                          func() Message { return &AddObject{} },
	"AddObjectResponse":                  func() Message { return &AddObjectResponse{} },
	"DeleteObject":                       func() Message { return &DeleteObject{} },
	"DeleteObjectResponse":               func() Message { return &DeleteObjectResponse{} },
	"Reboot":                             func() Message { return &Reboot{} },
	"RebootResponse":                     func() Message { return &RebootResponse{} },
	"Download":                           func() Message { return &Download{} },
	"DownloadResponse":                   func() Message { return &DownloadResponse{} },
	"Upload":                             func() Message { return &Upload{} },
	"UploadResponse":                     func() Message { return &UploadResponse{} },
	"FactoryReset":                       func() Message { return &FactoryReset{} },
	"FactoryResetResponse":               func() Message { return &FactoryResetResponse{} },
	"GetQueuedTransfers":                 func() Message { return &GetQueuedTransfers{} },
	"GetQueuedTransfersResponse":         func() Message { return &GetQueuedTransfersResponse{} },
	"GetAllQueuedTransfers":              func() Message { return &GetAllQueuedTransfers{} },
	"GetAllQueuedTransfersResponse":      func() Message { return &GetAllQueuedTransfersResponse{} },
	"ScheduleInform":                     func() Message { return &ScheduleInform{} },
	"ScheduleInformResponse":             func() Message { return &ScheduleInformResponse{} },
	"SetVouchers":                        func() Message { return &SetVouchers{} },
	"SetVouchersResponse":                func() Message { return &SetVouchersResponse{} },
	"GetOptions":                         func() Message { return &GetOptions{} },
	"GetOptionsResponse":                 func() Message { return &GetOptionsResponse{} },
	"Inform":                             func() Message { return &Inform{} },
	"InformResponse":                     func() Message { return &InformResponse{} },
	"TransferComplete":                   func() Message { return &TransferComplete{} },
	"TransferCompleteResponse":           func() Message { return &TransferCompleteResponse{} },
	"AutonomousTransferComplete":         func() Message { return &AutonomousTransferComplete{} },
	"AutonomousTransferCompleteResponse": func() Message { return &AutonomousTransferCompleteResponse{} },
	"Kicked":                             func() Message { return &Kicked{} },
	"KickedResponse":                     func() Message { return &KickedResponse{} },
	"RequestDownload":                    func() Message { return &RequestDownload{} },
	"RequestDownloadResponse":            func() Message { return &RequestDownloadResponse{} },
}

// NewMessage returns an empty message for a body element name.
func NewMessage(method string) (Message, bool) {
	f, ok := messageFactory[method]
	if !ok {
		return nil, false
	}
	return f(), true
}

var rpcMethods = map[RpcKind]string{
	RpcGetRPCMethods:          "GetRPCMethods",
	RpcSetParameterValues:     "SetParameterValues",
	RpcGetParameterValues:     "GetParameterValues",
	RpcGetParameterNames:      "GetParameterNames",
	RpcSetParameterAttributes: "SetParameterAttributes",
	RpcGetParameterAttributes: "GetParameterAttributes",
	RpcAddObject:              "AddObject",
	RpcDeleteObject:           "DeleteObject",
	RpcReboot:                 "Reboot",
	RpcDownload:               "Download",
	RpcUpload:                 "Upload",
	RpcFactoryReset:           "FactoryReset",
	RpcGetQueuedTransfers:     "GetQueuedTransfers",
	RpcGetAllQueuedTransfers:  "GetAllQueuedTransfers",
	RpcScheduleInform:         "ScheduleInform",
	RpcSetVouchers:            "SetVouchers",
	RpcGetOptions:             "GetOptions",
}

// Method returns the CWMP method name of a CPE-directed RPC kind, or ""
// for NONE and FAULT.
func (k RpcKind) Method() string {
	return rpcMethods[k]
}

// NewRequest returns an empty request message of kind k.
func NewRequest(k RpcKind) (Message, error) {
	name := k.Method()
	if name == "" {
		return nil, fmt.Errorf("rpc kind %s has no request", k)
	}
	m, _ := NewMessage(name)
	return m, nil
}

// NewResponse returns an empty response message of kind k.
func NewResponse(k RpcKind) (Message, error) {
	name := k.Method()
	if name == "" {
		return nil, fmt.Errorf("rpc kind %s has no response", k)
	}
	m, _ := NewMessage(name + "Response")
	return m, nil
}

// ResponseKind maps a decoded CPE response back to its RPC kind.
func ResponseKind(m Message) (RpcKind, bool) {
	name := m.Method()
	for k, method := range rpcMethods {
		if method+"Response" == name {
			return k, true
		}
	}
	return RpcNone, false
}

var acsRpcMethods = map[string]AcsRpcKind{
	"GetRPCMethods":              AcsRpcGetRPCMethods,
	"Inform":                     AcsRpcInform,
	"TransferComplete":           AcsRpcTransferComplete,
	"AutonomousTransferComplete": AcsRpcAutonomousTransferComplete,
	"RequestDownload":            AcsRpcRequestDownload,
	"Kicked":                     AcsRpcKicked,
}

// AcsMethods lists the RPCs this ACS answers, as reported by GetRPCMethods.
var AcsMethods = []string{
	"GetRPCMethods",
	"Inform",
	"TransferComplete",
	"AutonomousTransferComplete",
	"RequestDownload",
	"Kicked",
}

// AcsKind maps a CPE-initiated request to its ACS-side kind.
func AcsKind(m Message) (AcsRpcKind, bool) {
	k, ok := acsRpcMethods[m.Method()]
	return k, ok
}

// AcsReply builds the ACS answer to a CPE-initiated request. Inform is
// answered by the session itself and is not handled here.
func AcsReply(m Message) (Message, bool) {
	switch v := m.(type) {
	case *GetRPCMethods:
		return &GetRPCMethodsResponse{MethodList: append(StringList(nil), AcsMethods...)}, true
	case *TransferComplete:
		return &TransferCompleteResponse{}, true
	case *AutonomousTransferComplete:
		return &AutonomousTransferCompleteResponse{}, true
	case *RequestDownload:
		return &RequestDownloadResponse{}, true
	case *Kicked:
		return &KickedResponse{NextURL: v.Next}, true
	}
	return nil, false
}
