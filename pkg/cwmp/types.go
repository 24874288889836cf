package cwmp

import (
	"fmt"
	"strings"
)

// SOAP and CWMP namespaces.
const (
	NamespaceSOAPEnv = "http://schemas.xmlsoap.org/soap/envelope/"
	NamespaceSOAPEnc = "http://schemas.xmlsoap.org/soap/encoding/"
	NamespaceXSI     = "http://www.w3.org/2001/XMLSchema-instance"
	NamespaceXSD     = "http://www.w3.org/2001/XMLSchema"
	NamespaceCWMP10  = "urn:dslforum-org:cwmp-1-0"

	namespaceCWMPPrefix = "urn:dslforum-org:cwmp-1-"
)

// IsCWMPNamespace reports whether ns is any urn:dslforum-org:cwmp-1-* version.
func IsCWMPNamespace(ns string) bool {
	return strings.HasPrefix(ns, namespaceCWMPPrefix)
}

// RpcKind enumerates the RPCs an ACS may call on a CPE.
type RpcKind int

const (
	RpcNone RpcKind = iota
	RpcGetRPCMethods
	RpcSetParameterValues
	RpcGetParameterValues
	RpcGetParameterNames
	RpcSetParameterAttributes
	RpcGetParameterAttributes
	RpcAddObject
	RpcDeleteObject
	RpcReboot
	RpcDownload
	RpcUpload
	RpcFactoryReset
	RpcGetQueuedTransfers
	RpcGetAllQueuedTransfers
	RpcScheduleInform
	RpcSetVouchers
	RpcGetOptions
	RpcFault
)

var rpcKindNames = [...]string{
	RpcNone:                   "none",
	RpcGetRPCMethods:          "get_rpc_methods",
	RpcSetParameterValues:     "set_parameter_values",
	RpcGetParameterValues:     "get_parameter_values",
	RpcGetParameterNames:      "get_parameter_names",
	RpcSetParameterAttributes: "set_parameter_attributes",
	RpcGetParameterAttributes: "get_parameter_attributes",
	RpcAddObject:              "add_object",
	RpcDeleteObject:           "delete_object",
	RpcReboot:                 "reboot",
	RpcDownload:               "download",
	RpcUpload:                 "upload",
	RpcFactoryReset:           "factory_reset",
	RpcGetQueuedTransfers:     "get_queued_transfers",
	RpcGetAllQueuedTransfers:  "get_all_queued_transfers",
	RpcScheduleInform:         "schedule_inform",
	RpcSetVouchers:            "set_vouchers",
	RpcGetOptions:             "get_options",
	RpcFault:                  "fault",
}

func (k RpcKind) String() string {
	if k < 0 || int(k) >= len(rpcKindNames) {
		return fmt.Sprintf("rpc(%d)", int(k))
	}
	return rpcKindNames[k]
}

// ParseRpcKind maps an EPC name like "get_parameter_names" to its kind.
func ParseRpcKind(s string) (RpcKind, error) {
	for k, name := range rpcKindNames {
		if name == s {
			return RpcKind(k), nil
		}
	}
	return RpcNone, fmt.Errorf("unknown rpc kind %q", s)
}

// AcsRpcKind enumerates the RPCs a CPE may call on the ACS.
type AcsRpcKind int

const (
	AcsRpcNone AcsRpcKind = iota
	AcsRpcGetRPCMethods
	AcsRpcInform
	AcsRpcTransferComplete
	AcsRpcAutonomousTransferComplete
	AcsRpcRequestDownload
	AcsRpcKicked
	AcsRpcFault
)

var acsRpcKindNames = [...]string{
	AcsRpcNone:                       "none",
	AcsRpcGetRPCMethods:              "get_rpc_methods",
	AcsRpcInform:                     "inform",
	AcsRpcTransferComplete:           "transfer_complete",
	AcsRpcAutonomousTransferComplete: "autonomous_transfer_complete",
	AcsRpcRequestDownload:            "request_download",
	AcsRpcKicked:                     "kicked",
	AcsRpcFault:                      "fault",
}

func (k AcsRpcKind) String() string {
	if k < 0 || int(k) >= len(acsRpcKindNames) {
		return fmt.Sprintf("acs_rpc(%d)", int(k))
	}
	return acsRpcKindNames[k]
}

// ParseAcsRpcKind maps an EPC name like "transfer_complete" to its kind.
func ParseAcsRpcKind(s string) (AcsRpcKind, error) {
	for k, name := range acsRpcKindNames {
		if name == s {
			return AcsRpcKind(k), nil
		}
	}
	return AcsRpcNone, fmt.Errorf("unknown acs rpc kind %q", s)
}

// Inform event codes.
const (
	EventBootstrap                  = "0 BOOTSTRAP"
	EventBoot                       = "1 BOOT"
	EventPeriodic                   = "2 PERIODIC"
	EventScheduled                  = "3 SCHEDULED"
	EventValueChange                = "4 VALUE CHANGE"
	EventKicked                     = "5 KICKED"
	EventConnectionRequest          = "6 CONNECTION REQUEST"
	EventTransferComplete           = "7 TRANSFER COMPLETE"
	EventDiagnosticsComplete        = "8 DIAGNOSTICS COMPLETE"
	EventRequestDownload            = "9 REQUEST DOWNLOAD"
	EventAutonomousTransferComplete = "10 AUTONOMOUS TRANSFER COMPLETE"
	EventMReboot                    = "M Reboot"
	EventMScheduleInform            = "M ScheduleInform"
	EventMDownload                  = "M Download"
	EventMUpload                    = "M Upload"
)

// Notification attribute values.
const (
	NotificationOff     = 0
	NotificationPassive = 1
	NotificationActive  = 2
)

// Standard CWMP fault codes used by the ACS side.
const (
	FaultMethodNotSupported = 8000
	FaultRequestDenied      = 8001
	FaultInternalError      = 8002
	FaultInvalidArguments   = 8003
)
