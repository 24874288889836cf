package cwmp

import (
	"encoding/xml"
)

// Message is a typed CWMP RPC body (a request or a response).
type Message interface {
	Method() string
}

// ========== Shared structures ==========

// ParameterValue is a typed value. Type carries the xsi:type, e.g. "xsd:string".
type ParameterValue struct {
	Type  string `xml:"type,attr" json:"type,omitempty"`
	Value string `xml:",chardata" json:"value"`
}

func (v ParameterValue) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	typ := v.Type
	if typ == "" {
		typ = "xsd:string"
	}
	start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "xsi:type"}, Value: typ})
	return e.EncodeElement(v.Value, start)
}

type ParameterValueStruct struct {
	Name  string         `xml:"Name" json:"name"`
	Value ParameterValue `xml:"Value" json:"value"`
}

type ParameterInfoStruct struct {
	Name     string `xml:"Name" json:"name"`
	Writable bool   `xml:"Writable" json:"writable"`
}

type SetParameterAttributesStruct struct {
	Name               string     `xml:"Name" json:"name"`
	NotificationChange bool       `xml:"NotificationChange" json:"notificationChange"`
	Notification       int        `xml:"Notification" json:"notification"`
	AccessListChange   bool       `xml:"AccessListChange" json:"accessListChange"`
	AccessList         StringList `xml:"AccessList" json:"accessList"`
}

type ParameterAttributeStruct struct {
	Name         string     `xml:"Name" json:"name"`
	Notification int        `xml:"Notification" json:"notification"`
	AccessList   StringList `xml:"AccessList" json:"accessList"`
}

type DeviceIdStruct struct {
	Manufacturer string `xml:"Manufacturer" json:"manufacturer"`
	OUI          string `xml:"OUI" json:"oui"`
	ProductClass string `xml:"ProductClass" json:"productClass"`
	SerialNumber string `xml:"SerialNumber" json:"serialNumber"`
}

type EventStruct struct {
	EventCode  string `xml:"EventCode" json:"eventCode"`
	CommandKey string `xml:"CommandKey" json:"commandKey"`
}

type FaultStruct struct {
	FaultCode   uint32 `xml:"FaultCode" json:"faultCode"`
	FaultString string `xml:"FaultString" json:"faultString"`
}

type QueuedTransferStruct struct {
	CommandKey string `xml:"CommandKey" json:"commandKey"`
	State      int    `xml:"State" json:"state"`
}

type AllQueuedTransferStruct struct {
	CommandKey     string `xml:"CommandKey" json:"commandKey"`
	State          int    `xml:"State" json:"state"`
	IsDownload     bool   `xml:"IsDownload" json:"isDownload"`
	FileType       string `xml:"FileType" json:"fileType"`
	FileSize       uint32 `xml:"FileSize" json:"fileSize"`
	TargetFileName string `xml:"TargetFileName" json:"targetFileName"`
}

type OptionStruct struct {
	OptionName     string `xml:"OptionName" json:"optionName"`
	VoucherSN      uint32 `xml:"VoucherSN" json:"voucherSN"`
	State          uint32 `xml:"State" json:"state"`
	Mode           int    `xml:"Mode" json:"mode"`
	StartDate      string `xml:"StartDate" json:"startDate"`
	ExpirationDate string `xml:"ExpirationDate,omitempty" json:"expirationDate,omitempty"`
	IsTransferable bool   `xml:"IsTransferable" json:"isTransferable"`
}

type ArgStruct struct {
	Name  string `xml:"Name" json:"name"`
	Value string `xml:"Value" json:"value"`
}

type SetParameterValuesFault struct {
	ParameterName string `xml:"ParameterName" json:"parameterName"`
	FaultCode     uint32 `xml:"FaultCode" json:"faultCode"`
	FaultString   string `xml:"FaultString" json:"faultString"`
}

// Fault is the cwmp:Fault detail of a SOAP fault.
type Fault struct {
	FaultCode               uint32                    `xml:"FaultCode" json:"faultCode"`
	FaultString             string                    `xml:"FaultString" json:"faultString"`
	SetParameterValuesFault []SetParameterValuesFault `xml:"SetParameterValuesFault" json:"setParameterValuesFault,omitempty"`
}

func (*Fault) Method() string { return "Fault" }

// ========== CPE methods (called by the ACS) ==========

type GetRPCMethods struct{}

func (*GetRPCMethods) Method() string { return "GetRPCMethods" }

type GetRPCMethodsResponse struct {
	MethodList StringList `xml:"MethodList" json:"methodList"`
}

func (*GetRPCMethodsResponse) Method() string { return "GetRPCMethodsResponse" }

type SetParameterValues struct {
	ParameterList ParameterValueList `xml:"ParameterList" json:"parameterList"`
	ParameterKey  string             `xml:"ParameterKey" json:"parameterKey"`
}

func (*SetParameterValues) Method() string { return "SetParameterValues" }

type SetParameterValuesResponse struct {
	Status int `xml:"Status" json:"status"`
}

func (*SetParameterValuesResponse) Method() string { return "SetParameterValuesResponse" }

type GetParameterValues struct {
	ParameterNames StringList `xml:"ParameterNames" json:"parameterNames"`
}

func (*GetParameterValues) Method() string { return "GetParameterValues" }

type GetParameterValuesResponse struct {
	ParameterList ParameterValueList `xml:"ParameterList" json:"parameterList"`
}

func (*GetParameterValuesResponse) Method() string { return "GetParameterValuesResponse" }

type GetParameterNames struct {
	ParameterPath string `xml:"ParameterPath" json:"parameterPath"`
	NextLevel     bool   `xml:"NextLevel" json:"nextLevel"`
}

func (*GetParameterNames) Method() string { return "GetParameterNames" }

type GetParameterNamesResponse struct {
	ParameterList ParameterInfoList `xml:"ParameterList" json:"parameterList"`
}

func (*GetParameterNamesResponse) Method() string { return "GetParameterNamesResponse" }

type SetParameterAttributes struct {
	ParameterList SetParameterAttributesList `xml:"ParameterList" json:"parameterList"`
}

func (*SetParameterAttributes) Method() string { return "SetParameterAttributes" }

type SetParameterAttributesResponse struct{}

func (*SetParameterAttributesResponse) Method() string { return "SetParameterAttributesResponse" }

type GetParameterAttributes struct {
	ParameterNames StringList `xml:"ParameterNames" json:"parameterNames"`
}

func (*GetParameterAttributes) Method() string { return "GetParameterAttributes" }

type GetParameterAttributesResponse struct {
	ParameterList ParameterAttributeList `xml:"ParameterList" json:"parameterList"`
}

func (*GetParameterAttributesResponse) Method() string { return "GetParameterAttributesResponse" }

type AddObject struct {
	ObjectName   string `xml:"ObjectName" json:"objectName"`
	ParameterKey string `xml:"ParameterKey" json:"parameterKey"`
}

func (*AddObject) Method() string { return "AddObject" }

type AddObjectResponse struct {
	InstanceNumber uint32 `xml:"InstanceNumber" json:"instanceNumber"`
	Status         int    `xml:"Status" json:"status"`
}

func (*AddObjectResponse) Method() string { return "AddObjectResponse" }

type DeleteObject struct {
	ObjectName   string `xml:"ObjectName" json:"objectName"`
	ParameterKey string `xml:"ParameterKey" json:"parameterKey"`
}

func (*DeleteObject) Method() string { return "DeleteObject" }

type DeleteObjectResponse struct {
	Status int `xml:"Status" json:"status"`
}

func (*DeleteObjectResponse) Method() string { return "DeleteObjectResponse" }

type Reboot struct {
	CommandKey string `xml:"CommandKey" json:"commandKey"`
}

func (*Reboot) Method() string { return "Reboot" }

type RebootResponse struct{}

func (*RebootResponse) Method() string { return "RebootResponse" }

type Download struct {
	CommandKey     string `xml:"CommandKey" json:"commandKey"`
	FileType       string `xml:"FileType" json:"fileType"`
	URL            string `xml:"URL" json:"url"`
	Username       string `xml:"Username" json:"username"`
	Password       string `xml:"Password" json:"password"`
	FileSize       uint32 `xml:"FileSize" json:"fileSize"`
	TargetFileName string `xml:"TargetFileName" json:"targetFileName"`
	DelaySeconds   uint32 `xml:"DelaySeconds" json:"delaySeconds"`
	SuccessURL     string `xml:"SuccessURL" json:"successURL"`
	FailureURL     string `xml:"FailureURL" json:"failureURL"`
}

func (*Download) Method() string { return "Download" }

type DownloadResponse struct {
	Status       int    `xml:"Status" json:"status"`
	StartTime    string `xml:"StartTime" json:"startTime"`
	CompleteTime string `xml:"CompleteTime" json:"completeTime"`
}

func (*DownloadResponse) Method() string { return "DownloadResponse" }

type Upload struct {
	CommandKey   string `xml:"CommandKey" json:"commandKey"`
	FileType     string `xml:"FileType" json:"fileType"`
	URL          string `xml:"URL" json:"url"`
	Username     string `xml:"Username" json:"username"`
	Password     string `xml:"Password" json:"password"`
	DelaySeconds uint32 `xml:"DelaySeconds" json:"delaySeconds"`
}

func (*Upload) Method() string { return "Upload" }

type UploadResponse struct {
	Status       int    `xml:"Status" json:"status"`
	StartTime    string `xml:"StartTime" json:"startTime"`
	CompleteTime string `xml:"CompleteTime" json:"completeTime"`
}

func (*UploadResponse) Method() string { return "UploadResponse" }

type FactoryReset struct{}

func (*FactoryReset) Method() string { return "FactoryReset" }

type FactoryResetResponse struct{}

func (*FactoryResetResponse) Method() string { return "FactoryResetResponse" }

type GetQueuedTransfers struct{}

func (*GetQueuedTransfers) Method() string { return "GetQueuedTransfers" }

type GetQueuedTransfersResponse struct {
	TransferList TransferList `xml:"TransferList" json:"transferList"`
}

func (*GetQueuedTransfersResponse) Method() string { return "GetQueuedTransfersResponse" }

type GetAllQueuedTransfers struct{}

func (*GetAllQueuedTransfers) Method() string { return "GetAllQueuedTransfers" }

type GetAllQueuedTransfersResponse struct {
	TransferList AllTransferList `xml:"TransferList" json:"transferList"`
}

func (*GetAllQueuedTransfersResponse) Method() string { return "GetAllQueuedTransfersResponse" }

type ScheduleInform struct {
	DelaySeconds uint32 `xml:"DelaySeconds" json:"delaySeconds"`
	CommandKey   string `xml:"CommandKey" json:"commandKey"`
}

func (*ScheduleInform) Method() string { return "ScheduleInform" }

type ScheduleInformResponse struct{}

func (*ScheduleInformResponse) Method() string { return "ScheduleInformResponse" }

type SetVouchers struct {
	VoucherList Base64List `xml:"VoucherList" json:"voucherList"`
}

func (*SetVouchers) Method() string { return "SetVouchers" }

type SetVouchersResponse struct{}

func (*SetVouchersResponse) Method() string { return "SetVouchersResponse" }

type GetOptions struct {
	OptionName string `xml:"OptionName" json:"optionName"`
}

func (*GetOptions) Method() string { return "GetOptions" }

type GetOptionsResponse struct {
	OptionList OptionList `xml:"OptionList" json:"optionList"`
}

func (*GetOptionsResponse) Method() string { return "GetOptionsResponse" }

// ========== ACS methods (called by the CPE) ==========

type Inform struct {
	DeviceId      DeviceIdStruct     `xml:"DeviceId" json:"deviceId"`
	Event         EventList          `xml:"Event" json:"event"`
	MaxEnvelopes  uint32             `xml:"MaxEnvelopes" json:"maxEnvelopes"`
	CurrentTime   string             `xml:"CurrentTime" json:"currentTime"`
	RetryCount    uint32             `xml:"RetryCount" json:"retryCount"`
	ParameterList ParameterValueList `xml:"ParameterList" json:"parameterList"`
}

func (*Inform) Method() string { return "Inform" }

// HasEvent reports whether the Inform carries the given event code.
func (i *Inform) HasEvent(code string) bool {
	for _, ev := range i.Event {
		if ev.EventCode == code {
			return true
		}
	}
	return false
}

// Parameter returns the value of the first parameter whose name ends with
// suffix, so that both InternetGatewayDevice. and Device. roots match.
func (i *Inform) Parameter(suffix string) (string, bool) {
	for _, p := range i.ParameterList {
		if len(p.Name) >= len(suffix) && p.Name[len(p.Name)-len(suffix):] == suffix {
			return p.Value.Value, true
		}
	}
	return "", false
}

type InformResponse struct {
	MaxEnvelopes uint32 `xml:"MaxEnvelopes" json:"maxEnvelopes"`
}

func (*InformResponse) Method() string { return "InformResponse" }

type TransferComplete struct {
	CommandKey   string      `xml:"CommandKey" json:"commandKey"`
	FaultStruct  FaultStruct `xml:"FaultStruct" json:"faultStruct"`
	StartTime    string      `xml:"StartTime" json:"startTime"`
	CompleteTime string      `xml:"CompleteTime" json:"completeTime"`
}

func (*TransferComplete) Method() string { return "TransferComplete" }

type TransferCompleteResponse struct{}

func (*TransferCompleteResponse) Method() string { return "TransferCompleteResponse" }

type AutonomousTransferComplete struct {
	AnnounceURL    string      `xml:"AnnounceURL" json:"announceURL"`
	TransferURL    string      `xml:"TransferURL" json:"transferURL"`
	IsDownload     bool        `xml:"IsDownload" json:"isDownload"`
	FileType       string      `xml:"FileType" json:"fileType"`
	FileSize       uint32      `xml:"FileSize" json:"fileSize"`
	TargetFileName string      `xml:"TargetFileName" json:"targetFileName"`
	FaultStruct    FaultStruct `xml:"FaultStruct" json:"faultStruct"`
	StartTime      string      `xml:"StartTime" json:"startTime"`
	CompleteTime   string      `xml:"CompleteTime" json:"completeTime"`
}

func (*AutonomousTransferComplete) Method() string { return "AutonomousTransferComplete" }

type AutonomousTransferCompleteResponse struct{}

func (*AutonomousTransferCompleteResponse) Method() string {
	return "AutonomousTransferCompleteResponse"
}

type Kicked struct {
	Command string `xml:"Command" json:"command"`
	Referer string `xml:"Referer" json:"referer"`
	Arg     string `xml:"Arg" json:"arg"`
	Next    string `xml:"Next" json:"next"`
}

func (*Kicked) Method() string { return "Kicked" }

type KickedResponse struct {
	NextURL string `xml:"NextURL" json:"nextURL"`
}

func (*KickedResponse) Method() string { return "KickedResponse" }

type RequestDownload struct {
	FileType    string  `xml:"FileType" json:"fileType"`
	FileTypeArg ArgList `xml:"FileTypeArg" json:"fileTypeArg"`
}

func (*RequestDownload) Method() string { return "RequestDownload" }

type RequestDownloadResponse struct{}

func (*RequestDownloadResponse) Method() string { return "RequestDownloadResponse" }
