package cwmp

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const informXML = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"
  xmlns:soapenc="http://schemas.xmlsoap.org/soap/encoding/"
  xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
  xmlns:xsd="http://www.w3.org/2001/XMLSchema"
  xmlns:cwmp="urn:dslforum-org:cwmp-1-2">
 <soap:Header>
  <cwmp:ID soap:mustUnderstand="1">1001</cwmp:ID>
 </soap:Header>
 <soap:Body>
  <cwmp:Inform>
   <DeviceId>
    <Manufacturer>Acme</Manufacturer>
    <OUI>010203</OUI>
    <ProductClass>Box</ProductClass>
    <SerialNumber>SN1</SerialNumber>
   </DeviceId>
   <Event soapenc:arrayType="cwmp:EventStruct[2]">
    <EventStruct><EventCode>1 BOOT</EventCode><CommandKey></CommandKey></EventStruct>
    <EventStruct><EventCode>6 CONNECTION REQUEST</EventCode><CommandKey/></EventStruct>
   </Event>
   <MaxEnvelopes>1</MaxEnvelopes>
   <CurrentTime>2024-01-01T00:00:00Z</CurrentTime>
   <RetryCount>0</RetryCount>
   <ParameterList soapenc:arrayType="cwmp:ParameterValueStruct[1]">
    <ParameterValueStruct>
     <Name>Device.ManagementServer.ConnectionRequestURL</Name>
     <Value xsi:type="xsd:string">http://cpe/cr</Value>
    </ParameterValueStruct>
   </ParameterList>
  </cwmp:Inform>
 </soap:Body>
</soap:Envelope>`

func TestDecodeInform(t *testing.T) {
	assert := require.New(t)

	env, err := Unmarshal([]byte(informXML))
	assert.NoError(err)
	assert.Equal("1001", env.ID)
	assert.Equal("urn:dslforum-org:cwmp-1-2", env.Namespace)
	assert.Equal("Inform", env.Method)

	inform, ok := env.Body.(*Inform)
	assert.True(ok)
	assert.Equal("010203", inform.DeviceId.OUI)
	assert.Len(inform.Event, 2)
	assert.True(inform.HasEvent(EventConnectionRequest))
	assert.False(inform.HasEvent(EventPeriodic))

	url, ok := inform.Parameter("ManagementServer.ConnectionRequestURL")
	assert.True(ok)
	assert.Equal("http://cpe/cr", url)
	assert.Equal("xsd:string", inform.ParameterList[0].Value.Type)

	kind, ok := AcsKind(inform)
	assert.True(ok)
	assert.Equal(AcsRpcInform, kind)
}

func TestEncodeHeader(t *testing.T) {
	assert := require.New(t)

	hold := true
	data, err := Marshal(&Envelope{
		ID:           "7",
		HoldRequests: &hold,
		Body:         &InformResponse{MaxEnvelopes: 1},
	})
	assert.NoError(err)

	out := string(data)
	assert.Contains(out, `xmlns:cwmp="urn:dslforum-org:cwmp-1-0"`)
	assert.Contains(out, `<cwmp:ID SOAP-ENV:mustUnderstand="1">7</cwmp:ID>`)
	assert.Contains(out, `<cwmp:HoldRequests SOAP-ENV:mustUnderstand="1">1</cwmp:HoldRequests>`)
	assert.Contains(out, `<cwmp:InformResponse><MaxEnvelopes>1</MaxEnvelopes></cwmp:InformResponse>`)
	assert.NotContains(out, "encodingStyle")

	env, err := Unmarshal(data)
	assert.NoError(err)
	assert.NotNil(env.HoldRequests)
	assert.True(*env.HoldRequests)
	assert.Equal(uint32(1), env.Body.(*InformResponse).MaxEnvelopes)
}

func TestRequestRoundTrip(t *testing.T) {
	assert := require.New(t)

	req, err := NewRequest(RpcGetParameterNames)
	assert.NoError(err)
	assert.NoError(json.Unmarshal([]byte(`{"parameterPath":"Device.","nextLevel":true}`), req))

	data, err := Marshal(&Envelope{Namespace: "urn:dslforum-org:cwmp-1-1", ID: "1", Body: req})
	assert.NoError(err)
	assert.Contains(string(data), "<cwmp:GetParameterNames><ParameterPath>Device.</ParameterPath><NextLevel>true</NextLevel>")

	env, err := Unmarshal(data)
	assert.NoError(err)
	assert.Equal("urn:dslforum-org:cwmp-1-1", env.Namespace)
	assert.Equal(req, env.Body)
}

func TestArrayEncoding(t *testing.T) {
	assert := require.New(t)

	resp := &GetParameterValuesResponse{ParameterList: ParameterValueList{
		{Name: "Device.A", Value: ParameterValue{Type: "xsd:unsignedInt", Value: "5"}},
		{Name: "Device.B", Value: ParameterValue{Value: "x"}},
	}}
	data, err := Marshal(&Envelope{ID: "2", Body: resp})
	assert.NoError(err)
	out := string(data)
	assert.Contains(out, `<ParameterList SOAP-ENC:arrayType="cwmp:ParameterValueStruct[2]">`)
	assert.Contains(out, `<Value xsi:type="xsd:unsignedInt">5</Value>`)
	assert.Contains(out, `<Value xsi:type="xsd:string">x</Value>`)

	env, err := Unmarshal(data)
	assert.NoError(err)
	got := env.Body.(*GetParameterValuesResponse)
	assert.Len(got.ParameterList, 2)
	assert.Equal("5", got.ParameterList[0].Value.Value)
	assert.Equal("xsd:string", got.ParameterList[1].Value.Type)

	kind, ok := ResponseKind(got)
	assert.True(ok)
	assert.Equal(RpcGetParameterValues, kind)
}

func TestDecodeFault(t *testing.T) {
	assert := require.New(t)

	data, err := Marshal(&Envelope{ID: "3", Fault: NewSoapFault(9005, "Invalid parameter name")})
	assert.NoError(err)

	env, err := Unmarshal(data)
	assert.NoError(err)
	assert.Nil(env.Body)
	assert.NotNil(env.Fault)
	assert.Equal(uint32(9005), env.Fault.CwmpFault().FaultCode)
	assert.Equal("Invalid parameter name", env.Fault.CwmpFault().FaultString)

	plain := `<Envelope xmlns="http://schemas.xmlsoap.org/soap/envelope/"><Body><Fault><faultcode>Server</faultcode><faultstring>boom</faultstring></Fault></Body></Envelope>`
	env, err = Unmarshal([]byte(plain))
	assert.NoError(err)
	f := env.Fault.CwmpFault()
	assert.Equal(uint32(FaultInternalError), f.FaultCode)
	assert.Equal("boom", f.FaultString)
}

func TestDecodeErrors(t *testing.T) {
	assert := require.New(t)

	_, err := Unmarshal([]byte("not xml at all"))
	assert.ErrorIs(err, ErrCodec)

	_, err = Unmarshal([]byte(`<html><body/></html>`))
	assert.ErrorIs(err, ErrCodec)

	_, err = Unmarshal([]byte(`<Envelope><Body></Body></Envelope>`))
	assert.ErrorIs(err, ErrEmptyBody)

	env, err := Decode(strings.NewReader(`<Envelope><Header><ID>9</ID></Header><Body><Frobnicate/></Body></Envelope>`))
	assert.True(errors.Is(err, ErrUnknownMethod))
	assert.Equal("9", env.ID)
	assert.Equal("Frobnicate", env.Method)
}

func TestKindNames(t *testing.T) {
	assert := require.New(t)

	k, err := ParseRpcKind("get_parameter_names")
	assert.NoError(err)
	assert.Equal(RpcGetParameterNames, k)
	assert.Equal("GetParameterNames", k.Method())
	assert.Equal("", RpcNone.Method())

	_, err = NewRequest(RpcFault)
	assert.Error(err)

	resp, err := NewResponse(RpcReboot)
	assert.NoError(err)
	assert.Equal("RebootResponse", resp.Method())

	a, err := ParseAcsRpcKind("transfer_complete")
	assert.NoError(err)
	assert.Equal(AcsRpcTransferComplete, a)

	reply, ok := AcsReply(&GetRPCMethods{})
	assert.True(ok)
	assert.Contains(reply.(*GetRPCMethodsResponse).MethodList, "Inform")
}
