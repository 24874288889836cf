package cwmp

import (
	"encoding/xml"
	"fmt"
)

// SOAP-encoded arrays carry their element type and length in
// SOAP-ENC:arrayType. Children are decoded regardless of their tag name.

func marshalArray[T any](e *xml.Encoder, start xml.StartElement, itemName, itemType string, items []T) error {
	start.Attr = append(start.Attr, xml.Attr{
		Name:  xml.Name{Local: "SOAP-ENC:arrayType"},
		Value: fmt.Sprintf("%s[%d]", itemType, len(items)),
	})
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for i := range items {
		if err := e.EncodeElement(items[i], xml.StartElement{Name: xml.Name{Local: itemName}}); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

func unmarshalArray[T any](d *xml.Decoder) ([]T, error) {
	items := []T{}
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var v T
			if err := d.DecodeElement(&v, &t); err != nil {
				return nil, err
			}
			items = append(items, v)
		case xml.EndElement:
			return items, nil
		}
	}
}

// StringList is an xsd:string array such as ParameterNames or MethodList.
type StringList []string

func (l StringList) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	return marshalArray(e, start, "string", "xsd:string", l)
}

func (l *StringList) UnmarshalXML(d *xml.Decoder, _ xml.StartElement) error {
	items, err := unmarshalArray[string](d)
	*l = items
	return err
}

// Base64List is the VoucherList of SetVouchers.
type Base64List []string

func (l Base64List) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	return marshalArray(e, start, "base64", "SOAP-ENC:base64", l)
}

func (l *Base64List) UnmarshalXML(d *xml.Decoder, _ xml.StartElement) error {
	items, err := unmarshalArray[string](d)
	*l = items
	return err
}

type ParameterValueList []ParameterValueStruct

func (l ParameterValueList) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	return marshalArray(e, start, "ParameterValueStruct", "cwmp:ParameterValueStruct", l)
}

func (l *ParameterValueList) UnmarshalXML(d *xml.Decoder, _ xml.StartElement) error {
	items, err := unmarshalArray[ParameterValueStruct](d)
	*l = items
	return err
}

type ParameterInfoList []ParameterInfoStruct

func (l ParameterInfoList) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	return marshalArray(e, start, "ParameterInfoStruct", "cwmp:ParameterInfoStruct", l)
}

func (l *ParameterInfoList) UnmarshalXML(d *xml.Decoder, _ xml.StartElement) error {
	items, err := unmarshalArray[ParameterInfoStruct](d)
	*l = items
	return err
}

type SetParameterAttributesList []SetParameterAttributesStruct

func (l SetParameterAttributesList) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	return marshalArray(e, start, "SetParameterAttributesStruct", "cwmp:SetParameterAttributesStruct", l)
}

func (l *SetParameterAttributesList) UnmarshalXML(d *xml.Decoder, _ xml.StartElement) error {
	items, err := unmarshalArray[SetParameterAttributesStruct](d)
	*l = items
	return err
}

type ParameterAttributeList []ParameterAttributeStruct

func (l ParameterAttributeList) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	return marshalArray(e, start, "ParameterAttributeStruct", "cwmp:ParameterAttributeStruct", l)
}

func (l *ParameterAttributeList) UnmarshalXML(d *xml.Decoder, _ xml.StartElement) error {
	items, err := unmarshalArray[ParameterAttributeStruct](d)
	*l = items
	return err
}

type EventList []EventStruct

func (l EventList) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	return marshalArray(e, start, "EventStruct", "cwmp:EventStruct", l)
}

func (l *EventList) UnmarshalXML(d *xml.Decoder, _ xml.StartElement) error {
	items, err := unmarshalArray[EventStruct](d)
	*l = items
	return err
}

type TransferList []QueuedTransferStruct

func (l TransferList) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	return marshalArray(e, start, "QueuedTransferStruct", "cwmp:QueuedTransferStruct", l)
}

func (l *TransferList) UnmarshalXML(d *xml.Decoder, _ xml.StartElement) error {
	items, err := unmarshalArray[QueuedTransferStruct](d)
	*l = items
	return err
}

type AllTransferList []AllQueuedTransferStruct

func (l AllTransferList) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	return marshalArray(e, start, "AllQueuedTransferStruct", "cwmp:AllQueuedTransferStruct", l)
}

func (l *AllTransferList) UnmarshalXML(d *xml.Decoder, _ xml.StartElement) error {
	items, err := unmarshalArray[AllQueuedTransferStruct](d)
	*l = items
	return err
}

type OptionList []OptionStruct

func (l OptionList) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	return marshalArray(e, start, "OptionStruct", "cwmp:OptionStruct", l)
}

func (l *OptionList) UnmarshalXML(d *xml.Decoder, _ xml.StartElement) error {
	items, err := unmarshalArray[OptionStruct](d)
	*l = items
	return err
}

type ArgList []ArgStruct

func (l ArgList) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	return marshalArray(e, start, "ArgStruct", "cwmp:ArgStruct", l)
}

func (l *ArgList) UnmarshalXML(d *xml.Decoder, _ xml.StartElement) error {
	items, err := unmarshalArray[ArgStruct](d)
	*l = items
	return err
}
