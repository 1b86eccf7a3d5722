package message

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
)

func newEnvelope() (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	env := doc.CreateElement("soap:Envelope")
	env.CreateAttr("xmlns:soap", NsSOAPEnv)
	env.CreateAttr("xmlns:eb", NsEbMS)

	header := env.CreateElement("soap:Header")
	messaging := header.CreateElement("eb:Messaging")
	messaging.CreateAttr("soap:mustUnderstand", "true")

	env.CreateElement("soap:Body")
	return doc, messaging
}

func addMessageInfo(parent *etree.Element, ts time.Time, messageID, refTo string) {
	if ts.IsZero() {
		ts = time.Now()
	}
	info := parent.CreateElement("eb:MessageInfo")
	info.CreateElement("eb:Timestamp").SetText(FormatTimestamp(ts))
	info.CreateElement("eb:MessageId").SetText(messageID)
	if refTo != "" {
		info.CreateElement("eb:RefToMessageId").SetText(refTo)
	}
}

func addParty(parent *etree.Element, tag string, p Party) {
	el := parent.CreateElement(tag)
	id := el.CreateElement("eb:PartyId")
	if p.Type != "" {
		id.CreateAttr("type", p.Type)
	}
	id.SetText(p.ID)
	el.CreateElement("eb:Role").SetText(p.Role)
}

func addProperty(parent *etree.Element, p Property) {
	el := parent.CreateElement("eb:Property")
	el.CreateAttr("name", p.Name)
	if p.Type != "" {
		el.CreateAttr("type", p.Type)
	}
	el.SetText(p.Value)
}

// BuildUserMessage serializes a UserMessage into a SOAP 1.2 envelope
func BuildUserMessage(um *UserMessage) ([]byte, error) {
	if um.MessageID == "" {
		return nil, fmt.Errorf("building user message: empty message ID")
	}
	doc, messaging := newEnvelope()

	user := messaging.CreateElement("eb:UserMessage")
	addMessageInfo(user, um.Timestamp, um.MessageID, um.RefToMessageID)

	partyInfo := user.CreateElement("eb:PartyInfo")
	from, to := um.From, um.To
	if from.Role == "" {
		from.Role = RoleInitiator
	}
	if to.Role == "" {
		to.Role = RoleResponder
	}
	addParty(partyInfo, "eb:From", from)
	addParty(partyInfo, "eb:To", to)

	collab := user.CreateElement("eb:CollaborationInfo")
	if um.AgreementRef != "" {
		collab.CreateElement("eb:AgreementRef").SetText(um.AgreementRef)
	}
	service := collab.CreateElement("eb:Service")
	if um.ServiceType != "" {
		service.CreateAttr("type", um.ServiceType)
	}
	service.SetText(um.Service)
	collab.CreateElement("eb:Action").SetText(um.Action)
	collab.CreateElement("eb:ConversationId").SetText(um.ConversationID)

	if len(um.Properties) > 0 {
		props := user.CreateElement("eb:MessageProperties")
		for _, p := range um.Properties {
			addProperty(props, p)
		}
	}

	if len(um.Parts) > 0 {
		payloadInfo := user.CreateElement("eb:PayloadInfo")
		for _, part := range um.Parts {
			partInfo := payloadInfo.CreateElement("eb:PartInfo")
			partInfo.CreateAttr("href", part.Href)
			if len(part.Properties) > 0 {
				props := partInfo.CreateElement("eb:PartProperties")
				for _, p := range part.Properties {
					addProperty(props, p)
				}
			}
		}
	}

	return doc.WriteToBytes()
}

// BuildReceipt creates a receipt signal for the referenced user message
func BuildReceipt(messageID, refToMessageID string) ([]byte, error) {
	doc, messaging := newEnvelope()

	signal := messaging.CreateElement("eb:SignalMessage")
	addMessageInfo(signal, time.Now(), messageID, refToMessageID)

	receipt := signal.CreateElement("eb:Receipt")
	nonRep := receipt.CreateElement("ebbp:NonRepudiationInformation")
	nonRep.CreateAttr("xmlns:ebbp", NsEbbp)
	nonRep.CreateElement("ebbp:MessagePartNRInformation").
		CreateElement("ebbp:MessagePartIdentifier").SetText(refToMessageID)

	return doc.WriteToBytes()
}

// BuildErrorSignal creates an error signal carrying the given error entries
func BuildErrorSignal(messageID, refToMessageID string, errs ...Error) ([]byte, error) {
	if len(errs) == 0 {
		return nil, fmt.Errorf("building error signal: no errors")
	}
	doc, messaging := newEnvelope()

	signal := messaging.CreateElement("eb:SignalMessage")
	addMessageInfo(signal, time.Now(), messageID, refToMessageID)

	for _, e := range errs {
		el := signal.CreateElement("eb:Error")
		if e.Category != "" {
			el.CreateAttr("category", e.Category)
		}
		el.CreateAttr("errorCode", e.ErrorCode)
		if e.Origin != "" {
			el.CreateAttr("origin", e.Origin)
		}
		if e.RefToMessageInError != "" {
			el.CreateAttr("refToMessageInError", e.RefToMessageInError)
		}
		el.CreateAttr("severity", e.Severity)
		el.CreateAttr("shortDescription", e.ShortDescription)
		if e.Description != "" {
			desc := el.CreateElement("eb:Description")
			desc.CreateAttr("xml:lang", "en")
			desc.SetText(e.Description)
		}
		if e.ErrorDetail != "" {
			el.CreateElement("eb:ErrorDetail").SetText(e.ErrorDetail)
		}
	}

	return doc.WriteToBytes()
}

func readMessaging(data []byte) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "Envelope" {
		return nil, ErrMalformedEnvelope
	}
	messaging := root.FindElement("./Header/Messaging")
	if messaging == nil {
		return nil, fmt.Errorf("%w: no ebMS Messaging header", ErrMalformedEnvelope)
	}
	return messaging, nil
}

func parseMessageInfo(parent *etree.Element) (messageID, refTo string, ts time.Time) {
	info := parent.SelectElement("MessageInfo")
	if info == nil {
		return "", "", time.Time{}
	}
	messageID = text(info, "MessageId")
	refTo = text(info, "RefToMessageId")
	if raw := text(info, "Timestamp"); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			ts = t.UTC()
		} else if t, err := time.Parse("2006-01-02T15:04:05.999999999", raw); err == nil {
			ts = t.UTC()
		}
	}
	return messageID, refTo, ts
}

func parseProperties(parent *etree.Element) []Property {
	if parent == nil {
		return nil
	}
	var props []Property
	for _, p := range parent.SelectElements("Property") {
		props = append(props, Property{
			Name:  p.SelectAttrValue("name", ""),
			Type:  p.SelectAttrValue("type", ""),
			Value: strings.TrimSpace(p.Text()),
		})
	}
	return props
}

func parseParty(el *etree.Element) Party {
	if el == nil {
		return Party{}
	}
	p := Party{Role: text(el, "Role")}
	if id := el.SelectElement("PartyId"); id != nil {
		p.ID = strings.TrimSpace(id.Text())
		p.Type = id.SelectAttrValue("type", "")
	}
	return p
}

// ParseUserMessage extracts the UserMessage header of an envelope
func ParseUserMessage(data []byte) (*UserMessage, error) {
	messaging, err := readMessaging(data)
	if err != nil {
		return nil, err
	}
	user := messaging.SelectElement("UserMessage")
	if user == nil {
		return nil, ErrNoUserMessage
	}

	um := &UserMessage{}
	um.MessageID, um.RefToMessageID, um.Timestamp = parseMessageInfo(user)

	if partyInfo := user.SelectElement("PartyInfo"); partyInfo != nil {
		um.From = parseParty(partyInfo.SelectElement("From"))
		um.To = parseParty(partyInfo.SelectElement("To"))
	}

	if collab := user.SelectElement("CollaborationInfo"); collab != nil {
		um.AgreementRef = text(collab, "AgreementRef")
		if service := collab.SelectElement("Service"); service != nil {
			um.Service = strings.TrimSpace(service.Text())
			um.ServiceType = service.SelectAttrValue("type", "")
		}
		um.Action = text(collab, "Action")
		um.ConversationID = text(collab, "ConversationId")
	}

	um.Properties = parseProperties(user.SelectElement("MessageProperties"))

	if payloadInfo := user.SelectElement("PayloadInfo"); payloadInfo != nil {
		for _, pi := range payloadInfo.SelectElements("PartInfo") {
			um.Parts = append(um.Parts, PartInfo{
				Href:       pi.SelectAttrValue("href", ""),
				Properties: parseProperties(pi.SelectElement("PartProperties")),
			})
		}
	}

	if um.MessageID == "" {
		return nil, fmt.Errorf("%w: missing MessageId", ErrMalformedEnvelope)
	}
	return um, nil
}

// ParseSignal extracts the SignalMessage of an envelope
func ParseSignal(data []byte) (*SignalMessage, error) {
	messaging, err := readMessaging(data)
	if err != nil {
		return nil, err
	}
	signal := messaging.SelectElement("SignalMessage")
	if signal == nil {
		return nil, ErrNoSignalMessage
	}

	sm := &SignalMessage{}
	sm.MessageID, sm.RefToMessageID, sm.Timestamp = parseMessageInfo(signal)
	sm.Receipt = signal.SelectElement("Receipt") != nil

	for _, el := range signal.SelectElements("Error") {
		sm.Errors = append(sm.Errors, Error{
			Category:            el.SelectAttrValue("category", ""),
			ErrorCode:           el.SelectAttrValue("errorCode", ""),
			Origin:              el.SelectAttrValue("origin", ""),
			RefToMessageInError: el.SelectAttrValue("refToMessageInError", ""),
			Severity:            el.SelectAttrValue("severity", ""),
			ShortDescription:    el.SelectAttrValue("shortDescription", ""),
			Description:         text(el, "Description"),
			ErrorDetail:         text(el, "ErrorDetail"),
		})
	}
	return sm, nil
}

// SecurityToken returns the base64 content of the first BinarySecurityToken
// in the envelope's WS-Security header, or "" when absent
func SecurityToken(data []byte) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return ""
	}
	if tok := doc.FindElement("//Security/BinarySecurityToken"); tok != nil {
		return strings.TrimSpace(tok.Text())
	}
	return ""
}

func text(el *etree.Element, tag string) string {
	if c := el.SelectElement(tag); c != nil {
		return strings.TrimSpace(c.Text())
	}
	return ""
}
