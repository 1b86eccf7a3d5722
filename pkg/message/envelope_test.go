package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserMessageRoundTrip(t *testing.T) {
	ts := time.Date(2025, 3, 4, 10, 11, 12, 345000000, time.UTC)
	um := &UserMessage{
		MessageID: "msg-1@ap.example",
		Timestamp: ts,
		From:      Party{ID: "POP000001", Type: PartyTypeAP},
		To:        Party{ID: "POP000002", Type: PartyTypeAP},

		AgreementRef:   AgreementPeppol,
		Service:        "urn:fdc:peppol.eu:2017:poacc:billing:01:1.0",
		ServiceType:    "cenbii-procid-ubl",
		Action:         "busdox-docid-qns::doc-A",
		ConversationID: "conv-1",
		Properties: []Property{
			{Name: PropertyOriginalSender, Type: "iso6523-actorid-upis", Value: "9908:111"},
			{Name: PropertyFinalRecipient, Type: "iso6523-actorid-upis", Value: "9908:222"},
		},
		Parts: []PartInfo{{
			Href: "cid:payload-1",
			Properties: []Property{
				{Name: PartPropertyMimeType, Value: "application/xml"},
				{Name: PartPropertyCompressionType, Value: "application/gzip"},
			},
		}},
	}

	env, err := BuildUserMessage(um)
	require.NoError(t, err)
	assert.Contains(t, string(env), "2025-03-04T10:11:12.345Z")
	assert.Contains(t, string(env), RoleInitiator)

	parsed, err := ParseUserMessage(env)
	require.NoError(t, err)
	assert.Equal(t, "msg-1@ap.example", parsed.MessageID)
	assert.Equal(t, ts, parsed.Timestamp)
	assert.Equal(t, "POP000001", parsed.From.ID)
	assert.Equal(t, RoleResponder, parsed.To.Role)
	assert.Equal(t, "cenbii-procid-ubl", parsed.ServiceType)
	assert.Equal(t, "conv-1", parsed.ConversationID)
	assert.Equal(t, "9908:222", parsed.Property(PropertyFinalRecipient))
	require.Len(t, parsed.Parts, 1)
	assert.Equal(t, "application/gzip", parsed.Parts[0].Property(PartPropertyCompressionType))

	_, err = ParseSignal(env)
	assert.ErrorIs(t, err, ErrNoSignalMessage)
}

func TestBuildUserMessageRequiresID(t *testing.T) {
	_, err := BuildUserMessage(&UserMessage{})
	assert.Error(t, err)
}

func TestReceipt(t *testing.T) {
	env, err := BuildReceipt("r-1@ap", "msg-1")
	require.NoError(t, err)

	sig, err := ParseSignal(env)
	require.NoError(t, err)
	assert.True(t, sig.Receipt)
	assert.Equal(t, "r-1@ap", sig.MessageID)
	assert.Equal(t, "msg-1", sig.RefToMessageID)
	assert.Empty(t, sig.Errors)
	assert.False(t, sig.HasFailure())

	_, err = ParseUserMessage(env)
	assert.ErrorIs(t, err, ErrNoUserMessage)
}

func TestErrorSignal(t *testing.T) {
	env, err := BuildErrorSignal("e-1@ap", "msg-1",
		Error{
			Category:            "Content",
			ErrorCode:           ErrCodeOther,
			Origin:              "ebMS",
			RefToMessageInError: "msg-1",
			Severity:            SeverityFailure,
			ShortDescription:    "Other",
			Description:         "downstream unavailable",
		},
		Error{ErrorCode: "PEPPOL:NOT_SERVICED", Severity: SeverityWarning, ShortDescription: "x", ErrorDetail: "detail"},
	)
	require.NoError(t, err)

	sig, err := ParseSignal(env)
	require.NoError(t, err)
	assert.False(t, sig.Receipt)
	require.Len(t, sig.Errors, 2)
	assert.True(t, sig.HasFailure())

	first := sig.Errors[0]
	assert.Equal(t, "Content", first.Category)
	assert.Equal(t, ErrCodeOther, first.ErrorCode)
	assert.Equal(t, "ebMS", first.Origin)
	assert.Equal(t, "msg-1", first.RefToMessageInError)
	assert.Equal(t, "downstream unavailable", first.Description)
	assert.Empty(t, first.ErrorDetail)

	assert.Equal(t, "detail", sig.Errors[1].ErrorDetail)
	assert.False(t, sig.Errors[1].IsFailure())

	_, err = BuildErrorSignal("e-2", "msg-1")
	assert.Error(t, err)
}

func TestParseSignalForeignPrefixes(t *testing.T) {
	input := `<?xml version="1.0"?>
<S12:Envelope xmlns:S12="http://www.w3.org/2003/05/soap-envelope" xmlns:ns2="http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/">
 <S12:Header>
  <wsse:Security xmlns:wsse="` + NsWSSE + `"><wsse:BinarySecurityToken>TUlJQg==</wsse:BinarySecurityToken></wsse:Security>
  <ns2:Messaging S12:mustUnderstand="true">
   <ns2:SignalMessage>
    <ns2:MessageInfo><ns2:Timestamp>2025-01-02T03:04:05.678</ns2:Timestamp><ns2:MessageId>sig-9</ns2:MessageId></ns2:MessageInfo>
    <ns2:Error errorCode="EBMS:0004" severity="failure" shortDescription="Other"><ns2:Description xml:lang="en">boom</ns2:Description></ns2:Error>
   </ns2:SignalMessage>
  </ns2:Messaging>
 </S12:Header>
 <S12:Body/>
</S12:Envelope>`

	sig, err := ParseSignal([]byte(input))
	require.NoError(t, err)
	assert.Equal(t, "sig-9", sig.MessageID)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 678000000, time.UTC), sig.Timestamp)
	require.Len(t, sig.Errors, 1)
	assert.Equal(t, "boom", sig.Errors[0].Description)
	assert.Equal(t, "TUlJQg==", SecurityToken([]byte(input)))
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "not xml", input: "not xml"},
		{name: "not an envelope", input: "<Invoice/>"},
		{name: "no messaging", input: `<soap:Envelope xmlns:soap="` + NsSOAPEnv + `"><soap:Header/><soap:Body/></soap:Envelope>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSignal([]byte(tt.input))
			assert.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}
}

func TestNewMessageID(t *testing.T) {
	a := NewMessageID("ap.example")
	b := NewMessageID("")
	assert.Contains(t, a, "@ap.example")
	assert.Contains(t, b, "@peppol-ap")
	assert.NotEqual(t, a, b)
}
