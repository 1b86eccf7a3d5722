package reporting

import (
	"time"

	"github.com/google/uuid"
)

// TransportProtocolAS4 is the Peppol transport profile reported for every exchange
const TransportProtocolAS4 = "peppol-transport-as4-v2_0"

// Direction of an exchange as seen from this access point
type Direction string

const (
	DirectionSending   Direction = "sending"
	DirectionReceiving Direction = "receiving"
)

// Item is one reporting record. It is written once and never updated.
type Item struct {
	ID                string    `json:"id" bson:"_id"`
	ExchangeDateTime  time.Time `json:"exchangeDateTime" bson:"exchange_dt"`
	Direction         Direction `json:"direction" bson:"direction"`
	C2ID              string    `json:"c2Id" bson:"c2_id"`
	C3ID              string    `json:"c3Id" bson:"c3_id"`
	DocTypeID         string    `json:"docTypeId" bson:"doctype_id"`
	ProcessID         string    `json:"processId" bson:"process_id"`
	TransportProtocol string    `json:"transportProtocol" bson:"transport_protocol"`
	C1CountryCode     string    `json:"c1CountryCode" bson:"c1_country_code"`
	C4CountryCode     string    `json:"c4CountryCode,omitempty" bson:"c4_country_code,omitempty"`
	EndUserID         string    `json:"endUserId" bson:"end_user_id"`
	AS4MessageID      string    `json:"as4MessageId" bson:"as4_message_id"`
	AS4ConversationID string    `json:"as4ConversationId" bson:"as4_conversation_id"`
}

// NewItem returns an item with a fresh ID, the AS4 transport protocol and
// the exchange time normalized to UTC.
func NewItem(direction Direction, exchanged time.Time) Item {
	return Item{
		ID:                uuid.NewString(),
		ExchangeDateTime:  exchanged.UTC(),
		Direction:         direction,
		TransportProtocol: TransportProtocolAS4,
	}
}
