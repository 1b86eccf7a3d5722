package outbound

import (
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/sirosfoundation/go-peppol-ap/internal/as4"
	"github.com/sirosfoundation/go-peppol-ap/pkg/certcheck"
	"github.com/sirosfoundation/go-peppol-ap/pkg/message"
)

// Outcome is the record of one send attempt
type Outcome struct {
	CurrentDateTimeUTC string `json:"currentDateTimeUTC"`
	SenderID           string `json:"senderId"`
	ReceiverID         string `json:"receiverId"`
	DocTypeID          string `json:"docTypeId"`
	ProcessID          string `json:"processId"`
	CountryC1          string `json:"countryC1"`
	SenderPartyID      string `json:"senderPartyId"`

	C3EndpointURL     string           `json:"c3EndpointUrl,omitempty"`
	C3Cert            string           `json:"c3Cert,omitempty"`
	C3CertSubjectCN   string           `json:"c3CertSubjectCN,omitempty"`
	C3CertCheckDT     string           `json:"c3CertCheckDT,omitempty"`
	C3CertCheckResult certcheck.Result `json:"c3CertCheckResult,omitempty"`

	AS4MessageID         string       `json:"as4MessageId,omitempty"`
	AS4ConversationID    string       `json:"as4ConversationId,omitempty"`
	AS4ReceivedSignalMsg string       `json:"as4ReceivedSignalMsg,omitempty"`
	AS4ResponseError     *bool        `json:"as4ResponseError,omitempty"`
	AS4ResponseErrors    []ErrorEntry `json:"as4ResponseErrors,omitempty"`

	SendingResult    as4.SendResult `json:"sendingResult,omitempty"`
	SendingException *Exception     `json:"sendingException,omitempty"`

	OverallDurationMillis int64 `json:"overallDurationMillis"`
	SendingSuccess        bool  `json:"sendingSuccess"`
	OverallSuccess        bool  `json:"overallSuccess"`
}

// ErrorEntry is one ebMS error of the received signal message
type ErrorEntry struct {
	Description         string `json:"description,omitempty"`
	ErrorDetails        string `json:"errorDetails,omitempty"`
	Category            string `json:"category,omitempty"`
	RefToMessageInError string `json:"refToMessageInError,omitempty"`
	ErrorCode           string `json:"errorCode,omitempty"`
	Origin              string `json:"origin,omitempty"`
	Severity            string `json:"severity,omitempty"`
	ShortDescription    string `json:"shortDescription,omitempty"`
}

// Exception describes the failure that ended an attempt
type Exception struct {
	Class      string `json:"class"`
	Message    string `json:"message"`
	StackTrace string `json:"stackTrace"`
}

// JSON returns the indented JSON form of the outcome
func (o *Outcome) JSON() ([]byte, error) {
	return json.MarshalIndent(o, "", "  ")
}

// recorder accumulates facts about a single attempt. It is owned by that
// attempt and its callbacks, all of which run on the sending goroutine.
type recorder struct {
	out *Outcome
	// result is tracked apart from the outcome so an empty result stays absent
	result          as4.SendResult
	exceptionCaught bool
}

func newRecorder(now time.Time, req *Request, seatID string) *recorder {
	return &recorder{out: &Outcome{
		CurrentDateTimeUTC: message.FormatTimestamp(now),
		SenderID:           req.SenderID,
		ReceiverID:         req.ReceiverID,
		DocTypeID:          req.DocTypeID,
		ProcessID:          req.ProcessID,
		CountryC1:          req.CountryC1,
		SenderPartyID:      seatID,
	}}
}

func (r *recorder) endpoint(url string) {
	r.out.C3EndpointURL = url
}

func (r *recorder) certificate(cert *x509.Certificate, checkedAt time.Time, result certcheck.Result) {
	r.out.C3Cert = certcheck.EncodePEM(cert)
	r.out.C3CertSubjectCN = certcheck.CommonName(cert)
	r.out.C3CertCheckDT = message.FormatTimestamp(checkedAt)
	r.out.C3CertCheckResult = result
}

func (r *recorder) message(messageID, conversationID string) {
	r.out.AS4MessageID = messageID
	r.out.AS4ConversationID = conversationID
}

// signal records the signal message and returns the new error entries
func (r *recorder) signal(raw []byte, sig *message.SignalMessage) []ErrorEntry {
	r.out.AS4ReceivedSignalMsg = string(raw)
	hasErrors := sig != nil && len(sig.Errors) > 0
	r.out.AS4ResponseError = &hasErrors
	if !hasErrors {
		return nil
	}
	entries := make([]ErrorEntry, 0, len(sig.Errors))
	for _, e := range sig.Errors {
		entries = append(entries, ErrorEntry{
			Description:         e.Description,
			ErrorDetails:        e.ErrorDetail,
			Category:            e.Category,
			RefToMessageInError: e.RefToMessageInError,
			ErrorCode:           e.ErrorCode,
			Origin:              e.Origin,
			Severity:            e.Severity,
			ShortDescription:    e.ShortDescription,
		})
	}
	r.out.AS4ResponseErrors = append(r.out.AS4ResponseErrors, entries...)
	return entries
}

func (r *recorder) sendResult(result as4.SendResult) {
	r.result = result
	r.out.SendingResult = result
}

func (r *recorder) exception(err error) {
	r.exceptionCaught = true
	r.out.SendingException = &Exception{
		Class:      errorClass(err),
		Message:    err.Error(),
		StackTrace: errorChain(err),
	}
}

func (r *recorder) panicked(p any, stack []byte) {
	r.exceptionCaught = true
	r.out.SendingException = &Exception{
		Class:      "panic",
		Message:    fmt.Sprint(p),
		StackTrace: string(stack),
	}
}

// finish stamps the duration and success flags and hands out the outcome
func (r *recorder) finish(elapsed time.Duration) *Outcome {
	r.out.OverallDurationMillis = elapsed.Milliseconds()
	r.out.SendingSuccess = r.result.IsSuccess()
	r.out.OverallSuccess = r.out.SendingSuccess && !r.exceptionCaught
	return r.out
}

// errorClass names the first error in the chain that is not a plain
// fmt wrapper, falling back to the innermost error.
func errorClass(err error) string {
	class := fmt.Sprintf("%T", err)
	for e := err; e != nil; e = errors.Unwrap(e) {
		class = fmt.Sprintf("%T", e)
		switch class {
		case "*fmt.wrapError", "*fmt.wrapErrors", "*errors.errorString":
			continue
		}
		return class
	}
	return class
}

// errorChain lists every error of the wrap chain, outermost first
func errorChain(err error) string {
	var b strings.Builder
	for e := err; e != nil; e = errors.Unwrap(e) {
		if b.Len() > 0 {
			b.WriteString("\ncaused by: ")
		}
		fmt.Fprintf(&b, "%T: %s", e, e.Error())
	}
	return b.String()
}
