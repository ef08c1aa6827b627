package imap

import (
	"fmt"
	"strings"
)

// StatusResponseType is a generic status response type.
type StatusResponseType string

const (
	StatusResponseTypeOK      StatusResponseType = "OK"
	StatusResponseTypeNo      StatusResponseType = "NO"
	StatusResponseTypeBad     StatusResponseType = "BAD"
	StatusResponseTypePreAuth StatusResponseType = "PREAUTH"
	StatusResponseTypeBye     StatusResponseType = "BYE"
)

// ResponseCode is a response code.
type ResponseCode string

const (
	ResponseCodeAlert                ResponseCode = "ALERT"
	ResponseCodeAlreadyExists        ResponseCode = "ALREADYEXISTS"
	ResponseCodeAppendUID            ResponseCode = "APPENDUID"
	ResponseCodeAuthenticationFailed ResponseCode = "AUTHENTICATIONFAILED"
	ResponseCodeAuthorizationFailed  ResponseCode = "AUTHORIZATIONFAILED"
	ResponseCodeBadCharset           ResponseCode = "BADCHARSET"
	ResponseCodeCannot               ResponseCode = "CANNOT"
	ResponseCodeClientBug            ResponseCode = "CLIENTBUG"
	ResponseCodeClosed               ResponseCode = "CLOSED"
	ResponseCodeCopyUID              ResponseCode = "COPYUID"
	ResponseCodeNonExistent          ResponseCode = "NONEXISTENT"
	ResponseCodeNoPerm               ResponseCode = "NOPERM"
	ResponseCodeParse                ResponseCode = "PARSE"
	ResponseCodePermanentFlags       ResponseCode = "PERMANENTFLAGS"
	ResponseCodePrivacyRequired      ResponseCode = "PRIVACYREQUIRED"
	ResponseCodeReadOnly             ResponseCode = "READ-ONLY"
	ResponseCodeReadWrite            ResponseCode = "READ-WRITE"
	ResponseCodeServerBug            ResponseCode = "SERVERBUG"
	ResponseCodeTooBig               ResponseCode = "TOOBIG"
	ResponseCodeTryCreate            ResponseCode = "TRYCREATE"
	ResponseCodeUIDNext              ResponseCode = "UIDNEXT"
	ResponseCodeUIDValidity          ResponseCode = "UIDVALIDITY"
	ResponseCodeUnavailable          ResponseCode = "UNAVAILABLE"
	ResponseCodeUnseen               ResponseCode = "UNSEEN"
	ResponseCodeCapability           ResponseCode = "CAPABILITY"
)

// StatusResponse is a generic status response.
//
// See RFC 9051 section 7.1.
type StatusResponse struct {
	Type StatusResponseType
	Code ResponseCode
	// CodeArg is the optional response code argument: a number (uint32 or
	// UID), a flag list, a capability list or a string written as is.
	CodeArg interface{}
	Text    string
}

// Error is an IMAP error caused by a status response.
type Error StatusResponse

var _ error = (*Error)(nil)

// Error implements the error interface.
func (err *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "imap: %v", err.Type)
	if err.Code != "" {
		fmt.Fprintf(&sb, " [%v]", err.Code)
	}
	text := err.Text
	if text == "" {
		text = "<unknown>"
	}
	fmt.Fprintf(&sb, " %v", text)
	return sb.String()
}

// Temporary reports whether retrying the command later may succeed.
func (err *Error) Temporary() bool {
	return err.Code == ResponseCodeUnavailable
}

// Response is an untagged server response.
type Response interface {
	response()
}

var (
	_ Response = (*StatusResponse)(nil)
	_ Response = (*ExistsResponse)(nil)
	_ Response = (*RecentResponse)(nil)
	_ Response = (*ExpungeResponse)(nil)
	_ Response = (*FlagsResponse)(nil)
	_ Response = (*FetchResponse)(nil)
	_ Response = (*SearchResponse)(nil)
	_ Response = (*ListResponse)(nil)
	_ Response = (*StatusDataResponse)(nil)
	_ Response = (*CapabilityResponse)(nil)
)

func (*StatusResponse) response() {}

// ExistsResponse reports the number of messages in the mailbox.
type ExistsResponse struct {
	NumMessages uint32
}

func (*ExistsResponse) response() {}

// RecentResponse reports the number of messages with the \Recent flag.
type RecentResponse struct {
	NumRecent uint32
}

func (*RecentResponse) response() {}

// ExpungeResponse reports that the message with the given sequence number has
// been permanently removed.
type ExpungeResponse struct {
	SeqNum uint32
}

func (*ExpungeResponse) response() {}

// FlagsResponse reports the flags applicable to the mailbox.
type FlagsResponse struct {
	Flags []Flag
}

func (*FlagsResponse) response() {}

// FetchResponse carries message data.
type FetchResponse struct {
	Message *FetchMessageData
}

func (*FetchResponse) response() {}

// SearchResponse carries the numbers matching a SEARCH command: sequence
// numbers or UIDs depending on the command.
type SearchResponse struct {
	UID     bool
	SeqNums []uint32
	UIDs    []UID
}

func (*SearchResponse) response() {}

// ListResponse is a LIST or LSUB response.
type ListResponse struct {
	LSub bool
	Data ListData
}

func (*ListResponse) response() {}

// StatusDataResponse is a STATUS response.
type StatusDataResponse struct {
	Data StatusData
}

func (*StatusDataResponse) response() {}

// CapabilityResponse lists the server capabilities.
type CapabilityResponse struct {
	Caps []Cap
}

func (*CapabilityResponse) response() {}
