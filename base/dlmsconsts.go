package base

const (
	DlmsVersion = 0x06

	VAANameLN = 0x0007
	VAANameSN = 0xFA00

	HDLCFrameStartEnd = 0x7E

	DefaultMaxReceivePDUSize = 0xFFFF
)

type Authentication byte

const (
	AuthenticationNone       Authentication = 0 // No authentication is used.
	AuthenticationLow        Authentication = 1 // Low authentication is used.
	AuthenticationHigh       Authentication = 2 // High authentication is used.
	AuthenticationHighMD5    Authentication = 3 // High authentication is used. Password is hashed with MD5.
	AuthenticationHighSHA1   Authentication = 4 // High authentication is used. Password is hashed with SHA1.
	AuthenticationHighGmac   Authentication = 5 // High authentication is used. Password is hashed with GMAC.
	AuthenticationHighSha256 Authentication = 6 // High authentication is used. Password is hashed with SHA-256.
	AuthenticationHighEcdsa  Authentication = 7 // High authentication is used. Password is hashed with ECDSA.
)

func (a Authentication) String() string {
	switch a {
	case AuthenticationNone:
		return "none"
	case AuthenticationLow:
		return "low"
	case AuthenticationHigh:
		return "high"
	case AuthenticationHighMD5:
		return "high-md5"
	case AuthenticationHighSHA1:
		return "high-sha1"
	case AuthenticationHighGmac:
		return "high-gmac"
	case AuthenticationHighSha256:
		return "high-sha256"
	case AuthenticationHighEcdsa:
		return "high-ecdsa"
	}
	return "unknown"
}

type DlmsSecurity byte

const (
	SecurityNone                     DlmsSecurity = 0    // Transport security is not used.
	SecurityAuthentication           DlmsSecurity = 0x10 // Authentication security is used.
	SecurityEncryption               DlmsSecurity = 0x20 // Encryption security is used.
	SecurityAuthenticationEncryption DlmsSecurity = 0x30
)

type AssociationResult byte

const (
	AssociationResultAccepted          AssociationResult = 0
	AssociationResultPermanentRejected AssociationResult = 1
	AssociationResultTransientRejected AssociationResult = 2
)

func (a AssociationResult) String() string {
	switch a {
	case AssociationResultAccepted:
		return "accepted"
	case AssociationResultPermanentRejected:
		return "permanent-rejected"
	case AssociationResultTransientRejected:
		return "transient-rejected"
	}
	return "unknown"
}

type SourceDiagnostic byte

const (
	SourceDiagnosticNone                                       SourceDiagnostic = 0
	SourceDiagnosticNoReasonGiven                              SourceDiagnostic = 1
	SourceDiagnosticApplicationContextNameNotSupported         SourceDiagnostic = 2
	SourceDiagnosticCallingAPTitleNotRecognized                SourceDiagnostic = 3
	SourceDiagnosticCallingAPInvocationIdentifierNotRecognized SourceDiagnostic = 4
	SourceDiagnosticCallingAEQualifierNotRecognized            SourceDiagnostic = 5
	SourceDiagnosticCallingAEInvocationIdentifierNotRecognized SourceDiagnostic = 6
	SourceDiagnosticCalledAPTitleNotRecognized                 SourceDiagnostic = 7
	SourceDiagnosticCalledAPInvocationIdentifierNotRecognized  SourceDiagnostic = 8
	SourceDiagnosticCalledAEQualifierNotRecognized             SourceDiagnostic = 9
	SourceDiagnosticCalledAEInvocationIdentifierNotRecognized  SourceDiagnostic = 10
	SourceDiagnosticAuthenticationMechanismNameNotRecognized   SourceDiagnostic = 11
	SourceDiagnosticAuthenticationMechanismNameRequired        SourceDiagnostic = 12
	SourceDiagnosticAuthenticationFailure                      SourceDiagnostic = 13
	SourceDiagnosticAuthenticationRequired                     SourceDiagnostic = 14
)

type ApplicationContext byte

// Application context definitions
const (
	ApplicationContextLNNoCiphering ApplicationContext = 1
	ApplicationContextSNNoCiphering ApplicationContext = 2
	ApplicationContextLNCiphering   ApplicationContext = 3
	ApplicationContextSNCiphering   ApplicationContext = 4
)

const (
	PduTypeProtocolVersion            = 0
	PduTypeApplicationContextName     = 1
	PduTypeCalledAPTitle              = 2
	PduTypeCalledAEQualifier          = 3
	PduTypeCalledAPInvocationID       = 4
	PduTypeCalledAEInvocationID       = 5
	PduTypeCallingAPTitle             = 6
	PduTypeCallingAEQualifier         = 7
	PduTypeCallingAPInvocationID      = 8
	PduTypeCallingAEInvocationID      = 9
	PduTypeSenderAcseRequirements     = 10
	PduTypeMechanismName              = 11
	PduTypeCallingAuthenticationValue = 12
	PduTypeImplementationInformation  = 29
	PduTypeUserInformation            = 30
)

const (
	BERTypeContext     = 0x80
	BERTypeApplication = 0x40
	BERTypeConstructed = 0x20

	BERTypeInteger          = 0x02
	BERTypeBitString        = 0x03
	BERTypeOctetString      = 0x04
	BERTypeObjectIdentifier = 0x06
	BERTypeObjectDescriptor = 0x07
)

// Conformance block, 24 bits, sent as 3 bytes
type Conformance uint32

const (
	ConformanceBlockReservedZero         Conformance = 0b100000000000000000000000
	ConformanceBlockGeneralProtection    Conformance = 0b010000000000000000000000
	ConformanceBlockGeneralBlockTransfer Conformance = 0b001000000000000000000000
	ConformanceBlockRead                 Conformance = 0b000100000000000000000000

	ConformanceBlockWrite            Conformance = 0b000010000000000000000000
	ConformanceBlockUnconfirmedWrite Conformance = 0b000001000000000000000000
	ConformanceBlockReservedSix      Conformance = 0b000000100000000000000000
	ConformanceBlockReservedSeven    Conformance = 0b000000010000000000000000

	ConformanceBlockAttribute0SupportedWithSet Conformance = 0b000000001000000000000000
	ConformanceBlockPriorityMgmtSupported      Conformance = 0b000000000100000000000000
	ConformanceBlockAttribute0SupportedWithGet Conformance = 0b000000000010000000000000
	ConformanceBlockBlockTransferWithGetOrRead Conformance = 0b000000000001000000000000

	ConformanceBlockBlockTransferWithSetOrWrite Conformance = 0b000000000000100000000000
	ConformanceBlockBlockTransferWithAction     Conformance = 0b000000000000010000000000
	ConformanceBlockMultipleReferences          Conformance = 0b000000000000001000000000
	ConformanceBlockInformationReport           Conformance = 0b000000000000000100000000

	ConformanceBlockDataNotification   Conformance = 0b000000000000000010000000
	ConformanceBlockAccess             Conformance = 0b000000000000000001000000
	ConformanceBlockParametrizedAccess Conformance = 0b000000000000000000100000
	ConformanceBlockGet                Conformance = 0b000000000000000000010000

	ConformanceBlockSet               Conformance = 0b000000000000000000001000
	ConformanceBlockSelectiveAccess   Conformance = 0b000000000000000000000100
	ConformanceBlockEventNotification Conformance = 0b000000000000000000000010
	ConformanceBlockAction            Conformance = 0b000000000000000000000001
)

// default conformance proposals
const (
	ConformanceClientLN = Conformance(0x007E1F)
	ConformanceServerLN = Conformance(0x007C1F)
	ConformanceSN       = Conformance(0x1C0320)
)

func (c Conformance) Bytes() []byte {
	return []byte{byte(c >> 16), byte(c >> 8), byte(c)}
}

func ConformanceFromBytes(b []byte) Conformance {
	if len(b) < 3 {
		return 0
	}
	return Conformance(b[0])<<16 | Conformance(b[1])<<8 | Conformance(b[2])
}

type CosemTag byte

const (
	TagNone CosemTag = 0
	// ---- standardized DLMS APDUs
	TagInitiateRequest          CosemTag = 1
	TagReadRequest              CosemTag = 5
	TagWriteRequest             CosemTag = 6
	TagInitiateResponse         CosemTag = 8
	TagReadResponse             CosemTag = 12
	TagWriteResponse            CosemTag = 13
	TagConfirmedServiceError    CosemTag = 14
	TagDataNotification         CosemTag = 15
	TagUnconfirmedWriteRequest  CosemTag = 22
	TagInformationReportRequest CosemTag = 24
	TagGloInitiateRequest       CosemTag = 33
	TagGloInitiateResponse      CosemTag = 40
	TagGloConfirmedServiceError CosemTag = 46
	TagAARQ                     CosemTag = 96
	TagAARE                     CosemTag = 97
	TagRLRQ                     CosemTag = 98
	TagRLRE                     CosemTag = 99
	// --- APDUs used for data communication services
	TagGetRequest               CosemTag = 192
	TagSetRequest               CosemTag = 193
	TagEventNotificationRequest CosemTag = 194
	TagActionRequest            CosemTag = 195
	TagGetResponse              CosemTag = 196
	TagSetResponse              CosemTag = 197
	TagActionResponse           CosemTag = 199
	// --- global ciphered pdus
	TagGloReadRequest              CosemTag = 37
	TagGloWriteRequest             CosemTag = 38
	TagGloReadResponse             CosemTag = 44
	TagGloWriteResponse            CosemTag = 45
	TagGloGetRequest               CosemTag = 200
	TagGloSetRequest               CosemTag = 201
	TagGloEventNotificationRequest CosemTag = 202
	TagGloActionRequest            CosemTag = 203
	TagGloGetResponse              CosemTag = 204
	TagGloSetResponse              CosemTag = 205
	TagGloActionResponse           CosemTag = 207
	// --- dedicated ciphered pdus
	TagDedReadRequest              CosemTag = 69
	TagDedWriteRequest             CosemTag = 70
	TagDedReadResponse             CosemTag = 76
	TagDedWriteResponse            CosemTag = 77
	TagDedGetRequest               CosemTag = 208
	TagDedSetRequest               CosemTag = 209
	TagDedEventNotificationRequest CosemTag = 210
	TagDedActionRequest            CosemTag = 211
	TagDedGetResponse              CosemTag = 212
	TagDedSetResponse              CosemTag = 213
	TagDedActionResponse           CosemTag = 215
	TagExceptionResponse           CosemTag = 216
	TagGeneralBlockTransfer        CosemTag = 224 // carries pushed data notifications
	// --- link layer events, not apdus, values are hdlc control bytes
	TagDisconnectMode    CosemTag = 0x1F
	TagDisconnectRequest CosemTag = 0x53
	TagUA                CosemTag = 0x73
	TagSNRM              CosemTag = 0x93
	TagRejected          CosemTag = 0x97
)

// IsReply reports commands carrying a result byte when sent as a single block.
func (c CosemTag) IsReply() bool {
	return c == TagGetResponse || c == TagSetResponse || c == TagActionResponse
}

// GloTag maps plain service to the globally ciphered one.
func GloTag(c CosemTag) (CosemTag, error) {
	switch c {
	case TagReadRequest, TagGetRequest:
		return TagGloGetRequest, nil
	case TagWriteRequest, TagSetRequest:
		return TagGloSetRequest, nil
	case TagActionRequest:
		return TagGloActionRequest, nil
	case TagReadResponse, TagGetResponse:
		return TagGloGetResponse, nil
	case TagWriteResponse, TagSetResponse:
		return TagGloSetResponse, nil
	case TagActionResponse:
		return TagGloActionResponse, nil
	case TagEventNotificationRequest:
		return TagGloEventNotificationRequest, nil
	}
	return TagNone, ErrInvalidGloCommand
}

type InterfaceType byte

const (
	InterfaceTypeHDLC    InterfaceType = 0
	InterfaceTypeWrapper InterfaceType = 1
)

func (i InterfaceType) String() string {
	switch i {
	case InterfaceTypeHDLC:
		return "hdlc"
	case InterfaceTypeWrapper:
		return "wrapper"
	}
	return "unknown"
}

type Priority byte

const (
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

type ServiceClass byte

const (
	ServiceClassUnconfirmed ServiceClass = 0
	ServiceClassConfirmed   ServiceClass = 1
)

// RequestTypes tells what the peer still owes us.
type RequestTypes byte

const (
	RequestTypesNone      RequestTypes = 0
	RequestTypesDataBlock RequestTypes = 1 // application expects another block
	RequestTypesFrame     RequestTypes = 2 // link layer expects another frame
)

// hdlc control field values
const (
	FrameTypeInformation     byte = 0x00
	FrameTypeReceiveReady    byte = 0x01
	FrameTypeReceiveNotReady byte = 0x05
	FrameTypeSNRM            byte = 0x83
	FrameTypeDisconnect      byte = 0x43
	FrameTypeUA              byte = 0x63
	FrameTypeDisconnectMode  byte = 0x0F
	FrameTypeRejected        byte = 0x97
)

// InitiateRequest and friends inside user information
const (
	InitiateRequestTag     = 0x01
	InitiateResponseTag    = 0x08
	GloInitiateRequestTag  = 0x21
	GloInitiateResponseTag = 0x28
)

var (
	LogicalNameObjectID              = []byte{0x60, 0x85, 0x74, 0x05, 0x08, 0x01, 0x01}
	ShortNameObjectID                = []byte{0x60, 0x85, 0x74, 0x05, 0x08, 0x01, 0x02}
	LogicalNameObjectIDWithCiphering = []byte{0x60, 0x85, 0x74, 0x05, 0x08, 0x01, 0x03}
	ShortNameObjectIDWithCiphering   = []byte{0x60, 0x85, 0x74, 0x05, 0x08, 0x01, 0x04}
	MechanismNamePrefix              = []byte{0x60, 0x85, 0x74, 0x05, 0x08, 0x02}

	LLCSendBytes  = []byte{0xE6, 0xE6, 0x00}
	LLCReplyBytes = []byte{0xE6, 0xE7, 0x00}
)

type DlmsResultTag byte

const (
	// DataAccessResult
	TagResultSuccess                 DlmsResultTag = 0
	TagResultHardwareFault           DlmsResultTag = 1
	TagResultTemporaryFailure        DlmsResultTag = 2
	TagResultReadWriteDenied         DlmsResultTag = 3
	TagResultObjectUndefined         DlmsResultTag = 4
	TagResultObjectClassInconsistent DlmsResultTag = 9
	TagResultObjectUnavailable       DlmsResultTag = 11
	TagResultTypeUnmatched           DlmsResultTag = 12
	TagResultScopeAccessViolated     DlmsResultTag = 13
	TagResultDataBlockUnavailable    DlmsResultTag = 14
	TagResultLongGetAborted          DlmsResultTag = 15
	TagResultNoLongGetInProgress     DlmsResultTag = 16
	TagResultLongSetAborted          DlmsResultTag = 17
	TagResultNoLongSetInProgress     DlmsResultTag = 18
	TagResultDataBlockNumberInvalid  DlmsResultTag = 19
	TagResultOtherReason             DlmsResultTag = 250
)

func (s DlmsResultTag) String() string {
	switch s {
	case TagResultSuccess:
		return "success"
	case TagResultHardwareFault:
		return "hardware-fault"
	case TagResultTemporaryFailure:
		return "temporary-failure"
	case TagResultReadWriteDenied:
		return "read-write-denied"
	case TagResultObjectUndefined:
		return "object-undefined"
	case TagResultObjectClassInconsistent:
		return "object-class-inconsistent"
	case TagResultObjectUnavailable:
		return "object-unavailable"
	case TagResultTypeUnmatched:
		return "type-unmatched"
	case TagResultScopeAccessViolated:
		return "scope-of-access-violated"
	case TagResultDataBlockUnavailable:
		return "data-block-unavailable"
	case TagResultLongGetAborted:
		return "long-get-aborted"
	case TagResultNoLongGetInProgress:
		return "no-long-get-in-progress"
	case TagResultLongSetAborted:
		return "long-set-aborted"
	case TagResultNoLongSetInProgress:
		return "no-long-set-in-progress"
	case TagResultDataBlockNumberInvalid:
		return "data-block-number-invalid"
	case TagResultOtherReason:
		return "other-reason"
	default:
		return "unknown"
	}
}

type ReleaseRequestReason byte

const (
	ReleaseRequestReasonNormal      ReleaseRequestReason = 0
	ReleaseRequestReasonUrgent      ReleaseRequestReason = 1
	ReleaseRequestReasonUserDefined ReleaseRequestReason = 30
)

type ExceptionStateError byte

const (
	ExceptionStateErrorServiceNotAllowed ExceptionStateError = 1
	ExceptionStateErrorServiceUnknown    ExceptionStateError = 2
)

type ExceptionServiceError byte

const (
	ExceptionServiceErrorOperationNotPossible ExceptionServiceError = 1
	ExceptionServiceErrorServiceNotSupported  ExceptionServiceError = 2
	ExceptionServiceErrorOtherReason          ExceptionServiceError = 3
	ExceptionServiceErrorPduTooLong           ExceptionServiceError = 4
	ExceptionServiceErrorDecipheringError     ExceptionServiceError = 5
	ExceptionServiceErrorInvocationCounter    ExceptionServiceError = 6
)
