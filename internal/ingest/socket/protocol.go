package socket

import (
	"fmt"

	"github.com/golang/protobuf/proto"
)

type Operation int32

const (
	OperationUnknown  Operation = 0
	OperationValidate Operation = 1
	OperationGetRun   Operation = 2
	OperationPing     Operation = 3
	OperationHealth   Operation = 4
)

type ErrorCode int32

const (
	ErrorCodeOK              ErrorCode = 0
	ErrorCodeBadRequest      ErrorCode = 1
	ErrorCodeUnauthenticated ErrorCode = 2
	ErrorCodeNotFound        ErrorCode = 3
	ErrorCodeOverloaded      ErrorCode = 4
	ErrorCodeInternal        ErrorCode = 5
	ErrorCodeUnavailable     ErrorCode = 6
)

type SocketRequest struct {
	RequestId string             `protobuf:"bytes,1,opt,name=request_id,json=requestId,proto3"`
	AuthToken string             `protobuf:"bytes,2,opt,name=auth_token,json=authToken,proto3"`
	Operation int32              `protobuf:"varint,3,opt,name=operation,proto3"`
	Validate  *ValidationRequest `protobuf:"bytes,4,opt,name=validate,proto3"`
	GetRun    *RunQuery          `protobuf:"bytes,5,opt,name=get_run,json=getRun,proto3"`
	Ping      *PingRequest       `protobuf:"bytes,6,opt,name=ping,proto3"`
}

func (*SocketRequest) Reset()         {}
func (*SocketRequest) String() string { return "SocketRequest" }
func (*SocketRequest) ProtoMessage()  {}

type SocketResponse struct {
	RequestId    string              `protobuf:"bytes,1,opt,name=request_id,json=requestId,proto3"`
	ErrorCode    int32               `protobuf:"varint,2,opt,name=error_code,json=errorCode,proto3"`
	ErrorMessage string              `protobuf:"bytes,3,opt,name=error_message,json=errorMessage,proto3"`
	Validation   *ValidationResponse `protobuf:"bytes,4,opt,name=validation,proto3"`
	Pong         *PongResponse       `protobuf:"bytes,5,opt,name=pong,proto3"`
	Run          *RunResponse        `protobuf:"bytes,6,opt,name=run,proto3"`
	Health       *HealthResponse     `protobuf:"bytes,7,opt,name=health,proto3"`
}

func (*SocketResponse) Reset()         {}
func (*SocketResponse) String() string { return "SocketResponse" }
func (*SocketResponse) ProtoMessage()  {}

type ValidationRequest struct {
	CorrelationId string `protobuf:"bytes,1,opt,name=correlation_id,json=correlationId,proto3"`
	ProdName      string `protobuf:"bytes,2,opt,name=prod_name,json=prodName,proto3"`
	TestName      string `protobuf:"bytes,3,opt,name=test_name,json=testName,proto3"`
	ProdDocument  string `protobuf:"bytes,4,opt,name=prod_document,json=prodDocument,proto3"`
	TestDocument  string `protobuf:"bytes,5,opt,name=test_document,json=testDocument,proto3"`
	IncludeReport bool   `protobuf:"varint,6,opt,name=include_report,json=includeReport,proto3"`
}

func (*ValidationRequest) Reset()         {}
func (*ValidationRequest) String() string { return "ValidationRequest" }
func (*ValidationRequest) ProtoMessage()  {}

// Diagnostic carries optional context behind has_values and has_counts.
type Diagnostic struct {
	Segment    string `protobuf:"bytes,1,opt,name=segment,proto3"`
	Difference string `protobuf:"bytes,2,opt,name=difference,proto3"`
	Severity   string `protobuf:"bytes,3,opt,name=severity,proto3"`
	SegmentPos int32  `protobuf:"varint,4,opt,name=segment_pos,json=segmentPos,proto3"`
	HasCounts  bool   `protobuf:"varint,5,opt,name=has_counts,json=hasCounts,proto3"`
	Found      int32  `protobuf:"varint,6,opt,name=found,proto3"`
	Allowed    int32  `protobuf:"varint,7,opt,name=allowed,proto3"`
	HasValues  bool   `protobuf:"varint,8,opt,name=has_values,json=hasValues,proto3"`
	ProdValue  string `protobuf:"bytes,9,opt,name=prod_value,json=prodValue,proto3"`
	TestValue  string `protobuf:"bytes,10,opt,name=test_value,json=testValue,proto3"`
}

func (*Diagnostic) Reset()         {}
func (*Diagnostic) String() string { return "Diagnostic" }
func (*Diagnostic) ProtoMessage()  {}

type ValidationResponse struct {
	RunId           string        `protobuf:"bytes,1,opt,name=run_id,json=runId,proto3"`
	CorrelationId   string        `protobuf:"bytes,2,opt,name=correlation_id,json=correlationId,proto3"`
	HasTransaction  bool          `protobuf:"varint,3,opt,name=has_transaction,json=hasTransaction,proto3"`
	TransactionId   string        `protobuf:"bytes,4,opt,name=transaction_id,json=transactionId,proto3"`
	AckStatus       string        `protobuf:"bytes,5,opt,name=ack_status,json=ackStatus,proto3"`
	Status          string        `protobuf:"bytes,6,opt,name=status,proto3"`
	FatalErrors     []*Diagnostic `protobuf:"bytes,7,rep,name=fatal_errors,json=fatalErrors,proto3"`
	AllErrors       []*Diagnostic `protobuf:"bytes,8,rep,name=all_errors,json=allErrors,proto3"`
	Ack997          string        `protobuf:"bytes,9,opt,name=ack_997,json=ack997,proto3"`
	Report          string        `protobuf:"bytes,10,opt,name=report,proto3"`
	CreatedAtUtcNs  int64         `protobuf:"varint,11,opt,name=created_at_utc_ns,json=createdAtUtcNs,proto3"`
	Source          string        `protobuf:"bytes,12,opt,name=source,proto3"`
	SourceRef       string        `protobuf:"bytes,13,opt,name=source_ref,json=sourceRef,proto3"`
	FatalErrorCount int32         `protobuf:"varint,14,opt,name=fatal_error_count,json=fatalErrorCount,proto3"`
	ErrorCount      int32         `protobuf:"varint,15,opt,name=error_count,json=errorCount,proto3"`
}

func (*ValidationResponse) Reset()         {}
func (*ValidationResponse) String() string { return "ValidationResponse" }
func (*ValidationResponse) ProtoMessage()  {}

type RunQuery struct {
	RunId string `protobuf:"bytes,1,opt,name=run_id,json=runId,proto3"`
}

func (*RunQuery) Reset()         {}
func (*RunQuery) String() string { return "RunQuery" }
func (*RunQuery) ProtoMessage()  {}

type RunResponse struct {
	Found bool                `protobuf:"varint,1,opt,name=found,proto3"`
	Run   *ValidationResponse `protobuf:"bytes,2,opt,name=run,proto3"`
}

func (*RunResponse) Reset()         {}
func (*RunResponse) String() string { return "RunResponse" }
func (*RunResponse) ProtoMessage()  {}

type PingRequest struct{}

func (*PingRequest) Reset()         {}
func (*PingRequest) String() string { return "PingRequest" }
func (*PingRequest) ProtoMessage()  {}

type PongResponse struct {
	UnixTimeNs int64 `protobuf:"varint,1,opt,name=unix_time_ns,json=unixTimeNs,proto3"`
}

func (*PongResponse) Reset()         {}
func (*PongResponse) String() string { return "PongResponse" }
func (*PongResponse) ProtoMessage()  {}

type HealthResponse struct {
	Ok      bool   `protobuf:"varint,1,opt,name=ok,proto3"`
	Message string `protobuf:"bytes,2,opt,name=message,proto3"`
}

func (*HealthResponse) Reset()         {}
func (*HealthResponse) String() string { return "HealthResponse" }
func (*HealthResponse) ProtoMessage()  {}

func MarshalMessage(msg proto.Message) ([]byte, error) { return proto.Marshal(msg) }

func UnmarshalRequest(payload []byte) (*SocketRequest, error) {
	var req SocketRequest
	if err := proto.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func UnmarshalResponse(payload []byte) (*SocketResponse, error) {
	var res SocketResponse
	if err := proto.Unmarshal(payload, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func ValidateRequest(req *SocketRequest) error {
	if req == nil {
		return fmt.Errorf("nil request")
	}
	if req.Operation == int32(OperationUnknown) {
		return fmt.Errorf("operation is required")
	}
	return nil
}
