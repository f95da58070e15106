package registry

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/verdigrid/retroledger/pkg/types"
)

// Codec packs and unpacks registry calldata, call outputs and event
// payloads. It is shared by the client bindings and by the in-process
// node, which decodes the same wire format it serves.
type Codec struct {
	abi abi.ABI
}

// NewCodec parses the registry ABI.
func NewCodec() (*Codec, error) {
	parsed, err := abi.JSON(strings.NewReader(registryABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry ABI: %w", err)
	}
	return &Codec{abi: parsed}, nil
}

// StoredRecord is a registry record as returned by read calls.
type StoredRecord struct {
	RetrofitID   string
	PropertyRef  string
	EnergyRef    string
	RatingBefore uint8
	RatingAfter  uint8
	WorkTypes    []string
	Verifier     common.Address
	Timestamp    uint64
	Verified     bool
}

// abiRecord mirrors the record tuple. Field names must be the
// capitalized ABI component names for pack and convert to bind.
type abiRecord struct {
	RetrofitId   string
	PropertyRef  string
	EnergyRef    string
	RatingBefore uint8
	RatingAfter  uint8
	WorkTypes    []string
}

type abiStoredRecord struct {
	RetrofitId   string
	PropertyRef  string
	EnergyRef    string
	RatingBefore uint8
	RatingAfter  uint8
	WorkTypes    []string
	Verifier     common.Address
	Timestamp    *big.Int
	Verified     bool
}

func toABIRecord(req types.VerificationRequest) abiRecord {
	return abiRecord{
		RetrofitId:   req.RetrofitID,
		PropertyRef:  req.PropertyRef,
		EnergyRef:    req.EnergyRef,
		RatingBefore: req.RatingBefore,
		RatingAfter:  req.RatingAfter,
		WorkTypes:    req.WorkTypes,
	}
}

func fromABIRecord(rec abiRecord) types.VerificationRequest {
	return types.VerificationRequest{
		RetrofitID:   rec.RetrofitId,
		PropertyRef:  rec.PropertyRef,
		EnergyRef:    rec.EnergyRef,
		RatingBefore: rec.RatingBefore,
		RatingAfter:  rec.RatingAfter,
		WorkTypes:    rec.WorkTypes,
	}
}

func toABIStored(rec StoredRecord) abiStoredRecord {
	return abiStoredRecord{
		RetrofitId:   rec.RetrofitID,
		PropertyRef:  rec.PropertyRef,
		EnergyRef:    rec.EnergyRef,
		RatingBefore: rec.RatingBefore,
		RatingAfter:  rec.RatingAfter,
		WorkTypes:    rec.WorkTypes,
		Verifier:     rec.Verifier,
		Timestamp:    new(big.Int).SetUint64(rec.Timestamp),
		Verified:     rec.Verified,
	}
}

func fromABIStored(rec abiStoredRecord) StoredRecord {
	var ts uint64
	if rec.Timestamp != nil {
		ts = rec.Timestamp.Uint64()
	}
	return StoredRecord{
		RetrofitID:   rec.RetrofitId,
		PropertyRef:  rec.PropertyRef,
		EnergyRef:    rec.EnergyRef,
		RatingBefore: rec.RatingBefore,
		RatingAfter:  rec.RatingAfter,
		WorkTypes:    rec.WorkTypes,
		Verifier:     rec.Verifier,
		Timestamp:    ts,
		Verified:     rec.Verified,
	}
}

// Pack builds calldata for method with the given arguments.
func (c *Codec) Pack(method string, args ...interface{}) ([]byte, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	return data, nil
}

// PackVerifyRetrofit builds calldata for a single-record write.
func (c *Codec) PackVerifyRetrofit(req types.VerificationRequest) ([]byte, error) {
	return c.Pack(MethodVerifyRetrofit, toABIRecord(req))
}

// PackBatchVerify builds calldata for a batch write.
func (c *Codec) PackBatchVerify(reqs []types.VerificationRequest) ([]byte, error) {
	records := make([]abiRecord, len(reqs))
	for i, req := range reqs {
		records[i] = toABIRecord(req)
	}
	return c.Pack(MethodBatchVerify, records)
}

// DecodedCall is calldata decoded by method. Only the fields belonging
// to Method are populated.
type DecodedCall struct {
	Method  string
	Addr    common.Address
	ID      string
	Offset  *big.Int
	Limit   *big.Int
	Record  types.VerificationRequest
	Records []types.VerificationRequest
}

// DecodeCall resolves calldata into the registry method it targets and
// its decoded arguments.
func (c *Codec) DecodeCall(data []byte) (*DecodedCall, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata too short: %d bytes", len(data))
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("unknown selector %x: %w", data[:4], err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s args: %w", method.Name, err)
	}

	call := &DecodedCall{Method: method.Name}
	switch method.Name {
	case MethodAddVerifier, MethodRemoveVerifier, MethodIsVerifier:
		call.Addr = args[0].(common.Address)
	case MethodVerifyRetrofit:
		rec := *abi.ConvertType(args[0], new(abiRecord)).(*abiRecord)
		call.Record = fromABIRecord(rec)
	case MethodBatchVerify:
		recs := *abi.ConvertType(args[0], new([]abiRecord)).(*[]abiRecord)
		call.Records = make([]types.VerificationRequest, len(recs))
		for i, rec := range recs {
			call.Records[i] = fromABIRecord(rec)
		}
	case MethodGetRetrofit:
		call.ID = args[0].(string)
	case MethodListIDs:
		call.Offset = args[0].(*big.Int)
		call.Limit = args[1].(*big.Int)
	}
	return call, nil
}

// PackOutput encodes the return values of method.
func (c *Codec) PackOutput(method string, values ...interface{}) ([]byte, error) {
	m, ok := c.abi.Methods[method]
	if !ok {
		return nil, fmt.Errorf("unknown method %q", method)
	}
	out, err := m.Outputs.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s output: %w", method, err)
	}
	return out, nil
}

// PackGetRetrofitOutput encodes a stored record as the getRetrofit
// return value.
func (c *Codec) PackGetRetrofitOutput(rec StoredRecord) ([]byte, error) {
	return c.PackOutput(MethodGetRetrofit, toABIStored(rec))
}

// UnpackGetRetrofit decodes a getRetrofit call result.
func (c *Codec) UnpackGetRetrofit(data []byte) (StoredRecord, error) {
	out, err := c.abi.Unpack(MethodGetRetrofit, data)
	if err != nil {
		return StoredRecord{}, fmt.Errorf("failed to unpack %s: %w", MethodGetRetrofit, err)
	}
	rec := *abi.ConvertType(out[0], new(abiStoredRecord)).(*abiStoredRecord)
	return fromABIStored(rec), nil
}

// UnpackBool decodes a single-bool call result.
func (c *Codec) UnpackBool(method string, data []byte) (bool, error) {
	out, err := c.abi.Unpack(method, data)
	if err != nil {
		return false, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	value, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s returned %T, want bool", method, out[0])
	}
	return value, nil
}

// UnpackString decodes a single-string call result.
func (c *Codec) UnpackString(method string, data []byte) (string, error) {
	out, err := c.abi.Unpack(method, data)
	if err != nil {
		return "", fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	value, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("%s returned %T, want string", method, out[0])
	}
	return value, nil
}

// UnpackUint64 decodes a single-uint256 call result.
func (c *Codec) UnpackUint64(method string, data []byte) (uint64, error) {
	out, err := c.abi.Unpack(method, data)
	if err != nil {
		return 0, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("%s returned %T, want *big.Int", method, out[0])
	}
	return value.Uint64(), nil
}

// UnpackAddress decodes a single-address call result.
func (c *Codec) UnpackAddress(method string, data []byte) (common.Address, error) {
	out, err := c.abi.Unpack(method, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	value, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s returned %T, want address", method, out[0])
	}
	return value, nil
}

// UnpackStringSlice decodes a string[] call result.
func (c *Codec) UnpackStringSlice(method string, data []byte) ([]string, error) {
	out, err := c.abi.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	value, ok := out[0].([]string)
	if !ok {
		return nil, fmt.Errorf("%s returned %T, want []string", method, out[0])
	}
	return value, nil
}
