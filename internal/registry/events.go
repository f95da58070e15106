package registry

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/verdigrid/retroledger/internal/chain"
)

// RetrofitVerifiedLog is a decoded RetrofitVerified event.
type RetrofitVerifiedLog struct {
	RetrofitID string
	Verifier   common.Address
	Timestamp  uint64
	Raw        chain.Log
}

// BatchVerificationLog is a decoded BatchVerification summary event.
type BatchVerificationLog struct {
	Count     uint64
	Verifier  common.Address
	Timestamp uint64
	Raw       chain.Log
}

// RetrofitVerifiedID returns the topic hash of the RetrofitVerified event.
func (c *Codec) RetrofitVerifiedID() common.Hash {
	return c.abi.Events[EventRetrofitVerified].ID
}

// BatchVerificationID returns the topic hash of the BatchVerification event.
func (c *Codec) BatchVerificationID() common.Hash {
	return c.abi.Events[EventBatchVerification].ID
}

// EncodeRetrofitVerified builds the topics and data of a
// RetrofitVerified log entry.
func (c *Codec) EncodeRetrofitVerified(retrofitID string, verifier common.Address, timestamp uint64) ([]common.Hash, []byte, error) {
	ev := c.abi.Events[EventRetrofitVerified]
	data, err := ev.Inputs.NonIndexed().Pack(retrofitID, new(big.Int).SetUint64(timestamp))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to pack %s: %w", EventRetrofitVerified, err)
	}
	topics := []common.Hash{ev.ID, common.BytesToHash(verifier.Bytes())}
	return topics, data, nil
}

// EncodeBatchVerification builds the topics and data of a
// BatchVerification log entry.
func (c *Codec) EncodeBatchVerification(count uint64, verifier common.Address, timestamp uint64) ([]common.Hash, []byte, error) {
	ev := c.abi.Events[EventBatchVerification]
	data, err := ev.Inputs.NonIndexed().Pack(new(big.Int).SetUint64(count), new(big.Int).SetUint64(timestamp))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to pack %s: %w", EventBatchVerification, err)
	}
	topics := []common.Hash{ev.ID, common.BytesToHash(verifier.Bytes())}
	return topics, data, nil
}

// DecodeRetrofitVerified decodes log as a RetrofitVerified event.
func (c *Codec) DecodeRetrofitVerified(log chain.Log) (RetrofitVerifiedLog, error) {
	ev := c.abi.Events[EventRetrofitVerified]
	if len(log.Topics) < 2 || log.Topics[0] != ev.ID {
		return RetrofitVerifiedLog{}, fmt.Errorf("log is not a %s event", EventRetrofitVerified)
	}
	vals, err := ev.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return RetrofitVerifiedLog{}, fmt.Errorf("failed to unpack %s data: %w", EventRetrofitVerified, err)
	}
	retrofitID, ok := vals[0].(string)
	if !ok {
		return RetrofitVerifiedLog{}, fmt.Errorf("%s field 0 is %T, want string", EventRetrofitVerified, vals[0])
	}
	timestamp, ok := vals[1].(*big.Int)
	if !ok {
		return RetrofitVerifiedLog{}, fmt.Errorf("%s field 1 is %T, want *big.Int", EventRetrofitVerified, vals[1])
	}
	return RetrofitVerifiedLog{
		RetrofitID: retrofitID,
		Verifier:   common.BytesToAddress(log.Topics[1].Bytes()),
		Timestamp:  timestamp.Uint64(),
		Raw:        log,
	}, nil
}

// DecodeBatchVerification decodes log as a BatchVerification event.
func (c *Codec) DecodeBatchVerification(log chain.Log) (BatchVerificationLog, error) {
	ev := c.abi.Events[EventBatchVerification]
	if len(log.Topics) < 2 || log.Topics[0] != ev.ID {
		return BatchVerificationLog{}, fmt.Errorf("log is not a %s event", EventBatchVerification)
	}
	vals, err := ev.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return BatchVerificationLog{}, fmt.Errorf("failed to unpack %s data: %w", EventBatchVerification, err)
	}
	count, ok := vals[0].(*big.Int)
	if !ok {
		return BatchVerificationLog{}, fmt.Errorf("%s field 0 is %T, want *big.Int", EventBatchVerification, vals[0])
	}
	timestamp, ok := vals[1].(*big.Int)
	if !ok {
		return BatchVerificationLog{}, fmt.Errorf("%s field 1 is %T, want *big.Int", EventBatchVerification, vals[1])
	}
	return BatchVerificationLog{
		Count:     count.Uint64(),
		Verifier:  common.BytesToAddress(log.Topics[1].Bytes()),
		Timestamp: timestamp.Uint64(),
		Raw:       log,
	}, nil
}
