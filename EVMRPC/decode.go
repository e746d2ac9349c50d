package EVMRPC

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// log topic to look for: BridgeEvent(uint8,uint32,address,uint32,address,uint256,bytes,uint32)
const BRIDGE_EVENT_SIGNATURE = "0x501781209a1f8899323b96b4ef08b168df93e0a90c673d1e4cce39366cb62f9b"

const bridgeEventABI = `[{
	"type": "event",
	"name": "BridgeEvent",
	"anonymous": false,
	"inputs": [
		{"name": "leafType", "type": "uint8", "indexed": false},
		{"name": "originNetwork", "type": "uint32", "indexed": false},
		{"name": "originAddress", "type": "address", "indexed": false},
		{"name": "destinationNetwork", "type": "uint32", "indexed": false},
		{"name": "destinationAddress", "type": "address", "indexed": false},
		{"name": "amount", "type": "uint256", "indexed": false},
		{"name": "metadata", "type": "bytes", "indexed": false},
		{"name": "depositCount", "type": "uint32", "indexed": false}
	]
}]`

type LeafType uint8

const (
	LeafTypeAsset   LeafType = 0
	LeafTypeMessage LeafType = 1
)

var (
	BridgeABI = mustParseABI(bridgeEventABI)

	BridgeEventTopic = BridgeABI.Events["BridgeEvent"].ID

	assetMetadataArgs = abi.Arguments{
		{Type: mustNewType("string")},
		{Type: mustNewType("string")},
		{Type: mustNewType("uint8")},
	}
	messageMetadataArgs = abi.Arguments{
		{Type: mustNewType("uint256")},
		{Type: mustNewType("uint32")},
		{Type: mustNewType("address")},
		{Type: mustNewType("bytes")},
	}
)

// AssetMetadata travels with an asset leaf.
type AssetMetadata struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// MessageMetadata travels with a message leaf and points at its asset leaf.
type MessageMetadata struct {
	DependsOnIndex  *big.Int
	OriginalNetwork uint32
	OriginalAddress common.Address
	CallData        []byte
}

// BridgeEvent is one decoded leaf. Exactly one of the metadata pointers can be
// set, matching LeafType; both nil means the metadata was empty or malformed.
type BridgeEvent struct {
	LeafType           LeafType
	OriginNetwork      uint32
	OriginAddress      common.Address
	DestinationNetwork uint32
	DestinationAddress common.Address
	Amount             *big.Int
	DepositCount       uint32
	AssetMetadata      *AssetMetadata
	MessageMetadata    *MessageMetadata
	// set when metadata was present but could not be decoded
	MetadataErr error
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
}

// CallAddress is the address a message leaf delivers to.
func (e *BridgeEvent) CallAddress() common.Address {
	return e.DestinationAddress
}

// BridgePair is an asset leaf with the message leaf that depends on it.
type BridgePair struct {
	Asset   BridgeEvent
	Message BridgeEvent
}

type rawBridgeEvent struct {
	LeafType           uint8
	OriginNetwork      uint32
	OriginAddress      common.Address
	DestinationNetwork uint32
	DestinationAddress common.Address
	Amount             *big.Int
	Metadata           []byte
	DepositCount       uint32
}

// DecodeBridgeEvent decodes one log. A log that is not a BridgeEvent or whose
// fields do not unpack is an error; bad metadata is not, it only leaves the
// metadata absent and records MetadataErr.
func DecodeBridgeEvent(l ethtypes.Log) (BridgeEvent, error) {
	if len(l.Topics) == 0 || l.Topics[0] != BridgeEventTopic {
		return BridgeEvent{}, errors.Errorf("log %s:%d is not a bridge event", l.TxHash.Hex(), l.Index)
	}

	var raw rawBridgeEvent
	if err := BridgeABI.UnpackIntoInterface(&raw, "BridgeEvent", l.Data); err != nil {
		return BridgeEvent{}, errors.Wrapf(err, "cannot unpack bridge event %s:%d", l.TxHash.Hex(), l.Index)
	}
	if raw.LeafType != uint8(LeafTypeAsset) && raw.LeafType != uint8(LeafTypeMessage) {
		return BridgeEvent{}, errors.Errorf("unknown leaf type %d in %s:%d", raw.LeafType, l.TxHash.Hex(), l.Index)
	}

	ev := BridgeEvent{
		LeafType:           LeafType(raw.LeafType),
		OriginNetwork:      raw.OriginNetwork,
		OriginAddress:      raw.OriginAddress,
		DestinationNetwork: raw.DestinationNetwork,
		DestinationAddress: raw.DestinationAddress,
		Amount:             raw.Amount,
		DepositCount:       raw.DepositCount,
		TxHash:             l.TxHash,
		BlockNumber:        l.BlockNumber,
		LogIndex:           l.Index,
	}

	if len(raw.Metadata) > 0 {
		switch ev.LeafType {
		case LeafTypeAsset:
			ev.AssetMetadata, ev.MetadataErr = DecodeAssetMetadata(raw.Metadata)
		case LeafTypeMessage:
			ev.MessageMetadata, ev.MetadataErr = DecodeMessageMetadata(raw.Metadata)
		}
	}
	return ev, nil
}

func DecodeAssetMetadata(data []byte) (*AssetMetadata, error) {
	values, err := assetMetadataArgs.Unpack(data)
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode asset metadata")
	}
	return &AssetMetadata{
		Name:     values[0].(string),
		Symbol:   values[1].(string),
		Decimals: values[2].(uint8),
	}, nil
}

func DecodeMessageMetadata(data []byte) (*MessageMetadata, error) {
	values, err := messageMetadataArgs.Unpack(data)
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode message metadata")
	}
	return &MessageMetadata{
		DependsOnIndex:  values[0].(*big.Int),
		OriginalNetwork: values[1].(uint32),
		OriginalAddress: values[2].(common.Address),
		CallData:        values[3].([]byte),
	}, nil
}

func EncodeAssetMetadata(m AssetMetadata) ([]byte, error) {
	return assetMetadataArgs.Pack(m.Name, m.Symbol, m.Decimals)
}

func EncodeMessageMetadata(m MessageMetadata) ([]byte, error) {
	return messageMetadataArgs.Pack(m.DependsOnIndex, m.OriginalNetwork, m.OriginalAddress, m.CallData)
}

// PairEvents matches every asset leaf with the first message leaf whose
// dependsOnIndex equals the asset's depositCount + 1. Asset leaves without a
// match are dropped and returned separately so callers can log them.
func PairEvents(events []BridgeEvent) (pairs []BridgePair, unmatched []BridgeEvent) {
	messages := make([]BridgeEvent, 0, len(events))
	for _, ev := range events {
		if ev.LeafType == LeafTypeMessage && ev.MessageMetadata != nil {
			messages = append(messages, ev)
		}
	}

	for _, asset := range events {
		if asset.LeafType != LeafTypeAsset {
			continue
		}
		want := new(big.Int).SetUint64(uint64(asset.DepositCount) + 1)

		found := false
		for _, msg := range messages {
			if msg.MessageMetadata.DependsOnIndex != nil && msg.MessageMetadata.DependsOnIndex.Cmp(want) == 0 {
				pairs = append(pairs, BridgePair{Asset: asset, Message: msg})
				found = true
				break
			}
		}
		if !found {
			unmatched = append(unmatched, asset)
		}
	}
	return pairs, unmatched
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}
