package domain

import (
	"bytes"
	"encoding/hex"
)

// Custom record ids carried on the terminal hop of an asset payment.
const (
	// RecordIdAssetTransfer encodes the asset id and the per-transfer script
	// key: 0x0020 marker + 32-byte asset id, then 0x0140 marker + 33-byte
	// script key.
	RecordIdAssetTransfer uint64 = 65543
	// RecordIdAssetInfo encodes the asset id plus a trailing single-byte
	// little-endian amount.
	RecordIdAssetInfo uint64 = 65536
)

var (
	assetIdMarker   = []byte{0x00, 0x20}
	scriptKeyMarker = []byte{0x01, 0x40}
)

const (
	assetIdLen   = 32
	scriptKeyLen = 33
)

// TransferInfo holds whatever asset-transfer metadata could be recovered from
// a custom record. Missing fields stay empty; extraction is best-effort and
// never fails.
type TransferInfo struct {
	AssetId   string
	ScriptKey string
	Amount    uint64
	HasAmount bool
}

// ExtractTransferInfo scans a custom record blob for asset-transfer metadata.
// Record 65543 carries asset id + script key, record 65536 carries asset id +
// trailing amount byte. Unknown record ids yield an empty TransferInfo.
func ExtractTransferInfo(recordId uint64, value []byte) TransferInfo {
	switch recordId {
	case RecordIdAssetTransfer:
		return extractAssetTransfer(value)
	case RecordIdAssetInfo:
		return extractAssetInfo(value)
	default:
		return TransferInfo{}
	}
}

func extractAssetTransfer(value []byte) TransferInfo {
	var info TransferInfo

	pos := bytes.Index(value, assetIdMarker)
	if pos < 0 {
		return info
	}
	idStart := pos + len(assetIdMarker)
	idEnd := idStart + assetIdLen
	if idEnd > len(value) {
		return info
	}
	info.AssetId = hex.EncodeToString(value[idStart:idEnd])

	// The script key marker is only meaningful after the asset id.
	keyPos := bytes.Index(value[idEnd:], scriptKeyMarker)
	if keyPos < 0 {
		return info
	}
	keyStart := idEnd + keyPos + len(scriptKeyMarker)
	keyEnd := keyStart + scriptKeyLen
	if keyEnd > len(value) {
		return info
	}
	info.ScriptKey = hex.EncodeToString(value[keyStart:keyEnd])
	return info
}

func extractAssetInfo(value []byte) TransferInfo {
	var info TransferInfo

	pos := bytes.Index(value, assetIdMarker)
	if pos < 0 {
		return info
	}
	idStart := pos + len(assetIdMarker)
	idEnd := idStart + assetIdLen
	if idEnd > len(value) {
		return info
	}
	info.AssetId = hex.EncodeToString(value[idStart:idEnd])

	if len(value) > idEnd {
		info.Amount = uint64(value[len(value)-1])
		info.HasAmount = true
	}
	return info
}
