package exports

import (
	"bytes"
	"encoding/csv"
	"strconv"

	"votechain/ledger"
)

// BlocksCSV builds a CSV export of blocks and returns the serialised data
// alongside a SHA-256 checksum of the payload. The data column holds the
// canonical JSON that was hashed.
func BlocksCSV(blocks []*ledger.Block) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"position", "hash", "previous_hash", "timestamp", "time", "nonce", "type", "data"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, block := range blocks {
		if block == nil {
			continue
		}
		data, err := ledger.Canonicalize(block.Data)
		if err != nil {
			return nil, "", err
		}
		record := []string{
			strconv.FormatInt(block.Position, 10),
			block.Hash,
			block.PreviousHash,
			strconv.FormatInt(block.Timestamp, 10),
			formatTimestamp(block.Timestamp),
			strconv.FormatUint(block.Nonce, 10),
			eventType(block),
			string(data),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}

func eventType(block *ledger.Block) string {
	if value, ok := block.Data["type"].(string); ok {
		return value
	}
	return ""
}
