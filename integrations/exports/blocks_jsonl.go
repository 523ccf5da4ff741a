package exports

import (
	"bytes"
	"encoding/json"

	"votechain/ledger"
)

// BlocksJSONL builds a JSON Lines export with one block per line and returns
// the payload alongside its checksum.
func BlocksJSONL(blocks []*ledger.Block) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, block := range blocks {
		if block == nil {
			continue
		}
		payload := map[string]interface{}{
			"position":     block.Position,
			"hash":         block.Hash,
			"previousHash": block.PreviousHash,
			"timestamp":    block.Timestamp,
			"time":         formatTimestamp(block.Timestamp),
			"nonce":        block.Nonce,
			"data":         block.Data,
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}
