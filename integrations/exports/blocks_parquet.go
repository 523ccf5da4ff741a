package exports

import (
	"fmt"
	"io"
	"os"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"votechain/ledger"
)

type parquetBlock struct {
	Position     int64  `parquet:"name=position, type=INT64"`
	Hash         string `parquet:"name=hash, type=UTF8"`
	PreviousHash string `parquet:"name=previous_hash, type=UTF8"`
	Timestamp    int64  `parquet:"name=timestamp, type=INT64"`
	Nonce        int64  `parquet:"name=nonce, type=INT64"`
	Type         string `parquet:"name=type, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Data         string `parquet:"name=data, type=UTF8"`
}

// BlocksParquet writes blocks to path as a Snappy-compressed parquet file and
// returns the SHA-256 checksum of the written file.
func BlocksParquet(path string, blocks []*ledger.Block) (string, error) {
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("exports: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetBlock), 1)
	if err != nil {
		file.Close()
		return "", fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, block := range blocks {
		if block == nil {
			continue
		}
		data, err := ledger.Canonicalize(block.Data)
		if err != nil {
			pw.WriteStop()
			file.Close()
			return "", err
		}
		row := &parquetBlock{
			Position:     block.Position,
			Hash:         block.Hash,
			PreviousHash: block.PreviousHash,
			Timestamp:    block.Timestamp,
			Nonce:        int64(block.Nonce),
			Type:         eventType(block),
			Data:         string(data),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return "", fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return "", fmt.Errorf("exports: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("exports: close parquet file: %w", err)
	}
	return fileChecksum(path)
}

func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return "", err
	}
	return checksum(data), nil
}
