package txlog

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/roach88/vgraph/internal/model"
	"github.com/roach88/vgraph/internal/props"
	"github.com/roach88/vgraph/internal/store"
)

// encodeDocument compresses a document for storage and fills in its
// digest and size.
func encodeDocument(doc model.Document) (store.DocumentRow, model.Document, error) {
	var compressed bytes.Buffer
	encoder, err := zstd.NewWriter(&compressed)
	if err != nil {
		return store.DocumentRow{}, doc, fmt.Errorf("creating zstd encoder: %w", err)
	}
	if _, err := encoder.Write(doc.Data); err != nil {
		encoder.Close()
		return store.DocumentRow{}, doc, fmt.Errorf("compressing %s: %w", doc.Name, err)
	}
	if err := encoder.Close(); err != nil {
		return store.DocumentRow{}, doc, fmt.Errorf("closing encoder: %w", err)
	}

	doc.Digest = props.Digest(doc.Data)
	doc.Size = int64(len(doc.Data))

	return store.DocumentRow{
		Name:    doc.Name,
		Format:  doc.Format,
		Blob:    compressed.Bytes(),
		Digest:  doc.Digest,
		RawSize: doc.Size,
	}, doc, nil
}

// decodeDocument decompresses a stored document and verifies its digest.
func decodeDocument(row store.DocumentRow) (model.Document, error) {
	decoder, err := zstd.NewReader(bytes.NewReader(row.Blob))
	if err != nil {
		return model.Document{}, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	data, err := io.ReadAll(decoder)
	if err != nil {
		return model.Document{}, fmt.Errorf("decompressing %s: %w", row.Name, err)
	}
	if int64(len(data)) != row.RawSize {
		return model.Document{}, fmt.Errorf("document %s: size %d, recorded %d", row.Name, len(data), row.RawSize)
	}
	if digest := props.Digest(data); digest != row.Digest {
		return model.Document{}, fmt.Errorf("document %s: digest mismatch", row.Name)
	}

	return model.Document{
		Name:   row.Name,
		Format: row.Format,
		Data:   data,
		Digest: row.Digest,
		Size:   row.RawSize,
	}, nil
}
