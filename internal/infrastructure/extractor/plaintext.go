package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func extractPlainText(_ context.Context, data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", errors.New("payload is not valid utf-8 text")
	}
	return string(data), nil
}

// extractJSON puts each field of a valid document on its own line.
func extractJSON(ctx context.Context, data []byte) (string, error) {
	text, err := extractPlainText(ctx, data)
	if err != nil {
		return "", err
	}
	if !json.Valid([]byte(text)) {
		return text, nil
	}
	var out bytes.Buffer
	if err := json.Indent(&out, []byte(text), "", "  "); err != nil {
		return text, nil
	}
	return out.String(), nil
}
